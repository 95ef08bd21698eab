package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/config"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/infrastructure/metrics"
	"github.com/remindly/core/internal/ports"
)

// Reconciliation outcomes
const (
	OutcomeCreated       = "created"
	OutcomeVerified      = "verified"
	OutcomeConflict      = "conflict"
	OutcomeRemoteDeleted = "remote_deleted"
	OutcomeRemoved       = "removed"
	OutcomeSkipped       = "skipped"
	OutcomeFailed        = "failed"
)

// ReconcileReport counts what one reconciliation pass did
type ReconcileReport struct {
	Candidates    int `json:"candidates"`
	Created       int `json:"created"`
	Verified      int `json:"verified"`
	Conflicts     int `json:"conflicts"`
	RemoteDeleted int `json:"remote_deleted"`
	Removed       int `json:"removed"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

func (r *ReconcileReport) add(outcome string) {
	switch outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeVerified:
		r.Verified++
	case OutcomeConflict:
		r.Conflicts++
	case OutcomeRemoteDeleted:
		r.RemoteDeleted++
	case OutcomeRemoved:
		r.Removed++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Reconciler brings the external calendar in line with stored occurrences.
// The remote side wins conflicts: user edits made in the calendar are
// pulled back into shadow fields and never overwritten.
type Reconciler struct {
	occurrences ports.OccurrenceRepository
	links       ports.SyncRepository
	calendar    ports.CalendarAdapter
	limiter     *rate.Limiter
	clock       Clock
	metrics     *metrics.Metrics
	logger      *logger.Logger
	cfg         config.SyncConfig

	newBackOff func() backoff.BackOff
}

// NewReconciler creates a new calendar reconciler
func NewReconciler(
	occurrences ports.OccurrenceRepository,
	links ports.SyncRepository,
	calendar ports.CalendarAdapter,
	clock Clock,
	m *metrics.Metrics,
	logger *logger.Logger,
	cfg config.SyncConfig,
) *Reconciler {
	if cfg.MaxCallAttempts < 1 {
		cfg.MaxCallAttempts = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Reconciler{
		occurrences: occurrences,
		links:       links,
		calendar:    calendar,
		limiter:     rate.NewLimiter(limit, burst),
		clock:       clock,
		metrics:     m,
		logger:      logger.WithComponent("reconciler"),
		cfg:         cfg,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// Reconcile runs one pass over the occurrences that need attention. A
// failure on one occurrence never stops the others.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		}
	}()

	now := r.clock.Now()
	candidates, err := r.occurrences.ListForSync(ctx, ports.SyncFilter{
		Now:           now,
		RecheckBefore: now.Add(-r.cfg.RecheckInterval),
		Limit:         r.cfg.BatchSize,
	})
	if err != nil {
		return report, fmt.Errorf("failed to load sync candidates: %w", err)
	}
	report.Candidates = len(candidates)

	for _, occ := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		itemStart := time.Now()
		op, outcome, err := r.reconcileOne(ctx, occ)
		report.add(outcome)
		if r.metrics != nil {
			r.metrics.SyncOperations.WithLabelValues(op, outcome).Inc()
		}
		r.logger.LogSyncOutcome(occ.ID.String(), outcome, time.Since(itemStart), err)
	}

	if report.Candidates > 0 {
		r.logger.Infow("Reconciliation pass completed",
			"candidates", report.Candidates,
			"created", report.Created,
			"verified", report.Verified,
			"conflicts", report.Conflicts,
			"remote_deleted", report.RemoteDeleted,
			"removed", report.Removed,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, occ *entities.Occurrence) (string, string, error) {
	link, err := r.links.GetLink(ctx, occ.ID)
	if err != nil && !errors.Is(err, entities.ErrSyncLinkNotFound) {
		return "load", OutcomeFailed, err
	}

	switch {
	case occ.DeliveryStatus == entities.DeliveryCancelled:
		outcome, err := r.removeRemote(ctx, occ, link)
		return "delete", outcome, err
	case link == nil:
		outcome, err := r.createRemote(ctx, occ)
		return "create", outcome, err
	default:
		outcome, err := r.verifyRemote(ctx, occ, link)
		return "get", outcome, err
	}
}

func (r *Reconciler) createRemote(ctx context.Context, occ *entities.Occurrence) (string, error) {
	draft := ports.EventDraft{
		Key:   occ.ID.String(),
		Title: occ.Title,
		Time:  occ.ScheduledAt,
	}

	var remoteID string
	err := r.call(ctx, "create event", func(ctx context.Context) error {
		var err error
		remoteID, err = r.calendar.CreateEvent(ctx, draft)
		return err
	})
	if err != nil {
		return r.handleCallError(ctx, occ, err)
	}

	now := r.clock.Now()
	link := &entities.SyncLink{
		OccurrenceID:  occ.ID,
		RemoteEventID: remoteID,
		PushedTitle:   draft.Title,
		PushedTime:    draft.Time,
		LinkedAt:      now,
	}
	if err := r.links.SaveLink(ctx, link, ports.SyncState{Status: entities.SyncSynced, CheckedAt: now}); err != nil {
		// The next pass recreates with the same key and gets the same event.
		return OutcomeFailed, fmt.Errorf("failed to store sync link: %w", err)
	}
	return OutcomeCreated, nil
}

func (r *Reconciler) verifyRemote(ctx context.Context, occ *entities.Occurrence, link *entities.SyncLink) (string, error) {
	var remote ports.RemoteEvent
	err := r.call(ctx, "get event", func(ctx context.Context) error {
		var err error
		remote, err = r.calendar.GetEvent(ctx, link.RemoteEventID)
		return err
	})
	if errors.Is(err, entities.ErrRemoteEventNotFound) {
		remote, err = ports.RemoteEvent{Exists: false}, nil
	}
	if err != nil {
		return r.handleCallError(ctx, occ, err)
	}

	now := r.clock.Now()

	if !remote.Exists {
		// Deleted by the user. Not recreated until they ask for a resync.
		state := ports.SyncState{Status: entities.SyncRemoteDeleted, CheckedAt: now}
		if err := r.links.RemoveLink(ctx, occ.ID, state); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to remove sync link: %w", err)
		}
		return OutcomeRemoteDeleted, nil
	}

	if remote.Title != link.PushedTitle || !remote.Time.Equal(link.PushedTime) {
		title, at := remote.Title, remote.Time.UTC()
		state := ports.SyncState{
			Status:      entities.SyncConflict,
			ShadowTitle: &title,
			ShadowTime:  &at,
			CheckedAt:   now,
		}
		if err := r.occurrences.UpdateSyncState(ctx, occ.ID, state); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to record conflict: %w", err)
		}
		return OutcomeConflict, nil
	}

	if err := r.occurrences.UpdateSyncState(ctx, occ.ID, ports.SyncState{Status: entities.SyncSynced, CheckedAt: now}); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to record sync check: %w", err)
	}
	return OutcomeVerified, nil
}

func (r *Reconciler) removeRemote(ctx context.Context, occ *entities.Occurrence, link *entities.SyncLink) (string, error) {
	// Imported events belong to the user; cancelling only detaches them.
	if link != nil && !link.Imported {
		err := r.call(ctx, "delete event", func(ctx context.Context) error {
			return r.calendar.DeleteEvent(ctx, link.RemoteEventID)
		})
		if err != nil && !errors.Is(err, entities.ErrRemoteEventNotFound) {
			return r.handleCallError(ctx, occ, err)
		}
	}

	state := ports.SyncState{Status: entities.SyncSynced, CheckedAt: r.clock.Now()}
	if err := r.links.RemoveLink(ctx, occ.ID, state); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to remove sync link: %w", err)
	}
	return OutcomeRemoved, nil
}

// handleCallError leaves transient failures for the next pass and records
// permanent ones on the occurrence.
func (r *Reconciler) handleCallError(ctx context.Context, occ *entities.Occurrence, callErr error) (string, error) {
	if !entities.IsPermanent(callErr) {
		return OutcomeSkipped, callErr
	}

	msg := callErr.Error()
	state := ports.SyncState{
		Status:      entities.SyncConflict,
		ShadowTitle: occ.ShadowTitle,
		ShadowTime:  occ.ShadowTime,
		SyncError:   &msg,
		CheckedAt:   r.clock.Now(),
	}
	if err := r.occurrences.UpdateSyncState(ctx, occ.ID, state); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to record sync error: %w (cause: %v)", err, callErr)
	}
	return OutcomeFailed, callErr
}

// call runs fn under the rate limiter and a per-call timeout, retrying
// transient failures with exponential backoff.
func (r *Reconciler) call(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(r.newBackOff(), uint64(r.cfg.MaxCallAttempts-1)),
		ctx,
	)

	return backoff.Retry(func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(entities.Transient(op, err))
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, entities.ErrRemoteEventNotFound):
			return backoff.Permanent(err)
		case entities.IsTransient(err):
			return err
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return entities.Transient(op, err)
		case entities.IsPermanent(err):
			return backoff.Permanent(err)
		default:
			// Unclassified errors are treated as transient.
			return entities.Transient(op, err)
		}
	}, b)
}
