package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/config"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/infrastructure/metrics"
	"github.com/remindly/core/internal/ports"
)

const missedReason = "missed delivery window"

// ScanReport summarizes one delivery scan
type ScanReport struct {
	Released  int64 `json:"released"`
	Expired   int64 `json:"expired"`
	Due       int   `json:"due"`
	Delivered int   `json:"delivered"`
	Retrying  int   `json:"retrying"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	// Errors counts occurrences the store could not claim; they stay pending.
	Errors int `json:"errors"`
}

// Scheduler hands due occurrences to the notifier. Several schedulers may
// scan the same store; the claim step makes sure only one delivers.
type Scheduler struct {
	occurrences ports.OccurrenceRepository
	notifier    ports.Notifier
	clock       Clock
	metrics     *metrics.Metrics
	logger      *logger.Logger
	cfg         config.SchedulerConfig
}

// NewScheduler creates a new delivery scheduler
func NewScheduler(
	occurrences ports.OccurrenceRepository,
	notifier ports.Notifier,
	clock Clock,
	m *metrics.Metrics,
	logger *logger.Logger,
	cfg config.SchedulerConfig,
) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	return &Scheduler{
		occurrences: occurrences,
		notifier:    notifier,
		clock:       clock,
		metrics:     m,
		logger:      logger.WithComponent("scheduler"),
		cfg:         cfg,
	}
}

// Scan delivers everything due at the current time
func (s *Scheduler) Scan(ctx context.Context) (ScanReport, error) {
	var report ScanReport
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ScanDuration.Observe(time.Since(start).Seconds())
		}
	}()

	now := s.clock.Now()

	if s.cfg.ClaimTimeout > 0 {
		released, err := s.occurrences.ReleaseStale(ctx, now.Add(-s.cfg.ClaimTimeout))
		if err != nil {
			return report, fmt.Errorf("failed to release stale claims: %w", err)
		}
		report.Released = released
		if released > 0 {
			s.logger.Warnw("Released stale delivery claims", "count", released)
		}
	}

	expired, err := s.occurrences.ExpireMissed(ctx, now.Add(-s.cfg.GracePeriod), missedReason)
	if err != nil {
		return report, fmt.Errorf("failed to expire missed occurrences: %w", err)
	}
	report.Expired = expired
	if expired > 0 {
		if s.metrics != nil {
			s.metrics.Deliveries.WithLabelValues(metrics.ResultExpired).Add(float64(expired))
		}
		s.logger.Warnw("Occurrences missed their delivery window", "count", expired)
	}

	due, err := s.occurrences.Due(ctx, now, s.cfg.GracePeriod, s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to load due occurrences: %w", err)
	}
	report.Due = len(due)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, occ := range due {
		g.Go(func() error {
			result := s.deliver(gctx, occ)
			if s.metrics != nil {
				s.metrics.Deliveries.WithLabelValues(result).Inc()
			}

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case metrics.ResultDelivered:
				report.Delivered++
			case metrics.ResultRetry:
				report.Retrying++
			case metrics.ResultConflict:
				report.Skipped++
			case metrics.ResultError:
				report.Errors++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if report.Due > 0 {
		s.logger.Infow("Delivery scan completed",
			"due", report.Due,
			"delivered", report.Delivered,
			"retrying", report.Retrying,
			"failed", report.Failed,
			"skipped", report.Skipped,
			"errors", report.Errors,
		)
	}
	return report, ctx.Err()
}

func (s *Scheduler) deliver(ctx context.Context, occ *entities.Occurrence) string {
	claimed, err := s.occurrences.Claim(ctx, occ.ID, s.clock.Now())
	if errors.Is(err, entities.ErrConcurrencyConflict) {
		return metrics.ResultConflict
	}
	if err != nil {
		s.logger.WithError(err).Errorw("Failed to claim occurrence",
			"occurrence_id", occ.ID,
			"result", metrics.ResultError,
		)
		return metrics.ResultError
	}

	deliverCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	deliverErr := s.notifier.Deliver(deliverCtx, claimed)
	cancel()

	// Recording the outcome must survive the scan being cancelled.
	storeCtx := context.WithoutCancel(ctx)
	now := s.clock.Now()

	if deliverErr == nil {
		if err := s.occurrences.MarkDelivered(storeCtx, claimed.ID, now); err != nil {
			s.logger.WithError(err).Errorw("Failed to record delivery", "occurrence_id", claimed.ID)
		}
		s.logger.LogDelivery(claimed.ID.String(), claimed.Attempts, metrics.ResultDelivered, nil)
		return metrics.ResultDelivered
	}

	var retryAt *time.Time
	result := metrics.ResultFailed
	if claimed.Attempts < s.cfg.MaxAttempts && !entities.IsPermanent(deliverErr) {
		at := now.Add(s.retryDelay(claimed.Attempts))
		retryAt = &at
		result = metrics.ResultRetry
	}

	if err := s.occurrences.MarkFailed(storeCtx, claimed.ID, deliverErr.Error(), retryAt, now); err != nil {
		s.logger.WithError(err).Errorw("Failed to record delivery failure", "occurrence_id", claimed.ID)
	}
	s.logger.LogDelivery(claimed.ID.String(), claimed.Attempts, result, deliverErr)
	return result
}

// retryDelay doubles the base backoff for each attempt already made
func (s *Scheduler) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 16 {
		shift = 16
	}
	return s.cfg.RetryBackoff * time.Duration(1<<shift)
}
