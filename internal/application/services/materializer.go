package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/domain/recurrence"
	"github.com/remindly/core/internal/infrastructure/config"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/infrastructure/metrics"
	"github.com/remindly/core/internal/ports"
)

const defaultMaterializeBatch = 200

// Materializer turns reminder definitions into stored occurrences, moving
// each reminder's watermark forward. It never rewrites the past.
type Materializer struct {
	reminders   ports.ReminderRepository
	occurrences ports.OccurrenceRepository
	clock       Clock
	metrics     *metrics.Metrics
	logger      *logger.Logger
	horizon     time.Duration
	batchSize   int
}

// NewMaterializer creates a new materializer
func NewMaterializer(
	reminders ports.ReminderRepository,
	occurrences ports.OccurrenceRepository,
	clock Clock,
	m *metrics.Metrics,
	logger *logger.Logger,
	cfg config.MaterializerConfig,
) *Materializer {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultMaterializeBatch
	}
	return &Materializer{
		reminders:   reminders,
		occurrences: occurrences,
		clock:       clock,
		metrics:     m,
		logger:      logger.WithComponent("materializer"),
		horizon:     cfg.Horizon,
		batchSize:   batch,
	}
}

// Horizon returns how far ahead of now reminders are materialized
func (m *Materializer) Horizon() time.Duration {
	return m.horizon
}

// Materialize stores the occurrences of reminder between its watermark and
// windowEnd. Running it twice for the same window inserts nothing new.
func (m *Materializer) Materialize(ctx context.Context, reminder *entities.Reminder, windowEnd time.Time) (int, error) {
	if !reminder.Active || reminder.IsDeleted() {
		return 0, entities.ErrReminderInactive
	}

	from := reminder.StartAt
	if reminder.MaterializedThrough != nil && reminder.MaterializedThrough.After(from) {
		from = *reminder.MaterializedThrough
	}
	if windowEnd.Before(from) {
		return 0, nil
	}

	seq, err := recurrence.Occurrences(reminder, from, windowEnd)
	if err != nil {
		return 0, err
	}

	now := m.clock.Now()
	inserted := 0
	batch := make([]*entities.Occurrence, 0, m.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.occurrences.Upsert(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to store occurrences: %w", err)
		}
		inserted += n
		batch = batch[:0]
		return nil
	}

	for t := range seq {
		batch = append(batch, reminder.NewOccurrence(t, now))
		if len(batch) == m.batchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}

	if m.metrics != nil {
		m.metrics.Materialized.Add(float64(inserted))
	}

	err = m.reminders.SetWatermark(ctx, reminder.ID, reminder.Version, windowEnd)
	if errors.Is(err, entities.ErrVersionConflict) {
		// An edit landed while this version was being expanded.
		m.logger.Warnw("Reminder changed during materialization",
			"reminder_id", reminder.ID,
			"version", reminder.Version,
		)
		return inserted, m.cancelStale(ctx, reminder.ID, now)
	}
	if err != nil {
		return inserted, fmt.Errorf("failed to advance watermark: %w", err)
	}

	if inserted > 0 {
		m.logger.Debugw("Occurrences materialized",
			"reminder_id", reminder.ID,
			"version", reminder.Version,
			"count", inserted,
			"through", windowEnd,
		)
	}
	return inserted, nil
}

// cancelStale cancels whatever an outdated materialization left behind
func (m *Materializer) cancelStale(ctx context.Context, id uuid.UUID, now time.Time) error {
	current, err := m.reminders.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reload reminder: %w", err)
	}

	if !current.Active || current.IsDeleted() {
		_, err = m.occurrences.CancelFuture(ctx, id, now)
	} else {
		_, err = m.occurrences.CancelSuperseded(ctx, id, current.Version, now)
	}
	if err != nil {
		return fmt.Errorf("failed to cancel superseded occurrences: %w", err)
	}
	return nil
}

// Sweep materializes every active reminder whose watermark is behind
// now + horizon. It returns the number of occurrences inserted.
func (m *Materializer) Sweep(ctx context.Context) (int, error) {
	now := m.clock.Now()
	target := now.Add(m.horizon)

	seen := make(map[uuid.UUID]struct{})
	total, failures := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		page, err := m.reminders.List(ctx, ports.ReminderFilter{
			ActiveOnly:      true,
			WatermarkBefore: &target,
			Limit:           m.batchSize,
		})
		if err != nil {
			return total, fmt.Errorf("failed to list reminders: %w", err)
		}

		progressed := false
		for _, reminder := range page {
			if _, ok := seen[reminder.ID]; ok {
				continue
			}
			seen[reminder.ID] = struct{}{}
			progressed = true

			n, err := m.Materialize(ctx, reminder, target)
			total += n
			if err != nil {
				failures++
				m.logger.WithError(err).Errorw("Failed to materialize reminder", "reminder_id", reminder.ID)
			}
		}

		if !progressed || len(page) < m.batchSize {
			break
		}
	}

	m.logger.Infow("Materialization sweep completed",
		"reminders", len(seen),
		"inserted", total,
		"failures", failures,
		"through", target,
	)
	return total, nil
}
