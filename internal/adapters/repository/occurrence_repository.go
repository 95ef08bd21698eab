package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/database"
	"github.com/remindly/core/internal/ports"
)

const occurrenceColumns = `id, reminder_id, definition_version, owner_id, title, scheduled_at,
	delivery_status, sync_status, remote_event_id, attempts, next_attempt_at, claimed_at,
	last_error, shadow_title, shadow_time, sync_error, checked_at, delivered_at,
	acknowledged_at, archived_at, created_at, updated_at`

// OccurrenceRepositoryImpl implements the OccurrenceRepository interface.
// Every state transition is a single conditional UPDATE, so concurrent
// schedulers race on the row rather than on application locks.
type OccurrenceRepositoryImpl struct {
	db *database.DB
}

// NewOccurrenceRepository creates a new occurrence repository
func NewOccurrenceRepository(db *database.DB) ports.OccurrenceRepository {
	return &OccurrenceRepositoryImpl{db: db}
}

func (r *OccurrenceRepositoryImpl) Upsert(ctx context.Context, occurrences []*entities.Occurrence) (int, error) {
	if len(occurrences) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO occurrences (id, reminder_id, definition_version, owner_id, title, scheduled_at,
				delivery_status, sync_status, attempts, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (reminder_id, definition_version, scheduled_at) DO NOTHING`)

		for _, occ := range occurrences {
			if occ.ID == uuid.Nil {
				occ.ID = uuid.New()
			}
			res, err := tx.ExecContext(ctx, query,
				occ.ID, occ.ReminderID, occ.DefinitionVersion, occ.OwnerID, occ.Title,
				dbTime(occ.ScheduledAt), occ.DeliveryStatus, occ.SyncStatus, occ.Attempts,
				dbTime(occ.CreatedAt), dbTime(occ.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert occurrence: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert occurrence: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert occurrences: %w", err)
	}

	return inserted, nil
}

func (r *OccurrenceRepositoryImpl) Get(ctx context.Context, id uuid.UUID) (*entities.Occurrence, error) {
	query := r.db.DB.Rebind(`SELECT ` + occurrenceColumns + ` FROM occurrences WHERE id = ?`)

	var occ entities.Occurrence
	err := r.db.DB.GetContext(ctx, &occ, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrOccurrenceNotFound
		}
		return nil, fmt.Errorf("get occurrence by id: %w", err)
	}

	return normalizeOccurrence(&occ), nil
}

func (r *OccurrenceRepositoryImpl) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*entities.Occurrence, error) {
	now = dbTime(now)
	query := r.db.DB.Rebind(`
		UPDATE occurrences
		SET delivery_status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?
		WHERE id = ? AND delivery_status = ?`)

	n, err := r.exec(ctx, "claim occurrence", query,
		entities.DeliveryDelivering, now, now, id, entities.DeliveryPending)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, entities.ErrConcurrencyConflict
	}

	return r.Get(ctx, id)
}

func (r *OccurrenceRepositoryImpl) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	at = dbTime(at)
	query := r.db.DB.Rebind(`
		UPDATE occurrences
		SET delivery_status = ?, delivered_at = ?, archived_at = ?, claimed_at = NULL,
			next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND delivery_status = ?`)

	n, err := r.exec(ctx, "mark occurrence delivered", query,
		entities.DeliveryDelivered, at, at, at, id, entities.DeliveryDelivering)
	if err != nil {
		return err
	}
	return r.transitionResult(ctx, id, n)
}

func (r *OccurrenceRepositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, reason string, retryAt *time.Time, at time.Time) error {
	status := entities.DeliveryFailed
	if retryAt != nil {
		status = entities.DeliveryPending
	}

	query := r.db.DB.Rebind(`
		UPDATE occurrences
		SET delivery_status = ?, next_attempt_at = ?, last_error = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND delivery_status = ?`)

	n, err := r.exec(ctx, "mark occurrence failed", query,
		status, dbTimePtr(retryAt), reason, dbTime(at), id, entities.DeliveryDelivering)
	if err != nil {
		return err
	}
	return r.transitionResult(ctx, id, n)
}

func (r *OccurrenceRepositoryImpl) CancelFuture(ctx context.Context, reminderID uuid.UUID, asOf time.Time) (int64, error) {
	asOf = dbTime(asOf)
	query := r.db.DB.Rebind(`
		UPDATE occurrences
		SET delivery_status = ?, archived_at = ?, next_attempt_at = NULL, updated_at = ?
		WHERE reminder_id = ? AND delivery_status = ? AND scheduled_at >= ?`)

	return r.exec(ctx, "cancel future occurrences", query,
		entities.DeliveryCancelled, asOf, asOf, reminderID, entities.DeliveryPending, asOf)
}

func (r *OccurrenceRepositoryImpl) CancelSuperseded(ctx context.Context, reminderID uuid.UUID, currentVersion int, asOf time.Time) (int64, error) {
	asOf = dbTime(asOf)
	query := r.db.DB.Rebind(`
		UPDATE occurrences
		SET delivery_status = ?, archived_at = ?, next_attempt_at = NULL, updated_at = ?
		WHERE reminder_id = ? AND delivery_status = ? AND scheduled_at >= ?
			AND definition_version <> ?`)

	return r.exec(ctx, "cancel superseded occurrences", query,
		entities.DeliveryCancelled, asOf, asOf, reminderID, entities.DeliveryPending, asOf, currentVersion)
}

func (r *OccurrenceRepositoryImpl) Due(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*entities.Occurrence, error) {
	now = dbTime(now)
	query := r.db.DB.Rebind(`
		SELECT ` + occurrenceColumns + `
		FROM occurrences
		WHERE delivery_status = ?
			AND ((attempts = 0 AND scheduled_at > ? AND scheduled_at <= ?)
				OR (attempts > 0 AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?))
		ORDER BY scheduled_at, id
		LIMIT ?`)

	return r.selectOccurrences(ctx, "list due occurrences", query,
		entities.DeliveryPending, now.Add(-grace), now, now, limit)
}

func (r *OccurrenceRepositoryImpl) ExpireMissed(ctx context.Context, before time.Time, reason string) (int64, error) {
	before = dbTime(before)
	query := r.db.DB.Rebind(`
		UPDATE occurrences
		SET delivery_status = ?, last_error = ?, updated_at = ?
		WHERE delivery_status = ? AND attempts = 0 AND scheduled_at <= ?`)

	return r.exec(ctx, "expire missed occurrences", query,
		entities.DeliveryFailed, reason, before, entities.DeliveryPending, before)
}

func (r *OccurrenceRepositoryImpl) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := r.db.DB.Rebind(`
		UPDATE occurrences
		SET delivery_status = ?, next_attempt_at = claimed_at, claimed_at = NULL
		WHERE delivery_status = ? AND claimed_at < ?`)

	return r.exec(ctx, "release stale claims", query,
		entities.DeliveryPending, entities.DeliveryDelivering, dbTime(claimedBefore))
}

func (r *OccurrenceRepositoryImpl) ListUpcoming(ctx context.Context, filter ports.OccurrenceFilter) ([]*entities.Occurrence, error) {
	query := `
		SELECT ` + occurrenceColumns + `
		FROM occurrences
		WHERE owner_id = ? AND scheduled_at >= ? AND scheduled_at <= ?`
	args := []interface{}{filter.OwnerID, dbTime(filter.From), dbTime(filter.To)}

	if !filter.IncludeCancelled {
		query += " AND delivery_status <> ?"
		args = append(args, entities.DeliveryCancelled)
	}
	query += " ORDER BY scheduled_at, id"

	return r.selectOccurrences(ctx, "list upcoming occurrences", r.db.DB.Rebind(query), args...)
}

func (r *OccurrenceRepositoryImpl) Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) error {
	at = dbTime(at)
	query := r.db.DB.Rebind(`
		UPDATE occurrences
		SET acknowledged_at = ?, archived_at = COALESCE(archived_at, ?), updated_at = ?
		WHERE id = ? AND delivery_status IN (?, ?) AND acknowledged_at IS NULL`)

	n, err := r.exec(ctx, "acknowledge occurrence", query,
		at, at, at, id, entities.DeliveryDelivered, entities.DeliveryFailed)
	if err != nil {
		return err
	}
	return r.transitionResult(ctx, id, n)
}

func (r *OccurrenceRepositoryImpl) ListForSync(ctx context.Context, filter ports.SyncFilter) ([]*entities.Occurrence, error) {
	query := r.db.DB.Rebind(`
		SELECT ` + occurrenceColumns + `
		FROM occurrences
		WHERE sync_error IS NULL AND (
			(delivery_status = ? AND remote_event_id IS NOT NULL)
			OR (delivery_status <> ? AND scheduled_at >= ? AND (
				sync_status = ?
				OR (sync_status IN (?, ?) AND (checked_at IS NULL OR checked_at < ?)))))
		ORDER BY scheduled_at, id
		LIMIT ?`)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	return r.selectOccurrences(ctx, "list occurrences for sync", query,
		entities.DeliveryCancelled,
		entities.DeliveryCancelled, dbTime(filter.Now),
		entities.SyncUnsynced,
		entities.SyncSynced, entities.SyncConflict, dbTime(filter.RecheckBefore),
		limit,
	)
}

func (r *OccurrenceRepositoryImpl) UpdateSyncState(ctx context.Context, id uuid.UUID, state ports.SyncState) error {
	n, err := updateSyncState(ctx, r.db.DB, id, state)
	if err != nil {
		return err
	}
	if n == 0 {
		return entities.ErrOccurrenceNotFound
	}
	return nil
}

func updateSyncState(ctx context.Context, db sqlx.ExtContext, id uuid.UUID, state ports.SyncState) (int64, error) {
	if !state.Status.IsValid() {
		return 0, fmt.Errorf("update sync state: unknown status %q", state.Status)
	}
	checked := dbTime(state.CheckedAt)
	query := db.Rebind(`
		UPDATE occurrences
		SET sync_status = ?, shadow_title = ?, shadow_time = ?, sync_error = ?, checked_at = ?, updated_at = ?
		WHERE id = ?`)

	res, err := db.ExecContext(ctx, query,
		state.Status, state.ShadowTitle, dbTimePtr(state.ShadowTime), state.SyncError, checked, checked, id)
	if err != nil {
		return 0, fmt.Errorf("update sync state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update sync state: %w", err)
	}
	return n, nil
}

func (r *OccurrenceRepositoryImpl) exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	res, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// transitionResult maps a conditional update that touched no row to the
// right domain error.
func (r *OccurrenceRepositoryImpl) transitionResult(ctx context.Context, id uuid.UUID, affected int64) error {
	if affected > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return entities.ErrInvalidTransition
}

func (r *OccurrenceRepositoryImpl) selectOccurrences(ctx context.Context, op, query string, args ...interface{}) ([]*entities.Occurrence, error) {
	var occurrences []*entities.Occurrence
	if err := r.db.DB.SelectContext(ctx, &occurrences, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, occ := range occurrences {
		normalizeOccurrence(occ)
	}
	return occurrences, nil
}

func normalizeOccurrence(o *entities.Occurrence) *entities.Occurrence {
	o.ScheduledAt = o.ScheduledAt.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.NextAttemptAt = utcPtr(o.NextAttemptAt)
	o.ClaimedAt = utcPtr(o.ClaimedAt)
	o.ShadowTime = utcPtr(o.ShadowTime)
	o.CheckedAt = utcPtr(o.CheckedAt)
	o.DeliveredAt = utcPtr(o.DeliveredAt)
	o.AcknowledgedAt = utcPtr(o.AcknowledgedAt)
	o.ArchivedAt = utcPtr(o.ArchivedAt)
	return o
}
