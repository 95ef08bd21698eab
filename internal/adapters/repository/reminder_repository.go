package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/database"
	"github.com/remindly/core/internal/ports"
)

const reminderColumns = `id, owner_id, message, start_at, timezone, recurrence_kind, weekdays,
	day_of_month, end_until, end_count, active, version, materialized_through,
	source_event_id, created_at, updated_at, deleted_at`

// reminderRow is the flattened storage form of entities.Reminder
type reminderRow struct {
	ID                  uuid.UUID  `db:"id"`
	OwnerID             string     `db:"owner_id"`
	Message             string     `db:"message"`
	StartAt             time.Time  `db:"start_at"`
	Timezone            string     `db:"timezone"`
	RecurrenceKind      string     `db:"recurrence_kind"`
	Weekdays            string     `db:"weekdays"`
	DayOfMonth          int        `db:"day_of_month"`
	EndUntil            *time.Time `db:"end_until"`
	EndCount            *int       `db:"end_count"`
	Active              bool       `db:"active"`
	Version             int        `db:"version"`
	MaterializedThrough *time.Time `db:"materialized_through"`
	SourceEventID       *string    `db:"source_event_id"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	DeletedAt           *time.Time `db:"deleted_at"`
}

func toReminderRow(r *entities.Reminder) reminderRow {
	codes := make([]string, 0, len(r.Recurrence.Weekdays))
	for _, d := range r.Recurrence.Weekdays {
		codes = append(codes, entities.WeekdayCode(d))
	}
	return reminderRow{
		ID:                  r.ID,
		OwnerID:             r.OwnerID,
		Message:             r.Message,
		StartAt:             dbTime(r.StartAt),
		Timezone:            r.Timezone,
		RecurrenceKind:      string(r.Recurrence.Kind),
		Weekdays:            strings.Join(codes, ","),
		DayOfMonth:          r.Recurrence.DayOfMonth,
		EndUntil:            dbTimePtr(r.End.Until),
		EndCount:            r.End.Count,
		Active:              r.Active,
		Version:             r.Version,
		MaterializedThrough: dbTimePtr(r.MaterializedThrough),
		SourceEventID:       r.SourceEventID,
		CreatedAt:           dbTime(r.CreatedAt),
		UpdatedAt:           dbTime(r.UpdatedAt),
		DeletedAt:           dbTimePtr(r.DeletedAt),
	}
}

func (row reminderRow) toEntity() *entities.Reminder {
	var weekdays []time.Weekday
	for _, code := range strings.Split(row.Weekdays, ",") {
		if d, ok := entities.ParseWeekday(code); ok {
			weekdays = append(weekdays, d)
		}
	}
	return &entities.Reminder{
		ID:       row.ID,
		OwnerID:  row.OwnerID,
		Message:  row.Message,
		StartAt:  row.StartAt.UTC(),
		Timezone: row.Timezone,
		Recurrence: entities.Recurrence{
			Kind:       entities.RecurrenceKind(row.RecurrenceKind),
			Weekdays:   weekdays,
			DayOfMonth: row.DayOfMonth,
		},
		End: entities.EndCondition{
			Until: utcPtr(row.EndUntil),
			Count: row.EndCount,
		},
		Active:              row.Active,
		Version:             row.Version,
		MaterializedThrough: utcPtr(row.MaterializedThrough),
		SourceEventID:       row.SourceEventID,
		CreatedAt:           row.CreatedAt.UTC(),
		UpdatedAt:           row.UpdatedAt.UTC(),
		DeletedAt:           utcPtr(row.DeletedAt),
	}
}

// ReminderRepositoryImpl implements the ReminderRepository interface
type ReminderRepositoryImpl struct {
	db *database.DB
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *database.DB) ports.ReminderRepository {
	return &ReminderRepositoryImpl{db: db}
}

func (r *ReminderRepositoryImpl) Create(ctx context.Context, reminder *entities.Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	row := toReminderRow(reminder)

	query := `
		INSERT INTO reminders (id, owner_id, message, start_at, timezone, recurrence_kind, weekdays,
			day_of_month, end_until, end_count, active, version, materialized_through,
			source_event_id, created_at, updated_at, deleted_at)
		VALUES (:id, :owner_id, :message, :start_at, :timezone, :recurrence_kind, :weekdays,
			:day_of_month, :end_until, :end_count, :active, :version, :materialized_through,
			:source_event_id, :created_at, :updated_at, :deleted_at)`

	if _, err := r.db.DB.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}

	return nil
}

func (r *ReminderRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.Reminder, error) {
	query := r.db.DB.Rebind(`SELECT ` + reminderColumns + ` FROM reminders WHERE id = ?`)

	var row reminderRow
	err := r.db.DB.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrReminderNotFound
		}
		return nil, fmt.Errorf("get reminder by id: %w", err)
	}

	return row.toEntity(), nil
}

func (r *ReminderRepositoryImpl) Update(ctx context.Context, reminder *entities.Reminder, expectedVersion int) error {
	row := toReminderRow(reminder)

	query := r.db.DB.Rebind(`
		UPDATE reminders
		SET message = ?, start_at = ?, timezone = ?, recurrence_kind = ?, weekdays = ?,
			day_of_month = ?, end_until = ?, end_count = ?, active = ?, version = ?,
			materialized_through = ?, updated_at = ?, deleted_at = ?
		WHERE id = ? AND version = ?`)

	res, err := r.db.DB.ExecContext(ctx, query,
		row.Message, row.StartAt, row.Timezone, row.RecurrenceKind, row.Weekdays,
		row.DayOfMonth, row.EndUntil, row.EndCount, row.Active, row.Version,
		row.MaterializedThrough, row.UpdatedAt, row.DeletedAt,
		row.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, reminder.ID); err != nil {
			return err
		}
		return entities.ErrVersionConflict
	}

	return nil
}

func (r *ReminderRepositoryImpl) SetWatermark(ctx context.Context, id uuid.UUID, version int, through time.Time) error {
	through = dbTime(through)
	query := r.db.DB.Rebind(`
		UPDATE reminders
		SET materialized_through = ?
		WHERE id = ? AND version = ?
			AND (materialized_through IS NULL OR materialized_through < ?)`)

	res, err := r.db.DB.ExecContext(ctx, query, through, id, version, through)
	if err != nil {
		return fmt.Errorf("set reminder watermark: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set reminder watermark: %w", err)
	}
	if n == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Version != version {
			return entities.ErrVersionConflict
		}
		// Already materialized further.
	}

	return nil
}

func (r *ReminderRepositoryImpl) List(ctx context.Context, filter ports.ReminderFilter) ([]*entities.Reminder, error) {
	var conditions []string
	var args []interface{}

	if filter.OwnerID != nil {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = ?", "deleted_at IS NULL")
		args = append(args, true)
	}
	if filter.WatermarkBefore != nil {
		conditions = append(conditions, "(materialized_through IS NULL OR materialized_through < ?)")
		args = append(args, dbTime(*filter.WatermarkBefore))
	}

	query := `SELECT ` + reminderColumns + ` FROM reminders`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []reminderRow
	if err := r.db.DB.SelectContext(ctx, &rows, r.db.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	reminders := make([]*entities.Reminder, 0, len(rows))
	for _, row := range rows {
		reminders = append(reminders, row.toEntity())
	}
	return reminders, nil
}

// Store times are UTC with second precision so that equality and range
// comparisons behave the same on every driver.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func dbTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := dbTime(*t)
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
