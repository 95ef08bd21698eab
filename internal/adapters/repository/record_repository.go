package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/database"
	"github.com/remindly/core/internal/ports"
)

// RecordRepositoryImpl implements the RecordRepository interface
type RecordRepositoryImpl struct {
	db *database.DB
}

// NewRecordRepository creates a new reminder record repository
func NewRecordRepository(db *database.DB) ports.RecordRepository {
	return &RecordRepositoryImpl{db: db}
}

func (r *RecordRepositoryImpl) Create(ctx context.Context, record *entities.ReminderRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	query := r.db.DB.Rebind(`
		INSERT INTO reminder_records (id, reminder_id, owner_id, action, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := r.db.DB.ExecContext(ctx, query,
		record.ID, record.ReminderID, record.OwnerID, record.Action, record.Version, dbTime(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("create reminder record: %w", err)
	}

	return nil
}

func (r *RecordRepositoryImpl) ListByReminder(ctx context.Context, reminderID uuid.UUID) ([]*entities.ReminderRecord, error) {
	query := r.db.DB.Rebind(`
		SELECT id, reminder_id, owner_id, action, version, created_at
		FROM reminder_records
		WHERE reminder_id = ?
		ORDER BY created_at, version`)

	var records []*entities.ReminderRecord
	if err := r.db.DB.SelectContext(ctx, &records, query, reminderID); err != nil {
		return nil, fmt.Errorf("list reminder records: %w", err)
	}
	for _, rec := range records {
		rec.CreatedAt = rec.CreatedAt.UTC()
	}

	return records, nil
}
