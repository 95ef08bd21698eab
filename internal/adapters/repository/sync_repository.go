package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/database"
	"github.com/remindly/core/internal/ports"
)

// SyncRepositoryImpl implements the SyncRepository interface
type SyncRepositoryImpl struct {
	db *database.DB
}

// NewSyncRepository creates a new sync link repository
func NewSyncRepository(db *database.DB) ports.SyncRepository {
	return &SyncRepositoryImpl{db: db}
}

func (r *SyncRepositoryImpl) GetLink(ctx context.Context, occurrenceID uuid.UUID) (*entities.SyncLink, error) {
	query := r.db.DB.Rebind(`
		SELECT occurrence_id, remote_event_id, pushed_title, pushed_time, linked_at, imported
		FROM sync_links
		WHERE occurrence_id = ?`)

	var link entities.SyncLink
	err := r.db.DB.GetContext(ctx, &link, query, occurrenceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrSyncLinkNotFound
		}
		return nil, fmt.Errorf("get sync link: %w", err)
	}

	link.PushedTime = link.PushedTime.UTC()
	link.LinkedAt = link.LinkedAt.UTC()
	return &link, nil
}

func (r *SyncRepositoryImpl) SaveLink(ctx context.Context, link *entities.SyncLink, state ports.SyncState) error {
	return r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO sync_links (occurrence_id, remote_event_id, pushed_title, pushed_time, linked_at, imported)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (occurrence_id) DO UPDATE
			SET remote_event_id = excluded.remote_event_id,
				pushed_title = excluded.pushed_title,
				pushed_time = excluded.pushed_time,
				linked_at = excluded.linked_at,
				imported = excluded.imported`)

		if _, err := tx.ExecContext(ctx, query,
			link.OccurrenceID, link.RemoteEventID, link.PushedTitle,
			dbTime(link.PushedTime), dbTime(link.LinkedAt), link.Imported,
		); err != nil {
			return fmt.Errorf("save sync link: %w", err)
		}

		if err := setRemoteEventID(ctx, tx, link.OccurrenceID, &link.RemoteEventID); err != nil {
			return err
		}
		n, err := updateSyncState(ctx, tx, link.OccurrenceID, state)
		if err != nil {
			return err
		}
		if n == 0 {
			return entities.ErrOccurrenceNotFound
		}
		return nil
	})
}

func (r *SyncRepositoryImpl) RemoveLink(ctx context.Context, occurrenceID uuid.UUID, state ports.SyncState) error {
	return r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`DELETE FROM sync_links WHERE occurrence_id = ?`)
		if _, err := tx.ExecContext(ctx, query, occurrenceID); err != nil {
			return fmt.Errorf("remove sync link: %w", err)
		}

		if err := setRemoteEventID(ctx, tx, occurrenceID, nil); err != nil {
			return err
		}
		n, err := updateSyncState(ctx, tx, occurrenceID, state)
		if err != nil {
			return err
		}
		if n == 0 {
			return entities.ErrOccurrenceNotFound
		}
		return nil
	})
}

func setRemoteEventID(ctx context.Context, tx *sqlx.Tx, occurrenceID uuid.UUID, remoteID *string) error {
	query := tx.Rebind(`UPDATE occurrences SET remote_event_id = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, query, remoteID, occurrenceID); err != nil {
		return fmt.Errorf("set remote event id: %w", err)
	}
	return nil
}
