package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// AttemptsRepository stores one audit row per fan-out in ClickHouse.
type AttemptsRepository interface {
	Insert(ctx context.Context, a model.PublishAttempt) error
	List(ctx context.Context, entityID int64, limit, offset int) ([]model.PublishAttempt, error)
}

type chAttemptsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptsRepository(ch *sqlx.DB) AttemptsRepository {
	return &chAttemptsRepository{ch: ch}
}

func (r *chAttemptsRepository) Insert(ctx context.Context, a model.PublishAttempt) error {
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO citysync.publish_attempts
		    (event_id, event_type, entity_id, origin, published_to, failed_to, errors, success, attempted_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare attempt insert: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx,
		a.EventID, a.EventType.String(), a.EntityID, a.Origin,
		a.PublishedTo, a.FailedTo, a.Errors, a.Success, a.AttemptedAt,
	); err != nil {
		return fmt.Errorf("exec attempt insert: %w", err)
	}
	return tx.Commit()
}

// List returns the newest attempts first; entityID 0 lists every entity.
func (r *chAttemptsRepository) List(ctx context.Context, entityID int64, limit, offset int) ([]model.PublishAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT event_id, event_type, entity_id, origin, published_to, failed_to, errors, success, attempted_at
		FROM citysync.publish_attempts
	`
	var args []any
	if entityID > 0 {
		q += " WHERE entity_id = ?"
		args = append(args, entityID)
	}

	q += " ORDER BY attempted_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.PublishAttempt
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
