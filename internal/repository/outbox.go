package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository writes City mutation envelopes to the outbox table.
type OutboxRepository interface {
	// InsertMutation writes a single outbox row. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	InsertMutation(ctx context.Context, tx *sqlx.Tx, topic string, m model.Mutation) error
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

// InsertMutation adds a row to outbox. Debezium Outbox SMT picks it up and publishes
// to Kafka based on the `topic` column; the relay worker consumes that topic.
func (r *OutboxRepositoryImpl) InsertMutation(ctx context.Context, tx *sqlx.Tx, topic string, m model.Mutation) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}

	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES ('city', ?, ?, ?, NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, strconv.FormatInt(m.After.ID, 10), topic, payload)

		return err
	})
}
