package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/city-sync/internal/clock"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// RetryPolicy bounds how often a log entry is handed back for replay.
type RetryPolicy struct {
	MaxRetries int
	Cooldown   time.Duration
}

// DefaultRetryPolicy: 3 retries, 5 minutes between attempts on processed entries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Cooldown: 5 * time.Minute}
}

func (p RetryPolicy) normalize() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.Cooldown < 0 {
		p.Cooldown = d.Cooldown
	}
	return p
}

// EventLogRepository is the durable, append-only record of every SyncEvent.
type EventLogRepository interface {
	// StoreEvent persists a new entry with processed=false.
	StoreEvent(ctx context.Context, event model.SyncEvent) error
	// GetUnprocessedOrRetriable returns up to maxBatch entries whose retry budget is not spent
	// and that are either unprocessed or were last touched before the cooldown window.
	// Unprocessed entries come first in creation order, then processed entries
	// least recently touched first.
	GetUnprocessedOrRetriable(ctx context.Context, maxBatch int) ([]model.EventLogEntry, error)
	MarkProcessed(ctx context.Context, eventID string) error
	// Touch stamps updated_at only, restarting the cooldown of a processed entry.
	Touch(ctx context.Context, eventID string) error
	IncrementRetry(ctx context.Context, eventID string) error
	GetEventsForEntity(ctx context.Context, entityID int64) ([]model.EventLogEntry, error)
	Counts(ctx context.Context) (model.EventLogCounts, error)

	// RecordDelivery notes that endpoint acknowledged eventID. Idempotent.
	RecordDelivery(ctx context.Context, eventID, endpoint string) error
	DeliveredTo(ctx context.Context, eventID string) ([]string, error)
}

// DecodeEvent unmarshals the stored event body.
func DecodeEvent(e model.EventLogEntry) (model.SyncEvent, error) {
	var ev model.SyncEvent
	if err := json.Unmarshal(e.EventData, &ev); err != nil {
		return model.SyncEvent{}, fmt.Errorf("decode event %s: %w", e.EventID, err)
	}
	return ev, nil
}

// EventLogRepositoryImpl is a sqlx/MySQL-backed implementation.
type EventLogRepositoryImpl struct {
	db     *sqlx.DB
	policy RetryPolicy
	clock  clock.Clock
}

func NewEventLogRepository(db *sqlx.DB, policy RetryPolicy, clk clock.Clock) *EventLogRepositoryImpl {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &EventLogRepositoryImpl{db: db, policy: policy.normalize(), clock: clk}
}

var _ EventLogRepository = (*EventLogRepositoryImpl)(nil)

const eventLogColumns = `id, event_id, event_type, entity_id, event_data, created_at,
       processed, processed_at, retry_count, updated_at`

func (r *EventLogRepositoryImpl) StoreEvent(ctx context.Context, event model.SyncEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	const q = `
		INSERT INTO sync_event_log
		    (event_id, event_type, entity_id, event_data, created_at, processed, retry_count, updated_at)
		VALUES
		    (?,        ?,          ?,         ?,          ?,          0,         0,           ?)
	`
	now := r.clock.Now().UTC()
	_, err = r.db.ExecContext(ctx, q, event.EventID, event.EventType.String(), event.EntityID, data, now, now)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return ErrDuplicateEvent
	}
	return err
}

func (r *EventLogRepositoryImpl) GetUnprocessedOrRetriable(ctx context.Context, maxBatch int) ([]model.EventLogEntry, error) {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	cutoff := r.clock.Now().UTC().Add(-r.policy.Cooldown)

	q := `
		SELECT ` + eventLogColumns + `
		  FROM sync_event_log
		 WHERE retry_count < ?
		   AND (processed = 0 OR updated_at <= ?)
		 ORDER BY processed ASC, CASE WHEN processed = 1 THEN updated_at END ASC, id ASC
		 LIMIT ?
	`
	var rows []model.EventLogEntry
	if err := r.db.SelectContext(ctx, &rows, q, r.policy.MaxRetries, cutoff, maxBatch); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EventLogRepositoryImpl) MarkProcessed(ctx context.Context, eventID string) error {
	const q = `
		UPDATE sync_event_log
		   SET processed = 1, processed_at = ?, updated_at = ?
		 WHERE event_id = ?
	`
	now := r.clock.Now().UTC()
	return r.execOne(ctx, q, now, now, eventID)
}

func (r *EventLogRepositoryImpl) Touch(ctx context.Context, eventID string) error {
	const q = `UPDATE sync_event_log SET updated_at = ? WHERE event_id = ?`
	return r.execOne(ctx, q, r.clock.Now().UTC(), eventID)
}

func (r *EventLogRepositoryImpl) IncrementRetry(ctx context.Context, eventID string) error {
	const q = `
		UPDATE sync_event_log
		   SET retry_count = retry_count + 1, updated_at = ?
		 WHERE event_id = ?
	`
	return r.execOne(ctx, q, r.clock.Now().UTC(), eventID)
}

func (r *EventLogRepositoryImpl) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *EventLogRepositoryImpl) GetEventsForEntity(ctx context.Context, entityID int64) ([]model.EventLogEntry, error) {
	q := `
		SELECT ` + eventLogColumns + `
		  FROM sync_event_log
		 WHERE entity_id = ?
		 ORDER BY id ASC
	`
	var rows []model.EventLogEntry
	if err := r.db.SelectContext(ctx, &rows, q, entityID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EventLogRepositoryImpl) Counts(ctx context.Context) (model.EventLogCounts, error) {
	const q = `
		SELECT COUNT(*)                                                AS total,
		       COALESCE(SUM(processed = 1), 0)                         AS processed,
		       COALESCE(SUM(processed = 0 AND retry_count < ?), 0)     AS pending,
		       COALESCE(SUM(retry_count >= ?), 0)                      AS failed
		  FROM sync_event_log
	`
	var c model.EventLogCounts
	err := r.db.GetContext(ctx, &c, q, r.policy.MaxRetries, r.policy.MaxRetries)
	return c, err
}

func (r *EventLogRepositoryImpl) RecordDelivery(ctx context.Context, eventID, endpoint string) error {
	const q = `
		INSERT INTO sync_event_deliveries (event_id, endpoint, delivered_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE delivered_at = VALUES(delivered_at)
	`
	_, err := r.db.ExecContext(ctx, q, eventID, endpoint, r.clock.Now().UTC())
	return err
}

func (r *EventLogRepositoryImpl) DeliveredTo(ctx context.Context, eventID string) ([]string, error) {
	var names []string
	err := r.db.SelectContext(ctx, &names,
		`SELECT endpoint FROM sync_event_deliveries WHERE event_id = ? ORDER BY endpoint`, eventID)
	return names, err
}
