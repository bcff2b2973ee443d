package model

import "time"

// EventLogEntry is the persisted record wrapping a SyncEvent.
type EventLogEntry struct {
	ID          int64      `db:"id"           json:"-"`
	EventID     string     `db:"event_id"     json:"eventId"`
	EventType   EventType  `db:"event_type"   json:"eventType"`
	EntityID    int64      `db:"entity_id"    json:"entityId"`
	EventData   []byte     `db:"event_data"   json:"-"`
	CreatedAt   time.Time  `db:"created_at"   json:"createdAt"`
	Processed   bool       `db:"processed"    json:"processed"`
	ProcessedAt *time.Time `db:"processed_at" json:"processedAt,omitempty"`
	RetryCount  int        `db:"retry_count"  json:"retryCount"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updatedAt"`
}

// EventLogCounts are aggregate counters over the whole log.
type EventLogCounts struct {
	Total     int64 `db:"total"`
	Processed int64 `db:"processed"`
	Pending   int64 `db:"pending"`
	Failed    int64 `db:"failed"`
}

// PublishAttempt is the audit summary of one fan-out (publish or resync).
type PublishAttempt struct {
	EventID     string    `db:"event_id"     json:"eventId"`
	EventType   EventType `db:"event_type"   json:"eventType"`
	EntityID    int64     `db:"entity_id"    json:"entityId"`
	Origin      string    `db:"origin"       json:"origin"` // publish|resync
	PublishedTo []string  `db:"published_to" json:"publishedTo"`
	FailedTo    []string  `db:"failed_to"    json:"failedTo"`
	Errors      string    `db:"errors"       json:"errors"` // JSON of []EndpointError
	Success     bool      `db:"success"      json:"success"`
	AttemptedAt time.Time `db:"attempted_at" json:"attemptedAt"`
}
