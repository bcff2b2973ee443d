package model

import (
	"strings"
	"time"
)

type EventType string

const (
	EventCreated     EventType = "CREATED"
	EventUpdated     EventType = "UPDATED"
	EventDeleted     EventType = "DELETED"
	EventActivated   EventType = "ACTIVATED"
	EventDeactivated EventType = "DEACTIVATED"
)

func (t EventType) String() string { return string(t) }

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventUpdated, EventDeleted, EventActivated, EventDeactivated:
		return true
	default:
		return false
	}
}

// ParseEventType normalizes input. Returns (value, true) if valid.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Metadata keys that every event carries.
const (
	MetaSource        = "source"
	MetaCorrelationID = "correlationId"
)

// TriggeredBySystem marks events not caused by a user action.
const TriggeredBySystem = "system"

// SyncEvent is the unit of propagation. It is never edited after Build*; corrections are new events.
type SyncEvent struct {
	EventID       string            `json:"eventId"`
	EventType     EventType         `json:"eventType"`
	EntityID      int64             `json:"entityId"`
	EventSequence int64             `json:"eventSequence"`
	Version       int64             `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	TriggeredBy   string            `json:"triggeredBy"`
	Metadata      map[string]string `json:"metadata"`
	Payload       EventPayload      `json:"payload"`
}

func (e SyncEvent) Source() string        { return e.Metadata[MetaSource] }
func (e SyncEvent) CorrelationID() string { return e.Metadata[MetaCorrelationID] }

// EventPayload holds the entity snapshot. Key carries the minimal identifying fields
// for DELETED and status events; City is set for CREATED/UPDATED; Changes only for UPDATED.
type EventPayload struct {
	City    *City         `json:"city,omitempty"`
	Key     *CityKey      `json:"key,omitempty"`
	Changes []FieldChange `json:"changes,omitempty"`
}

type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}
