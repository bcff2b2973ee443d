package model

import "time"

type EndpointError struct {
	Endpoint string `json:"endpoint"`
	Error    string `json:"error"`
}

// EventPublishResult is the per-endpoint outcome of one fan-out. Not persisted.
type EventPublishResult struct {
	EventID     string          `json:"eventId"`
	PublishedTo []string        `json:"publishedTo"`
	Errors      []EndpointError `json:"errors"`
	Success     bool            `json:"success"`
}

type ReplayError struct {
	EventID string `json:"eventId"`
	Error   string `json:"error"`
}

type ServiceSyncResult struct {
	Service     string        `json:"service"`
	Success     bool          `json:"success"`
	SyncedCount int           `json:"syncedEvents"`
	Skipped     int           `json:"skippedEvents"`
	Errors      []ReplayError `json:"errors"`
}

type EndpointOutcome struct {
	Endpoint string `json:"endpoint"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

type EntityResyncResult struct {
	EntityID int64             `json:"entityId"`
	EventID  string            `json:"eventId"`
	Success  bool              `json:"success"`
	Results  []EndpointOutcome `json:"results"`
}

type SyncAllSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type SyncAllResult struct {
	Results []ServiceSyncResult `json:"results"`
	Summary SyncAllSummary      `json:"summary"`
}

type HealthState string

const (
	HealthOnline  HealthState = "online"
	HealthOffline HealthState = "offline"
)

type ServiceHealth struct {
	Name       string      `json:"name"`
	Status     HealthState `json:"status"`
	IsActive   bool        `json:"isActive"`
	LatencyMs  int64       `json:"latencyMs"`
	Error      string      `json:"error,omitempty"`
	Circuit    string      `json:"circuit,omitempty"`
	LastSyncAt *time.Time  `json:"lastSyncAt,omitempty"`
}

type SyncStatus struct {
	TotalEvents     int64           `json:"totalEvents"`
	ProcessedEvents int64           `json:"processedEvents"`
	PendingEvents   int64           `json:"pendingEvents"`
	FailedEvents    int64           `json:"failedEvents"`
	Services        []ServiceHealth `json:"services"`
}
