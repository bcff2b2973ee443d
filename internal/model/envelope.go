package model

// Mutation is the envelope the city service publishes to Kafka (via the Debezium outbox SMT)
// after a committed local change. Before is only set for updates.
type Mutation struct {
	Op          EventType `json:"op"`
	TriggeredBy string    `json:"triggered_by"`
	Before      *City     `json:"before,omitempty"`
	After       City      `json:"after"`
}
