package model

import "time"

// ServiceEndpoint is one downstream participant that receives synced events.
type ServiceEndpoint struct {
	Name        string     `json:"name"`
	BaseAddress string     `json:"baseAddress"`
	IsActive    bool       `json:"isActive"`
	RetryCount  int        `json:"retryCount,omitempty"`
	LastSyncAt  *time.Time `json:"lastSyncAt,omitempty"`
}
