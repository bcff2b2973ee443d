package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jmehdipour/city-sync/internal/clock"
	"github.com/jmehdipour/city-sync/internal/model"
)

// MemoryEventLog keeps the log in process memory. Contents do not survive a restart
// of the process.
type MemoryEventLog struct {
	mu         sync.RWMutex
	policy     RetryPolicy
	clock      clock.Clock
	nextID     int64
	entries    []*model.EventLogEntry
	byEventID  map[string]*model.EventLogEntry
	deliveries map[string]map[string]struct{}
}

func NewMemoryEventLog(policy RetryPolicy, clk clock.Clock) *MemoryEventLog {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &MemoryEventLog{
		policy:     policy.normalize(),
		clock:      clk,
		byEventID:  make(map[string]*model.EventLogEntry),
		deliveries: make(map[string]map[string]struct{}),
	}
}

var _ EventLogRepository = (*MemoryEventLog)(nil)

func (m *MemoryEventLog) StoreEvent(_ context.Context, event model.SyncEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEventID[event.EventID]; ok {
		return ErrDuplicateEvent
	}
	m.nextID++
	now := m.clock.Now().UTC()
	e := &model.EventLogEntry{
		ID:        m.nextID,
		EventID:   event.EventID,
		EventType: event.EventType,
		EntityID:  event.EntityID,
		EventData: data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.entries = append(m.entries, e)
	m.byEventID[e.EventID] = e
	return nil
}

func (m *MemoryEventLog) GetUnprocessedOrRetriable(_ context.Context, maxBatch int) ([]model.EventLogEntry, error) {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	cutoff := m.clock.Now().UTC().Add(-m.policy.Cooldown)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.EventLogEntry
	for _, e := range m.entries {
		if e.RetryCount >= m.policy.MaxRetries {
			continue
		}
		if !e.Processed || !e.UpdatedAt.After(cutoff) {
			out = append(out, copyEntry(e))
		}
	}
	// stable: ties keep creation order
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Processed != b.Processed {
			return !a.Processed
		}
		return a.Processed && a.UpdatedAt.Before(b.UpdatedAt)
	})
	if len(out) > maxBatch {
		out = out[:maxBatch]
	}
	return out, nil
}

func (m *MemoryEventLog) MarkProcessed(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byEventID[eventID]
	if !ok {
		return ErrEventNotFound
	}
	now := m.clock.Now().UTC()
	e.Processed = true
	e.ProcessedAt = &now
	e.UpdatedAt = now
	return nil
}

func (m *MemoryEventLog) Touch(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byEventID[eventID]
	if !ok {
		return ErrEventNotFound
	}
	e.UpdatedAt = m.clock.Now().UTC()
	return nil
}

func (m *MemoryEventLog) IncrementRetry(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byEventID[eventID]
	if !ok {
		return ErrEventNotFound
	}
	e.RetryCount++
	e.UpdatedAt = m.clock.Now().UTC()
	return nil
}

func (m *MemoryEventLog) GetEventsForEntity(_ context.Context, entityID int64) ([]model.EventLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.EventLogEntry
	for _, e := range m.entries {
		if e.EntityID == entityID {
			out = append(out, copyEntry(e))
		}
	}
	return out, nil
}

func (m *MemoryEventLog) Counts(_ context.Context) (model.EventLogCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c model.EventLogCounts
	for _, e := range m.entries {
		c.Total++
		if e.Processed {
			c.Processed++
		} else if e.RetryCount < m.policy.MaxRetries {
			c.Pending++
		}
		if e.RetryCount >= m.policy.MaxRetries {
			c.Failed++
		}
	}
	return c, nil
}

func (m *MemoryEventLog) RecordDelivery(_ context.Context, eventID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.deliveries[eventID]
	if !ok {
		set = make(map[string]struct{})
		m.deliveries[eventID] = set
	}
	set[endpoint] = struct{}{}
	return nil
}

func (m *MemoryEventLog) DeliveredTo(_ context.Context, eventID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.deliveries[eventID]))
	for n := range m.deliveries[eventID] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func copyEntry(e *model.EventLogEntry) model.EventLogEntry {
	c := *e
	c.EventData = append([]byte(nil), e.EventData...)
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return c
}
