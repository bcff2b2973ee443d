package publisher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/city-sync/internal/dispatcher"
	"github.com/jmehdipour/city-sync/internal/dispatcher/dispatchertest"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/registry"
	"github.com/jmehdipour/city-sync/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAttempts struct {
	mu   sync.Mutex
	rows []model.PublishAttempt
	err  error
}

func (f *fakeAttempts) Insert(_ context.Context, a model.PublishAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, a)
	return nil
}

func (f *fakeAttempts) List(context.Context, int64, int, int) ([]model.PublishAttempt, error) {
	return f.rows, nil
}

func newRegistry(t *testing.T, eps ...model.ServiceEndpoint) *registry.Registry {
	t.Helper()
	r, err := registry.New(eps, nil)
	require.NoError(t, err)
	return r
}

func storedEvent(t *testing.T, log repository.EventLogRepository) model.SyncEvent {
	t.Helper()
	ev := NewBuilder("city-service", nil).Created(context.Background(), testCity(), "user-1")
	require.NoError(t, log.StoreEvent(context.Background(), ev))
	return ev
}

func entryFor(t *testing.T, log repository.EventLogRepository, eventID string) model.EventLogEntry {
	t.Helper()
	entries, err := log.GetEventsForEntity(context.Background(), testCity().ID)
	require.NoError(t, err)
	for _, e := range entries {
		if e.EventID == eventID {
			return e
		}
	}
	t.Fatalf("entry %s not found", eventID)
	return model.EventLogEntry{}
}

func TestPublish_FullSuccess(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t,
		model.ServiceEndpoint{Name: "vehicle-service", IsActive: true},
		model.ServiceEndpoint{Name: "hub-service", IsActive: true},
		model.ServiceEndpoint{Name: "service-records", IsActive: true},
	)
	client := dispatchertest.NewFakeClient()
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	audit := &fakeAttempts{}
	p := New(reg, client, log, Options{MarkProcessed: true, Attempts: audit})

	ev := storedEvent(t, log)
	res := p.Publish(ctx, ev)

	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.Equal(t, ev.EventID, res.EventID)
	assert.ElementsMatch(t, []string{"vehicle-service", "hub-service", "service-records"}, res.PublishedTo)

	assert.True(t, entryFor(t, log, ev.EventID).Processed, "full success marks the entry processed")
	delivered, err := log.DeliveredTo(ctx, ev.EventID)
	require.NoError(t, err)
	assert.Len(t, delivered, 3)

	require.Len(t, audit.rows, 1)
	assert.Equal(t, PathPublish, audit.rows[0].Origin)
	assert.True(t, audit.rows[0].Success)
	assert.Empty(t, audit.rows[0].FailedTo)
}

func TestPublish_PartialFailureWithTimeout(t *testing.T) {
	ok := func() *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))
	}
	a, b := ok(), ok()
	defer a.Close()
	defer b.Close()
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer hung.Close()

	reg := newRegistry(t,
		model.ServiceEndpoint{Name: "vehicle-service", BaseAddress: a.URL, IsActive: true},
		model.ServiceEndpoint{Name: "hub-service", BaseAddress: hung.URL, IsActive: true},
		model.ServiceEndpoint{Name: "service-records", BaseAddress: b.URL, IsActive: true},
	)
	client := dispatcher.NewHTTPClient(dispatcher.HTTPClientOpts{DeliveryTimeout: 100 * time.Millisecond})
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	p := New(reg, client, log, Options{MarkProcessed: true})

	ev := storedEvent(t, log)
	start := time.Now()
	res := p.Publish(context.Background(), ev)

	assert.Less(t, time.Since(start), 2*time.Second, "one hung endpoint must not stall the fan-out")
	assert.False(t, res.Success)
	assert.Equal(t, []string{"vehicle-service", "service-records"}, res.PublishedTo)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "hub-service", res.Errors[0].Endpoint)
	assert.NotEmpty(t, res.Errors[0].Error)

	entry := entryFor(t, log, ev.EventID)
	assert.False(t, entry.Processed, "partial failure leaves the entry for recovery")
}

func TestPublish_NoFailFast(t *testing.T) {
	reg := newRegistry(t,
		model.ServiceEndpoint{Name: "always-fails", IsActive: true},
		model.ServiceEndpoint{Name: "always-works", IsActive: true},
	)
	client := dispatchertest.NewFakeClient().Fail("always-fails", errors.New("boom"))
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	p := New(reg, client, log, Options{})

	ev := storedEvent(t, log)
	res := p.Publish(context.Background(), ev)

	assert.Equal(t, []string{ev.EventID}, client.Calls("always-fails"))
	assert.Equal(t, []string{ev.EventID}, client.Calls("always-works"))
	assert.False(t, res.Success)
	assert.Equal(t, []string{"always-works"}, res.PublishedTo)
	assert.Equal(t, []model.EndpointError{{Endpoint: "always-fails", Error: "boom"}}, res.Errors)
}

func TestPublish_SkipsInactiveEndpoints(t *testing.T) {
	reg := newRegistry(t,
		model.ServiceEndpoint{Name: "vehicle-service", IsActive: true},
		model.ServiceEndpoint{Name: "parts-service", IsActive: false},
	)
	client := dispatchertest.NewFakeClient()
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	p := New(reg, client, log, Options{})

	res := p.Publish(context.Background(), storedEvent(t, log))

	assert.True(t, res.Success)
	assert.Equal(t, []string{"vehicle-service"}, res.PublishedTo)
	assert.Empty(t, client.Calls("parts-service"))
}

func TestPublish_WithoutMarkProcessedLeavesEntryForRecovery(t *testing.T) {
	reg := newRegistry(t, model.ServiceEndpoint{Name: "vehicle-service", IsActive: true})
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	p := New(reg, dispatchertest.NewFakeClient(), log, Options{MarkProcessed: false})

	ev := storedEvent(t, log)
	res := p.Publish(context.Background(), ev)
	require.True(t, res.Success)

	assert.False(t, entryFor(t, log, ev.EventID).Processed)
}

func TestPublish_NoActiveEndpoints(t *testing.T) {
	reg := newRegistry(t, model.ServiceEndpoint{Name: "parts-service", IsActive: false})
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	p := New(reg, dispatchertest.NewFakeClient(), log, Options{MarkProcessed: true})

	ev := storedEvent(t, log)
	res := p.Publish(context.Background(), ev)

	assert.True(t, res.Success)
	assert.Empty(t, res.PublishedTo)
	assert.False(t, entryFor(t, log, ev.EventID).Processed, "nothing delivered, nothing to mark")
}

func TestPublish_AuditFailureIsNotFatal(t *testing.T) {
	reg := newRegistry(t, model.ServiceEndpoint{Name: "vehicle-service", IsActive: true})
	log := repository.NewMemoryEventLog(repository.DefaultRetryPolicy(), nil)
	p := New(reg, dispatchertest.NewFakeClient(), log, Options{Attempts: &fakeAttempts{err: errors.New("clickhouse down")}})

	res := p.Publish(context.Background(), storedEvent(t, log))
	assert.True(t, res.Success)
}

func TestNewAttempt(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))
	ev := model.SyncEvent{EventID: "e1", EventType: model.EventDeleted, EntityID: 3}
	res := model.EventPublishResult{
		EventID:     "e1",
		PublishedTo: []string{"a"},
		Errors:      []model.EndpointError{{Endpoint: "b", Error: "timeout"}},
	}

	row := NewAttempt(ev, res, PathResync, at)
	assert.Equal(t, "resync", row.Origin)
	assert.Equal(t, []string{"a"}, row.PublishedTo)
	assert.Equal(t, []string{"b"}, row.FailedTo)
	assert.JSONEq(t, `[{"endpoint":"b","error":"timeout"}]`, row.Errors)
	assert.Equal(t, time.UTC, row.AttemptedAt.Location())
}
