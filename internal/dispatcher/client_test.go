package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() model.SyncEvent {
	return model.SyncEvent{
		EventID:   "01HZX0000000000000000000AA",
		EventType: model.EventCreated,
		EntityID:  42,
		Version:   1,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata: map[string]string{
			model.MetaSource:        "city-service",
			model.MetaCorrelationID: "corr-1",
		},
	}
}

func TestHTTPClient_Deliver(t *testing.T) {
	t.Run("posts body and headers to ingest path", func(t *testing.T) {
		var got model.SyncEvent
		var hdr http.Header
		var path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			hdr = r.Header.Clone()
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		c := NewHTTPClient(HTTPClientOpts{IngestPath: "/sync"})
		err := c.Deliver(context.Background(), model.ServiceEndpoint{Name: "hubs", BaseAddress: srv.URL}, testEvent())
		require.NoError(t, err)

		assert.Equal(t, "/sync", path)
		assert.Equal(t, "application/json", hdr.Get("Content-Type"))
		assert.Equal(t, "city-service", hdr.Get(HeaderEventSource))
		assert.Equal(t, "01HZX0000000000000000000AA", hdr.Get(HeaderEventID))
		assert.Equal(t, "CREATED", hdr.Get(HeaderEventType))
		assert.Equal(t, "corr-1", hdr.Get(HeaderCorrelationID))
		assert.Equal(t, int64(42), got.EntityID)
	})

	t.Run("non-2xx is a failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := NewHTTPClient(HTTPClientOpts{})
		err := c.Deliver(context.Background(), model.ServiceEndpoint{Name: "hubs", BaseAddress: srv.URL}, testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status=503")
	})

	t.Run("slow endpoint hits the delivery timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		c := NewHTTPClient(HTTPClientOpts{DeliveryTimeout: 50 * time.Millisecond})
		start := time.Now()
		err := c.Deliver(context.Background(), model.ServiceEndpoint{Name: "slow", BaseAddress: srv.URL}, testEvent())
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("connection refused is a failure", func(t *testing.T) {
		c := NewHTTPClient(HTTPClientOpts{DeliveryTimeout: time.Second})
		err := c.Deliver(context.Background(), model.ServiceEndpoint{Name: "gone", BaseAddress: "http://127.0.0.1:1"}, testEvent())
		assert.Error(t, err)
	})
}

func TestHTTPClient_Breaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ep := model.ServiceEndpoint{Name: "flaky", BaseAddress: srv.URL}
	c := NewHTTPClient(HTTPClientOpts{FailThreshold: 2, OpenFor: time.Hour})

	require.Error(t, c.Deliver(context.Background(), ep, testEvent()))
	require.Error(t, c.Deliver(context.Background(), ep, testEvent()))
	assert.Equal(t, "open", c.Circuit("flaky"))

	err := c.Deliver(context.Background(), ep, testEvent())
	assert.True(t, errors.Is(err, ErrBreakerOpen))
	assert.Equal(t, int32(2), calls.Load(), "open circuit short-circuits the call")

	assert.Equal(t, "closed", c.Circuit("other"))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBreaker(1, time.Minute)

	b.record(false, now)
	assert.Equal(t, open, b.current())
	assert.False(t, b.allow(now.Add(30*time.Second)))

	assert.True(t, b.allow(now.Add(2*time.Minute)))
	assert.Equal(t, halfOpen, b.current())
	assert.False(t, b.allow(now.Add(2*time.Minute)), "one probe at a time")

	b.record(true, now.Add(2*time.Minute))
	assert.Equal(t, closed, b.current())
	assert.True(t, b.allow(now.Add(2*time.Minute)))
}

func TestHTTPClient_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientOpts{})
	require.NoError(t, c.Probe(context.Background(), model.ServiceEndpoint{Name: "a", BaseAddress: srv.URL}))

	c = NewHTTPClient(HTTPClientOpts{HealthPath: "/missing"})
	assert.Error(t, c.Probe(context.Background(), model.ServiceEndpoint{Name: "a", BaseAddress: srv.URL}))
}
