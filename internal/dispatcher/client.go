package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/jmehdipour/city-sync/internal/model"
)

// Headers sent with every delivery. Receivers use them for idempotency and tracing.
const (
	HeaderEventSource   = "X-Event-Source"
	HeaderEventID       = "X-Event-Id"
	HeaderEventType     = "X-Event-Type"
	HeaderCorrelationID = "X-Correlation-Id"
)

var ErrBreakerOpen = errors.New("circuit open")

// Client delivers events to, and probes, a single downstream endpoint per call.
type Client interface {
	Deliver(ctx context.Context, ep model.ServiceEndpoint, event model.SyncEvent) error
	Probe(ctx context.Context, ep model.ServiceEndpoint) error
}

type HTTPClientOpts struct {
	IngestPath      string        // default /api/sync/events
	HealthPath      string        // default /health
	DeliveryTimeout time.Duration // default 5s
	HealthTimeout   time.Duration // default 2s
	FailThreshold   int           // consecutive failures that open an endpoint's circuit; 0 disables
	OpenFor         time.Duration // default 15s
	Transport       http.RoundTripper
}

type HTTPClient struct {
	opts   HTTPClientOpts
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*breaker
}

func NewHTTPClient(opts HTTPClientOpts) *HTTPClient {
	if opts.IngestPath == "" {
		opts.IngestPath = "/api/sync/events"
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 2 * time.Second
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 15 * time.Second
	}

	return &HTTPClient{
		opts:     opts,
		client:   &http.Client{Transport: opts.Transport},
		breakers: make(map[string]*breaker),
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) breakerFor(name string) *breaker {
	if c.opts.FailThreshold <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[name]
	if !ok {
		b = newBreaker(c.opts.FailThreshold, c.opts.OpenFor)
		c.breakers[name] = b
	}
	return b
}

// Circuit reports the breaker state of an endpoint ("closed" when breakers are disabled).
func (c *HTTPClient) Circuit(name string) string {
	if b := c.breakerFor(name); b != nil {
		return b.current().String()
	}
	return closed.String()
}

// Deliver posts the event body to the endpoint's ingestion path within DeliveryTimeout.
// Any transport error or non-2xx status is a delivery failure.
func (c *HTTPClient) Deliver(ctx context.Context, ep model.ServiceEndpoint, event model.SyncEvent) error {
	br := c.breakerFor(ep.Name)
	if br != nil && !br.allow(time.Now()) {
		return fmt.Errorf("endpoint=%s: %w", ep.Name, ErrBreakerOpen)
	}

	start := time.Now()
	err := c.post(ctx, ep, event)
	metrics.DeliveryDuration.WithLabelValues(ep.Name).Observe(time.Since(start).Seconds())

	if br != nil {
		br.record(err == nil, time.Now())
	}
	return err
}

func (c *HTTPClient) post(ctx context.Context, ep model.ServiceEndpoint, event model.SyncEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseAddress+c.opts.IngestPath, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventSource, event.Source())
	req.Header.Set(HeaderEventID, event.EventID)
	req.Header.Set(HeaderEventType, event.EventType.String())
	req.Header.Set(HeaderCorrelationID, event.CorrelationID())

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("endpoint=%s status=%d", ep.Name, res.StatusCode)
	}

	return nil
}

// Probe issues GET on the health path within HealthTimeout. It does not touch the breaker.
func (c *HTTPClient) Probe(ctx context.Context, ep model.ServiceEndpoint) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseAddress+c.opts.HealthPath, nil)
	if err != nil {
		return err
	}

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("endpoint=%s health status=%d", ep.Name, res.StatusCode)
	}
	return nil
}
