// Package dispatchertest provides an in-memory dispatcher.Client for tests.
package dispatchertest

import (
	"context"
	"errors"
	"sync"

	"github.com/jmehdipour/city-sync/internal/model"
)

// DeliverFunc decides the outcome of one delivery.
type DeliverFunc func(ctx context.Context, event model.SyncEvent) error

// FakeClient routes calls by endpoint name. Endpoints without a behavior succeed.
type FakeClient struct {
	mu        sync.Mutex
	behaviors map[string]DeliverFunc
	down      map[string]bool
	calls     map[string][]string // endpoint -> event ids
	probes    map[string]int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		behaviors: map[string]DeliverFunc{},
		down:      map[string]bool{},
		calls:     map[string][]string{},
		probes:    map[string]int{},
	}
}

// On sets the behavior of endpoint.
func (f *FakeClient) On(endpoint string, fn DeliverFunc) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.behaviors[endpoint] = fn
	return f
}

// Fail makes every delivery to endpoint fail with err.
func (f *FakeClient) Fail(endpoint string, err error) *FakeClient {
	return f.On(endpoint, func(context.Context, model.SyncEvent) error { return err })
}

// Down makes probes of endpoint fail.
func (f *FakeClient) Down(endpoint string) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[endpoint] = true
	return f
}

func (f *FakeClient) Deliver(ctx context.Context, ep model.ServiceEndpoint, event model.SyncEvent) error {
	f.mu.Lock()
	f.calls[ep.Name] = append(f.calls[ep.Name], event.EventID)
	fn := f.behaviors[ep.Name]
	f.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

func (f *FakeClient) Probe(_ context.Context, ep model.ServiceEndpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes[ep.Name]++
	if f.down[ep.Name] {
		return errors.New("connection refused")
	}
	return nil
}

// Calls returns the event ids delivered (or attempted) to endpoint, in call order.
func (f *FakeClient) Calls(endpoint string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[endpoint]...)
}

func (f *FakeClient) Probes(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes[endpoint]
}
