package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/city-sync/internal/config"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/repository"
	"go.uber.org/zap"
)

var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Registry is the set of downstream services. Reads return copies taken under the lock,
// so a fan-out sees the endpoint set either before or after a concurrent toggle.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*model.ServiceEndpoint
	order     []string
	state     repository.EndpointStateRepository // optional
}

// New builds a registry from endpoints. state may be nil for a process-local registry.
func New(endpoints []model.ServiceEndpoint, state repository.EndpointStateRepository) (*Registry, error) {
	r := &Registry{
		endpoints: make(map[string]*model.ServiceEndpoint, len(endpoints)),
		state:     state,
	}
	for _, ep := range endpoints {
		name := strings.TrimSpace(ep.Name)
		if name == "" {
			return nil, fmt.Errorf("endpoint with empty name")
		}
		if _, dup := r.endpoints[name]; dup {
			return nil, fmt.Errorf("duplicate endpoint %q", name)
		}
		ep.Name = name
		ep.BaseAddress = strings.TrimRight(strings.TrimSpace(ep.BaseAddress), "/")
		cp := ep
		r.endpoints[name] = &cp
		r.order = append(r.order, name)
	}
	return r, nil
}

// FromConfig converts the config endpoint list.
func FromConfig(cfgs []config.EndpointConfig, state repository.EndpointStateRepository) (*Registry, error) {
	eps := make([]model.ServiceEndpoint, 0, len(cfgs))
	for _, c := range cfgs {
		eps = append(eps, model.ServiceEndpoint{Name: c.Name, BaseAddress: c.BaseURL, IsActive: c.Active})
	}
	return New(eps, state)
}

// Load applies persisted active flags and sync timestamps over the configured defaults.
// Names the store knows but the config does not are ignored.
func (r *Registry) Load(ctx context.Context) error {
	if r.state == nil {
		return nil
	}
	active, err := r.state.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load endpoint flags: %w", err)
	}
	synced, err := r.state.LoadLastSync(ctx)
	if err != nil {
		return fmt.Errorf("load endpoint sync times: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, ep := range r.endpoints {
		if v, ok := active[name]; ok {
			ep.IsActive = v
		}
		if at, ok := synced[name]; ok {
			t := at
			ep.LastSyncAt = &t
		}
	}
	return nil
}

// List returns every registered endpoint in registration order.
func (r *Registry) List() []model.ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ServiceEndpoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, copyEndpoint(r.endpoints[name]))
	}
	return out
}

// Active returns the endpoints with IsActive set.
func (r *Registry) Active() []model.ServiceEndpoint {
	all := r.List()
	out := all[:0]
	for _, ep := range all {
		if ep.IsActive {
			out = append(out, ep)
		}
	}
	return out
}

func (r *Registry) Get(name string) (model.ServiceEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[name]
	if !ok {
		return model.ServiceEndpoint{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}
	return copyEndpoint(ep), nil
}

// SetActive toggles an endpoint. The persisted flag is written first so a failed write
// leaves the in-memory value unchanged.
func (r *Registry) SetActive(ctx context.Context, name string, active bool) (model.ServiceEndpoint, error) {
	if _, err := r.Get(name); err != nil {
		return model.ServiceEndpoint{}, err
	}
	if r.state != nil {
		if err := r.state.SetActive(ctx, name, active); err != nil {
			return model.ServiceEndpoint{}, fmt.Errorf("persist endpoint flag: %w", err)
		}
	}

	r.mu.Lock()
	ep := r.endpoints[name]
	ep.IsActive = active
	out := copyEndpoint(ep)
	r.mu.Unlock()

	logger.Log.Info("endpoint toggled", zap.String("endpoint", name), zap.Bool("active", active))
	return out, nil
}

// MarkSynced stamps LastSyncAt and resets the endpoint's failure counter.
func (r *Registry) MarkSynced(ctx context.Context, name string, at time.Time) {
	r.mu.Lock()
	ep, ok := r.endpoints[name]
	if ok {
		t := at
		ep.LastSyncAt = &t
		ep.RetryCount = 0
	}
	r.mu.Unlock()
	if !ok || r.state == nil {
		return
	}
	if err := r.state.SetLastSync(ctx, name, at); err != nil {
		logger.Log.Warn("persist last sync failed", zap.String("endpoint", name), zap.Error(err))
	}
}

// MarkFailed bumps the endpoint's failure counter.
func (r *Registry) MarkFailed(name string) {
	r.mu.Lock()
	if ep, ok := r.endpoints[name]; ok {
		ep.RetryCount++
	}
	r.mu.Unlock()
}

// Names returns the sorted endpoint names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

func copyEndpoint(ep *model.ServiceEndpoint) model.ServiceEndpoint {
	c := *ep
	if ep.LastSyncAt != nil {
		t := *ep.LastSyncAt
		c.LastSyncAt = &t
	}
	return c
}
