package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/sourcegraph/conc/pool"
)

// circuitReporter is implemented by clients that track per-endpoint breakers.
type circuitReporter interface {
	Circuit(name string) string
}

// GetSyncStatus combines event log counters with a concurrent health probe of every
// registered endpoint. Probe results never fail the call.
func (c *Coordinator) GetSyncStatus(ctx context.Context) (model.SyncStatus, error) {
	counts, err := c.log.Counts(ctx)
	if err != nil {
		return model.SyncStatus{}, fmt.Errorf("count event log: %w", err)
	}

	return model.SyncStatus{
		TotalEvents:     counts.Total,
		ProcessedEvents: counts.Processed,
		PendingEvents:   counts.Pending,
		FailedEvents:    counts.Failed,
		Services:        c.probeAll(ctx),
	}, nil
}

func (c *Coordinator) probeAll(ctx context.Context) []model.ServiceHealth {
	eps := c.registry.List()
	out := make([]model.ServiceHealth, len(eps))
	if len(eps) == 0 {
		return out
	}

	cr, _ := c.client.(circuitReporter)

	p := pool.New().WithMaxGoroutines(len(eps))
	for i, ep := range eps {
		p.Go(func() {
			h := model.ServiceHealth{
				Name:       ep.Name,
				IsActive:   ep.IsActive,
				LastSyncAt: ep.LastSyncAt,
				Status:     model.HealthOnline,
			}
			start := time.Now()
			err := c.client.Probe(ctx, ep)
			h.LatencyMs = time.Since(start).Milliseconds()
			if err != nil {
				h.Status = model.HealthOffline
				h.Error = err.Error()
				metrics.EndpointUp.WithLabelValues(ep.Name).Set(0)
			} else {
				metrics.EndpointUp.WithLabelValues(ep.Name).Set(1)
			}
			if cr != nil {
				h.Circuit = cr.Circuit(ep.Name)
			}
			out[i] = h // each goroutine owns its slot
		})
	}
	p.Wait()
	return out
}
