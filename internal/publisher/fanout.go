package publisher

import (
	"context"

	"github.com/jmehdipour/city-sync/internal/dispatcher"
	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/sourcegraph/conc/pool"
)

// Delivery paths used as metric labels.
const (
	PathPublish = "publish"
	PathReplay  = "replay"
	PathResync  = "resync"
)

// FanOut delivers event to every endpoint concurrently and waits for all of them.
// A failing endpoint never cancels or shortens the others; outcomes keep the order of eps.
func FanOut(ctx context.Context, client dispatcher.Client, eps []model.ServiceEndpoint, event model.SyncEvent, path string) []model.EndpointOutcome {
	if len(eps) == 0 {
		return nil
	}

	type indexed struct {
		idx int
		out model.EndpointOutcome
	}

	p := pool.NewWithResults[indexed]().WithMaxGoroutines(len(eps))
	for i, ep := range eps {
		p.Go(func() indexed {
			err := client.Deliver(ctx, ep, event)
			if err != nil {
				metrics.DeliveriesTotal.WithLabelValues(ep.Name, path, "failed").Inc()
				return indexed{idx: i, out: model.EndpointOutcome{Endpoint: ep.Name, Error: err.Error()}}
			}
			metrics.DeliveriesTotal.WithLabelValues(ep.Name, path, "ok").Inc()
			return indexed{idx: i, out: model.EndpointOutcome{Endpoint: ep.Name, Success: true}}
		})
	}

	outcomes := make([]model.EndpointOutcome, len(eps))
	for _, r := range p.Wait() {
		outcomes[r.idx] = r.out
	}
	return outcomes
}
