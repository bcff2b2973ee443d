package recovery

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jmehdipour/city-sync/internal/clock"
	"github.com/jmehdipour/city-sync/internal/dispatcher"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/publisher"
	"github.com/jmehdipour/city-sync/internal/registry"
	"github.com/jmehdipour/city-sync/internal/repository"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var ErrEntityNotFound = errors.New("entity not found")

// CitySource loads the current authoritative state of a City; (nil, nil) means not found.
type CitySource interface {
	GetByID(ctx context.Context, id int64) (*model.City, error)
}

type Options struct {
	BatchSize int // default 50
	Attempts  repository.AttemptsRepository
	Clock     clock.Clock
}

// Coordinator reconciles downstream services with the event log and the authoritative store.
type Coordinator struct {
	registry  *registry.Registry
	client    dispatcher.Client
	log       repository.EventLogRepository
	cities    CitySource
	builder   *publisher.Builder
	attempts  repository.AttemptsRepository
	clock     clock.Clock
	batchSize int
}

func New(
	reg *registry.Registry,
	client dispatcher.Client,
	log repository.EventLogRepository,
	cities CitySource,
	builder *publisher.Builder,
	opts Options,
) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	return &Coordinator{
		registry:  reg,
		client:    client,
		log:       log,
		cities:    cities,
		builder:   builder,
		attempts:  opts.Attempts,
		clock:     opts.Clock,
		batchSize: opts.BatchSize,
	}
}

// SyncServiceFromLog replays the pending batch against one endpoint, active or not.
// A failing entry is recorded and the pass continues; only store errors on the initial
// scan and unknown names are returned as errors.
func (c *Coordinator) SyncServiceFromLog(ctx context.Context, name string) (model.ServiceSyncResult, error) {
	ep, err := c.registry.Get(name)
	if err != nil {
		return model.ServiceSyncResult{}, err
	}

	entries, err := c.log.GetUnprocessedOrRetriable(ctx, c.batchSize)
	if err != nil {
		return model.ServiceSyncResult{}, fmt.Errorf("scan event log: %w", err)
	}

	return c.syncService(ctx, ep, entries), nil
}

func (c *Coordinator) syncService(ctx context.Context, ep model.ServiceEndpoint, entries []model.EventLogEntry) model.ServiceSyncResult {
	res := model.ServiceSyncResult{Service: ep.Name, Errors: []model.ReplayError{}}
	for _, entry := range entries {
		if c.alreadyDelivered(ctx, entry.EventID, ep.Name) {
			res.Skipped++
			metrics.DeliveriesTotal.WithLabelValues(ep.Name, publisher.PathReplay, "skipped").Inc()
			if entry.Processed {
				c.touch(ctx, entry.EventID)
			} else {
				c.markProcessed(ctx, entry.EventID)
			}
			continue
		}

		if err := c.replay(ctx, ep, entry); err != nil {
			res.Errors = append(res.Errors, model.ReplayError{EventID: entry.EventID, Error: err.Error()})
			metrics.DeliveriesTotal.WithLabelValues(ep.Name, publisher.PathReplay, "failed").Inc()
			if rerr := c.log.IncrementRetry(ctx, entry.EventID); rerr != nil {
				logger.Log.Error("increment retry failed", zap.String("event_id", entry.EventID), zap.Error(rerr))
			}
			continue
		}

		res.SyncedCount++
		metrics.DeliveriesTotal.WithLabelValues(ep.Name, publisher.PathReplay, "ok").Inc()
		c.markProcessed(ctx, entry.EventID)
		if derr := c.log.RecordDelivery(ctx, entry.EventID, ep.Name); derr != nil {
			logger.Log.Error("record delivery failed", zap.String("event_id", entry.EventID), zap.Error(derr))
		}
	}
	res.Success = len(res.Errors) == 0

	if res.Success {
		c.registry.MarkSynced(ctx, ep.Name, c.clock.Now().UTC())
	} else {
		c.registry.MarkFailed(ep.Name)
	}

	logger.Log.Info("service sync pass",
		zap.String("endpoint", ep.Name),
		zap.Int("batch", len(entries)),
		zap.Int("synced", res.SyncedCount),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Errors)),
	)
	return res
}

func (c *Coordinator) replay(ctx context.Context, ep model.ServiceEndpoint, entry model.EventLogEntry) error {
	event, err := repository.DecodeEvent(entry)
	if err != nil {
		return err
	}
	return c.client.Deliver(ctx, ep, event)
}

func (c *Coordinator) alreadyDelivered(ctx context.Context, eventID, endpoint string) bool {
	names, err := c.log.DeliveredTo(ctx, eventID)
	if err != nil {
		// unknown means deliver again; receivers accept duplicates
		logger.Log.Warn("delivery ledger lookup failed", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return slices.Contains(names, endpoint)
}

// touch moves a skipped entry behind the rest of the retriable backlog.
func (c *Coordinator) touch(ctx context.Context, eventID string) {
	if err := c.log.Touch(ctx, eventID); err != nil {
		logger.Log.Error("touch entry failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (c *Coordinator) markProcessed(ctx context.Context, eventID string) {
	if err := c.log.MarkProcessed(ctx, eventID); err != nil {
		logger.Log.Error("mark processed failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

// ResyncEntity pushes the current state of a City to every registered endpoint,
// ignoring the active flag. The event is built out-of-band and not stored in the log.
func (c *Coordinator) ResyncEntity(ctx context.Context, entityID int64, triggeredBy string) (model.EntityResyncResult, error) {
	city, err := c.cities.GetByID(ctx, entityID)
	if err != nil {
		return model.EntityResyncResult{}, fmt.Errorf("load city %d: %w", entityID, err)
	}
	if city == nil {
		return model.EntityResyncResult{}, fmt.Errorf("%w: city %d", ErrEntityNotFound, entityID)
	}

	event := c.builder.Resync(ctx, *city, triggeredBy)
	outcomes := publisher.FanOut(ctx, c.client, c.registry.List(), event, publisher.PathResync)

	res := model.EntityResyncResult{
		EntityID: entityID,
		EventID:  event.EventID,
		Success:  true,
		Results:  outcomes,
	}
	pub := model.EventPublishResult{EventID: event.EventID, PublishedTo: []string{}, Errors: []model.EndpointError{}}
	now := c.clock.Now().UTC()
	for _, o := range outcomes {
		if o.Success {
			c.registry.MarkSynced(ctx, o.Endpoint, now)
			pub.PublishedTo = append(pub.PublishedTo, o.Endpoint)
			continue
		}
		res.Success = false
		c.registry.MarkFailed(o.Endpoint)
		pub.Errors = append(pub.Errors, model.EndpointError{Endpoint: o.Endpoint, Error: o.Error})
	}
	if res.Results == nil {
		res.Results = []model.EndpointOutcome{}
	}
	pub.Success = res.Success

	if c.attempts != nil {
		if err := c.attempts.Insert(ctx, publisher.NewAttempt(event, pub, publisher.PathResync, now)); err != nil {
			logger.Log.Warn("audit insert failed", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}

	logger.Log.Info("entity resync",
		zap.Int64("entity_id", entityID),
		zap.String("event_id", event.EventID),
		zap.Bool("success", res.Success),
		zap.Strings("published_to", pub.PublishedTo),
	)
	return res, nil
}

// SyncAll replays one scanned batch to every registered endpoint concurrently.
// All endpoints see the same batch, so an entry marked processed by one of them
// is still offered to the others in this pass.
func (c *Coordinator) SyncAll(ctx context.Context) (model.SyncAllResult, error) {
	eps := c.registry.List()
	out := model.SyncAllResult{Results: []model.ServiceSyncResult{}}
	if len(eps) == 0 {
		return out, nil
	}

	entries, err := c.log.GetUnprocessedOrRetriable(ctx, c.batchSize)
	if err != nil {
		return out, fmt.Errorf("scan event log: %w", err)
	}

	p := pool.NewWithResults[model.ServiceSyncResult]().WithMaxGoroutines(len(eps))
	for _, ep := range eps {
		p.Go(func() model.ServiceSyncResult {
			return c.syncService(ctx, ep, entries)
		})
	}

	byName := make(map[string]model.ServiceSyncResult, len(eps))
	for _, r := range p.Wait() {
		byName[r.Service] = r
	}
	for _, ep := range eps {
		r := byName[ep.Name]
		out.Results = append(out.Results, r)
		out.Summary.Total++
		if r.Success {
			out.Summary.Successful++
		} else {
			out.Summary.Failed++
		}
	}
	return out, nil
}

// History returns the stored events of one entity in creation order.
func (c *Coordinator) History(ctx context.Context, entityID int64) ([]model.EventLogEntry, error) {
	return c.log.GetEventsForEntity(ctx, entityID)
}
