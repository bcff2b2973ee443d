package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/city-sync/internal/clock"
	"github.com/jmehdipour/city-sync/internal/dispatcher"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/registry"
	"github.com/jmehdipour/city-sync/internal/repository"
	"go.uber.org/zap"
)

type Options struct {
	// MarkProcessed marks the log entry processed when every active endpoint acknowledged.
	MarkProcessed bool
	// Attempts receives one audit row per publish; nil disables the audit table.
	Attempts repository.AttemptsRepository
	Clock    clock.Clock
}

// Publisher fans events out to the active endpoints of the registry.
type Publisher struct {
	registry *registry.Registry
	client   dispatcher.Client
	log      repository.EventLogRepository
	attempts repository.AttemptsRepository
	clock    clock.Clock
	markDone bool
}

func New(reg *registry.Registry, client dispatcher.Client, log repository.EventLogRepository, opts Options) *Publisher {
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	return &Publisher{
		registry: reg,
		client:   client,
		log:      log,
		attempts: opts.Attempts,
		clock:    opts.Clock,
		markDone: opts.MarkProcessed,
	}
}

// Publish delivers event to every active endpoint and reports each outcome.
// Downstream failures are part of the result, never an error. The event must already
// be stored in the log.
func (p *Publisher) Publish(ctx context.Context, event model.SyncEvent) model.EventPublishResult {
	active := p.registry.Active()
	outcomes := FanOut(ctx, p.client, active, event, PathPublish)

	res := model.EventPublishResult{
		EventID:     event.EventID,
		PublishedTo: []string{},
		Errors:      []model.EndpointError{},
	}
	for _, o := range outcomes {
		if o.Success {
			res.PublishedTo = append(res.PublishedTo, o.Endpoint)
			continue
		}
		res.Errors = append(res.Errors, model.EndpointError{Endpoint: o.Endpoint, Error: o.Error})
	}
	res.Success = len(res.Errors) == 0

	p.record(ctx, event, res)

	if len(res.Errors) > 0 {
		logger.Log.Warn("publish partially failed",
			zap.String("event_id", event.EventID),
			zap.Int64("entity_id", event.EntityID),
			zap.Strings("published_to", res.PublishedTo),
			zap.Any("errors", res.Errors),
		)
	} else {
		logger.Log.Debug("event published",
			zap.String("event_id", event.EventID),
			zap.Strings("published_to", res.PublishedTo),
		)
	}
	return res
}

// record writes the audit trail of one attempt. Failures here are logged, not returned:
// the entry itself is already durable and recovery does the rest.
func (p *Publisher) record(ctx context.Context, event model.SyncEvent, res model.EventPublishResult) {
	for _, name := range res.PublishedTo {
		if err := p.log.RecordDelivery(ctx, event.EventID, name); err != nil {
			logger.Log.Error("record delivery failed",
				zap.String("event_id", event.EventID), zap.String("endpoint", name), zap.Error(err))
		}
	}

	if p.markDone && res.Success && len(res.PublishedTo) > 0 {
		if err := p.log.MarkProcessed(ctx, event.EventID); err != nil {
			logger.Log.Error("mark processed failed", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}

	if p.attempts == nil {
		return
	}
	if err := p.attempts.Insert(ctx, NewAttempt(event, res, PathPublish, p.clock.Now())); err != nil {
		logger.Log.Warn("audit insert failed", zap.String("event_id", event.EventID), zap.Error(err))
	}
}

// NewAttempt converts a publish result into its audit row.
func NewAttempt(event model.SyncEvent, res model.EventPublishResult, origin string, at time.Time) model.PublishAttempt {
	failed := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		failed = append(failed, e.Endpoint)
	}
	errs, _ := json.Marshal(res.Errors)

	return model.PublishAttempt{
		EventID:     event.EventID,
		EventType:   event.EventType,
		EntityID:    event.EntityID,
		Origin:      origin,
		PublishedTo: append([]string{}, res.PublishedTo...),
		FailedTo:    failed,
		Errors:      string(errs),
		Success:     res.Success,
		AttemptedAt: at.UTC(),
	}
}
