package citysync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/publisher"
	"github.com/jmehdipour/city-sync/internal/repository"
	"go.uber.org/zap"
)

var ErrInvalidMutation = errors.New("invalid mutation")

// Publisher fans an event out to the active endpoints.
type Publisher interface {
	Publish(ctx context.Context, event model.SyncEvent) model.EventPublishResult
}

// Service is called by the City layer after a local mutation has been committed.
// Every hook stores the event before delivering it; a store failure is returned
// but delivery is still attempted, and the mutation itself is never undone.
type Service struct {
	builder *publisher.Builder
	log     repository.EventLogRepository
	pub     Publisher
}

// New constructs the sync hooks.
func New(builder *publisher.Builder, log repository.EventLogRepository, pub Publisher) *Service {
	return &Service{builder: builder, log: log, pub: pub}
}

func (s *Service) OnCreated(ctx context.Context, c model.City, triggeredBy string) (model.EventPublishResult, error) {
	return s.emit(ctx, s.builder.Created(ctx, c, triggeredBy))
}

func (s *Service) OnUpdated(ctx context.Context, before, after model.City, triggeredBy string) (model.EventPublishResult, error) {
	return s.emit(ctx, s.builder.Updated(ctx, before, after, triggeredBy))
}

func (s *Service) OnDeleted(ctx context.Context, c model.City, triggeredBy string) (model.EventPublishResult, error) {
	return s.emit(ctx, s.builder.Deleted(ctx, c, triggeredBy))
}

// OnStatusChanged emits ACTIVATED or DEACTIVATED from the new IsActive value.
func (s *Service) OnStatusChanged(ctx context.Context, c model.City, triggeredBy string) (model.EventPublishResult, error) {
	return s.emit(ctx, s.builder.StatusChanged(ctx, c, triggeredBy))
}

// Apply routes a mutation envelope to the matching hook.
func (s *Service) Apply(ctx context.Context, m model.Mutation) (model.EventPublishResult, error) {
	switch m.Op {
	case model.EventCreated:
		return s.OnCreated(ctx, m.After, m.TriggeredBy)
	case model.EventUpdated:
		if m.Before == nil {
			return model.EventPublishResult{}, fmt.Errorf("%w: update of city %d without before state", ErrInvalidMutation, m.After.ID)
		}
		return s.OnUpdated(ctx, *m.Before, m.After, m.TriggeredBy)
	case model.EventDeleted:
		return s.OnDeleted(ctx, m.After, m.TriggeredBy)
	case model.EventActivated, model.EventDeactivated:
		c := m.After
		c.IsActive = m.Op == model.EventActivated
		return s.OnStatusChanged(ctx, c, m.TriggeredBy)
	default:
		return model.EventPublishResult{}, fmt.Errorf("%w: op %q", ErrInvalidMutation, m.Op)
	}
}

func (s *Service) emit(ctx context.Context, event model.SyncEvent) (model.EventPublishResult, error) {
	var storeErr error
	err := s.log.StoreEvent(ctx, event)
	switch {
	case errors.Is(err, repository.ErrDuplicateEvent):
		// an earlier delivery of the same mutation stored it
		logger.Log.Info("event already in log, skipping publish", zap.String("event_id", event.EventID))
		return model.EventPublishResult{EventID: event.EventID, PublishedTo: []string{}, Errors: []model.EndpointError{}, Success: true}, nil
	case err != nil:
		storeErr = fmt.Errorf("store event %s: %w", event.EventID, err)
		logger.Log.Error("event log unavailable, delivering without a log entry",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType.String()),
			zap.Int64("entity_id", event.EntityID),
			zap.Error(err),
		)
	default:
		metrics.EventsStoredTotal.WithLabelValues(event.EventType.String()).Inc()
	}

	res := s.pub.Publish(ctx, event)
	return res, storeErr
}
