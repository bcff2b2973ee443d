package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jmehdipour/city-sync/internal/kafka"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/publisher"
	"go.uber.org/zap"
)

// Fetcher is the part of kafka.Consumer the relay needs.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Applier runs the sync hooks for one mutation.
type Applier interface {
	Apply(ctx context.Context, m model.Mutation) (model.EventPublishResult, error)
}

// Relay:
// - fetches City mutation envelopes from Kafka,
// - routes them to processors by message key so one City is handled in order,
// - stores and publishes the sync event, then commits.
type Relay struct {
	Consumer Fetcher
	Hooks    Applier
	Workers  int // number of processors
}

func NewRelay(consumer Fetcher, hooks Applier) *Relay {
	return &Relay{Consumer: consumer, Hooks: hooks, Workers: 4}
}

// Run blocks until ctx is cancelled and every processor has drained.
func (w *Relay) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Hooks == nil {
		return errors.New("relay: consumer and hooks are required")
	}
	if w.Workers <= 0 {
		w.Workers = 4
	}

	lanes := make([]chan kafka.Message, w.Workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 16)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				w.processOne(ctx, m)
			}
		}(lanes[i])
	}

	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		select {
		case lanes[laneOf(m.Key, len(lanes))] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func laneOf(key []byte, n int) int {
	if len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}

func (w *Relay) processOne(ctx context.Context, m kafka.Message) {
	mut, err := kafka.DecodeMutation(m)
	if err != nil {
		// poison: commit and skip
		logger.Log.Error("bad mutation envelope",
			zap.Int64("offset", m.Offset), zap.Int("partition", m.Partition), zap.Error(err))
		w.commit(ctx, m)
		return
	}

	res, err := w.Hooks.Apply(publisher.WithEventID(ctx, kafka.EventID(m)), mut)
	if err != nil {
		logger.Log.Error("apply mutation failed",
			zap.Int64("city_id", mut.After.ID), zap.String("op", mut.Op.String()), zap.Error(err))
	} else if !res.Success {
		logger.Log.Info("mutation left for recovery",
			zap.String("event_id", res.EventID), zap.Int("failed_endpoints", len(res.Errors)))
	}

	// at-least-once: a redelivery rebuilds the same event id
	w.commit(ctx, m)
}

func (w *Relay) commit(ctx context.Context, m kafka.Message) {
	if err := w.Consumer.Commit(ctx, m); err != nil {
		logger.Log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}
