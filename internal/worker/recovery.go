package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/model"
	"go.uber.org/zap"
)

// Syncer is satisfied by recovery.Coordinator.
type Syncer interface {
	SyncAll(ctx context.Context) (model.SyncAllResult, error)
}

// Recovery replays the event log to every endpoint on a fixed interval.
type Recovery struct {
	Syncer   Syncer
	Interval time.Duration
}

func NewRecovery(s Syncer, interval time.Duration) *Recovery {
	return &Recovery{Syncer: s, Interval: interval}
}

// Run performs one pass immediately, then one per tick, until ctx is cancelled.
func (w *Recovery) Run(ctx context.Context) error {
	if w.Syncer == nil {
		return errors.New("recovery: syncer is required")
	}
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}

	tick := time.NewTicker(w.Interval)
	defer tick.Stop()

	for {
		w.pass(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func (w *Recovery) pass(ctx context.Context) {
	out, err := w.Syncer.SyncAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Error("recovery pass failed", zap.Error(err))
		}
		return
	}
	synced := 0
	for _, r := range out.Results {
		synced += r.SyncedCount
	}
	logger.Log.Info("recovery pass",
		zap.Int("services", out.Summary.Total),
		zap.Int("failed_services", out.Summary.Failed),
		zap.Int("synced", synced),
	)
}
