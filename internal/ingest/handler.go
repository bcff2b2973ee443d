// Package ingest is a reference receiver for sync events. Downstream services
// implement the same contract; this one backs local runs and contract tests.
package ingest

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/city-sync/internal/dispatcher"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	StatusApplied   = "applied"
	StatusDuplicate = "duplicate"
	StatusStale     = "stale"
)

type ingestResp struct {
	EventID   string `json:"eventId"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	Stale     bool   `json:"stale"`
}

// Register mounts the ingest and health routes on e.
func Register(e *echo.Echo, ingestPath, healthPath string, store Store) {
	e.POST(ingestPath, ingestHandler(store))
	e.GET(healthPath, func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
}

// ingestHandler accepts duplicates with 200, ignores events older than the last
// applied version with 200, and applies the rest with 202.
func ingestHandler(store Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var ev model.SyncEvent
		if err := c.Bind(&ev); err != nil {
			return reject(c, "bad request")
		}
		if strings.TrimSpace(ev.EventID) == "" || !ev.EventType.Valid() {
			return reject(c, "invalid event")
		}
		if h := c.Request().Header.Get(dispatcher.HeaderEventID); h != "" && h != ev.EventID {
			return reject(c, "event id mismatch")
		}

		ctx := c.Request().Context()
		log := logger.Log.With(
			zap.String("event_id", ev.EventID),
			zap.String("source", c.Request().Header.Get(dispatcher.HeaderEventSource)),
			zap.String("correlation_id", c.Request().Header.Get(dispatcher.HeaderCorrelationID)),
		)

		fresh, err := store.Claim(ctx, ev.EventID)
		if err != nil {
			log.Error("claim failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}
		if !fresh {
			metrics.IngestedTotal.WithLabelValues(StatusDuplicate).Inc()
			return c.JSON(http.StatusOK, ingestResp{EventID: ev.EventID, Status: StatusDuplicate, Duplicate: true})
		}

		applied, err := store.Advance(ctx, ev.EntityID, ev.Version)
		if err != nil {
			if rerr := store.Release(ctx, ev.EventID); rerr != nil {
				log.Warn("release claim failed", zap.Error(rerr))
			}
			log.Error("advance failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}
		if !applied {
			metrics.IngestedTotal.WithLabelValues(StatusStale).Inc()
			log.Info("stale event ignored", zap.Int64("entity_id", ev.EntityID), zap.Int64("version", ev.Version))
			return c.JSON(http.StatusOK, ingestResp{EventID: ev.EventID, Status: StatusStale, Stale: true})
		}

		metrics.IngestedTotal.WithLabelValues(StatusApplied).Inc()
		log.Info("event applied",
			zap.String("event_type", ev.EventType.String()),
			zap.Int64("entity_id", ev.EntityID),
			zap.Int64("version", ev.Version),
		)
		return c.JSON(http.StatusAccepted, ingestResp{EventID: ev.EventID, Status: StatusApplied})
	}
}

func reject(c echo.Context, msg string) error {
	metrics.IngestedTotal.WithLabelValues("rejected").Inc()
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
