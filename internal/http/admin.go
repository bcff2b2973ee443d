package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/recovery"
	"github.com/jmehdipour/city-sync/internal/registry"
	"github.com/jmehdipour/city-sync/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// fail maps sentinel errors to 404 and everything else to 500.
func fail(c echo.Context, err error) error {
	if errors.Is(err, registry.ErrUnknownEndpoint) ||
		errors.Is(err, recovery.ErrEntityNotFound) ||
		errors.Is(err, repository.ErrEventNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func entityID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func statusHandler(coord *recovery.Coordinator) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := coord.GetSyncStatus(c.Request().Context())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, st)
	}
}

func syncServiceHandler(coord *recovery.Coordinator) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := coord.SyncServiceFromLog(c.Request().Context(), c.Param("name"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func resyncEntityHandler(coord *recovery.Coordinator) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := entityID(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}
		by := strings.TrimSpace(c.QueryParam("triggered_by"))

		res, err := coord.ResyncEntity(c.Request().Context(), id, by)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func syncAllHandler(coord *recovery.Coordinator) echo.HandlerFunc {
	return func(c echo.Context) error {
		out, err := coord.SyncAll(c.Request().Context())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, out)
	}
}

type historyItem struct {
	model.EventLogEntry
	Event json.RawMessage `json:"event"`
}

func historyHandler(coord *recovery.Coordinator) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := entityID(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		entries, err := coord.History(c.Request().Context(), id)
		if err != nil {
			return fail(c, err)
		}

		items := make([]historyItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, historyItem{EventLogEntry: e, Event: json.RawMessage(e.EventData)})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"entityId": id,
			"count":    len(items),
			"results":  items,
		})
	}
}

func listEndpointsHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"results": reg.List()})
	}
}

type toggleReq struct {
	IsActive *bool `json:"isActive"`
}

func toggleEndpointHandler(reg *registry.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req toggleReq
		if err := c.Bind(&req); err != nil || req.IsActive == nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "isActive is required"})
		}

		ep, err := reg.SetActive(c.Request().Context(), c.Param("name"), *req.IsActive)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, ep)
	}
}

func listAttemptsHandler(attempts repository.AttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if attempts == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "audit store disabled"})
		}

		limit := 50
		offset := 0
		var entity int64
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}
		if v := c.QueryParam("entity_id"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid entity_id"})
			}
			entity = n
		}

		rows, err := attempts.List(c.Request().Context(), entity, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
