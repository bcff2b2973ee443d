package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/city-sync/internal/http/middleware"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/jmehdipour/city-sync/internal/publisher"
	"github.com/jmehdipour/city-sync/internal/recovery"
	"github.com/jmehdipour/city-sync/internal/registry"
	"github.com/jmehdipour/city-sync/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators of the admin server. Attempts and Redis are optional.
type Deps struct {
	Coordinator *recovery.Coordinator
	Registry    *registry.Registry
	Attempts    repository.AttemptsRepository
	Redis       *redis.Client
	RecoveryRPS int
	KeyPrefix   string
	LogLevel    string
}

type Server struct{ e *echo.Echo }

func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(d.LogLevel))
	e.Use(echoMid.Recover(), echoMid.Logger(), correlationMiddleware)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            d.RecoveryRPS,
		KeyPrefix:      d.KeyPrefix + "rl:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1/sync")
	v1.GET("/status", statusHandler(d.Coordinator))
	v1.POST("/services/:name", syncServiceHandler(d.Coordinator), rlMW)
	v1.POST("/entities/:id", resyncEntityHandler(d.Coordinator), rlMW)
	v1.POST("/all", syncAllHandler(d.Coordinator), rlMW)
	v1.GET("/entities/:id/events", historyHandler(d.Coordinator))
	v1.GET("/endpoints", listEndpointsHandler(d.Registry))
	v1.PATCH("/endpoints/:name", toggleEndpointHandler(d.Registry))
	v1.GET("/attempts", listAttemptsHandler(d.Attempts))

	return &Server{e: e}
}

// correlationMiddleware carries X-Correlation-Id into events built during the request.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := strings.TrimSpace(c.Request().Header.Get("X-Correlation-Id")); id != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(publisher.WithCorrelationID(req.Context(), id)))
		}
		return next(c)
	}
}

func echoLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
