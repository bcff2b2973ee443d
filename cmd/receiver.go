package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/city-sync/internal/config"
	"github.com/jmehdipour/city-sync/internal/db"
	"github.com/jmehdipour/city-sync/internal/ingest"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	receiverMemory  bool
	receiverName    string
	cfgReceiverAddr string
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Run a reference downstream receiver for sync events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.LogLevel, receiverName)
		defer logger.Sync()

		if cfgReceiverAddr != "" {
			cfg.Receiver.Addr = cfgReceiverAddr
		}

		var store ingest.Store
		if receiverMemory {
			store = ingest.NewMemoryStore()
		} else {
			rdb, err := db.NewRedisClient(cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = rdb.Close() }()
			// receivers sharing one Redis are kept apart by name
			store = ingest.NewRedisStore(rdb, cfg.Redis.KeyPrefix+receiverName+":", cfg.Receiver.IdempotencyTTL)
		}

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(echoMid.Recover())
		metrics.MustRegister(prometheus.DefaultRegisterer)
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
		ingest.Register(e, cfg.Sync.IngestPath, cfg.Sync.HealthPath, store)

		logger.Log.Info("receiver listening",
			zap.String("addr", cfg.Receiver.Addr), zap.Bool("memory", receiverMemory))
		return runHTTP(echoServer{e}, cfg.Receiver.Addr)
	},
}

type echoServer struct{ e *echo.Echo }

func (s echoServer) Start(addr string) error            { return s.e.Start(addr) }
func (s echoServer) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func init() {
	receiverCmd.Flags().BoolVar(&receiverMemory, "memory", false, "keep idempotency state in process memory instead of Redis")
	receiverCmd.Flags().StringVar(&receiverName, "name", "sync-receiver", "service name used in logs and Redis keys")
	receiverCmd.Flags().StringVar(&cfgReceiverAddr, "addr", "", "listen address (overrides receiver.addr)")
}
