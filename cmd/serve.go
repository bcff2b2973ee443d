package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/city-sync/internal/app"
	"github.com/jmehdipour/city-sync/internal/config"
	httpSrv "github.com/jmehdipour/city-sync/internal/http"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync admin HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.LogLevel, cfg.ServiceName)
		defer logger.Sync()

		core, err := app.Build(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := core.Close(); err != nil {
				logger.Log.Warn("close connections", zap.Error(err))
			}
		}()

		server := httpSrv.NewServer(httpSrv.Deps{
			Coordinator: core.Coordinator,
			Registry:    core.Registry,
			Attempts:    core.Attempts,
			Redis:       core.Redis,
			RecoveryRPS: cfg.HTTP.RecoveryRPS,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			LogLevel:    cfg.LogLevel,
		})

		return runHTTP(server, cfg.HTTP.Addr)
	},
}

type httpServer interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// runHTTP serves until SIGINT/SIGTERM or a listener failure, then shuts down within 5s.
func runHTTP(server httpServer, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Log.Info("signal received, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server exited: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
