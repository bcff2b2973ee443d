package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/city-sync/internal/app"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Periodically replay pending events to every endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		core, err := app.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := core.Close(); err != nil {
				logger.Log.Warn("close connections", zap.Error(err))
			}
		}()

		w := worker.NewRecovery(core.Coordinator, cfg.Recovery.Interval)
		logger.Log.Info("recovery worker started", zap.Duration("interval", w.Interval))
		return w.Run(ctx)
	},
}
