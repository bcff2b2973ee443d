package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/city-sync/internal/app"
	"github.com/jmehdipour/city-sync/internal/kafka"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var relayWorkers int

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Consume City mutations from Kafka, store and publish sync events",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
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
		consumer := kafka.NewConsumer(cfg.Kafka)
		defer func() {
			err = multierr.Combine(err, consumer.Close(), core.Close())
		}()

		w := worker.NewRelay(consumer, core.Hooks)
		if relayWorkers > 0 {
			w.Workers = relayWorkers
		}

		logger.Log.Info("relay started",
			zap.String("topic", cfg.Kafka.Topic),
			zap.String("group", cfg.Kafka.GroupID),
			zap.Int("workers", w.Workers),
			zap.Strings("active_endpoints", activeNames(core)),
		)
		return w.Run(ctx)
	},
}

func activeNames(core *app.Core) []string {
	eps := core.Registry.Active()
	names := make([]string, 0, len(eps))
	for _, ep := range eps {
		names = append(names, ep.Name)
	}
	return names
}

func init() {
	relayCmd.Flags().IntVar(&relayWorkers, "workers", 4, "processors; mutations of one City always land on the same one")
}
