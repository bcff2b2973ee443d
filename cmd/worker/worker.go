package worker

import (
	"fmt"

	"github.com/jmehdipour/city-sync/internal/config"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(relayCmd)
	cmd.AddCommand(recoveryCmd)

	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.ServiceName)
	metrics.MustRegister(prometheus.DefaultRegisterer)
	return cfg, nil
}
