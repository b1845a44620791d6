// Command vidcdn-replica runs a cache-tier node. It serves objects pushed to
// it by the origin and answers the controller's existence probes.
//
// Configuration comes from an optional YAML file (--config) and VIDCDN_*
// environment variables:
//   - VIDCDN_LISTEN: listen address (default ":8081")
//   - VIDCDN_DATA_DIR: object directory (default "replicated_videos")
//   - VIDCDN_NODE_ID: node identifier (default derived from the listen port)
//   - VIDCDN_STORAGE: "disk" (default) or "memory"
//   - VIDCDN_LOG_LEVEL, VIDCDN_LOG_FORMAT: logging
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dreamware/vidcdn/internal/cluster"
	"github.com/dreamware/vidcdn/internal/config"
	"github.com/dreamware/vidcdn/internal/logging"
	"github.com/dreamware/vidcdn/internal/metrics"
	"github.com/dreamware/vidcdn/internal/replica"
	"github.com/dreamware/vidcdn/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile, logLevel string

	cmd := &cobra.Command{
		Use:          "vidcdn-replica",
		Short:        "Run a vidcdn replica node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadReplicaConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
			return run(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

// openStore returns the replica's blob store and a description of where it
// lives, for logging.
func openStore(cfg *config.ReplicaConfig) (storage.BlobStore, string, error) {
	if cfg.Storage == config.StorageMemory {
		return storage.NewMemoryStore(), "memory", nil
	}
	store, err := storage.NewDiskStore(cfg.DataDir)
	if err != nil {
		return nil, "", err
	}
	return store, store.Root, nil
}

func buildHandler(cfg *config.ReplicaConfig, logger zerolog.Logger) (http.Handler, error) {
	store, location, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	mux := http.NewServeMux()
	replica.New(replica.Options{
		NodeID:    cfg.NodeID,
		Store:     store,
		Metrics:   metrics.NewReplicaMetrics(reg),
		Logger:    logger,
		RateLimit: cfg.ReplicateRateLimit,
		Burst:     cfg.ReplicateBurst,
	}).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	logger.Info().
		Str("node", cfg.NodeID).
		Str("storage", location).
		Int("objects", store.Stats().Objects).
		Msg("replica initialized")
	return mux, nil
}

func run(ctx context.Context, cfg *config.ReplicaConfig, logger zerolog.Logger) error {
	handler, err := buildHandler(cfg, logger)
	if err != nil {
		return err
	}

	srv := cluster.NewHTTPServer(cfg.Listen, handler)
	if err := cluster.Serve(ctx, srv, cfg.TLS.CertFile, cfg.TLS.KeyFile, logger); err != nil {
		return err
	}
	logger.Info().Msg("replica stopped")
	return nil
}
