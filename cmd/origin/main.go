// Command vidcdn-origin runs the authoritative node. It serves every object in
// its data directory and replicates served objects to the replica tier.
//
// Configuration comes from an optional YAML file (--config) and VIDCDN_*
// environment variables:
//   - VIDCDN_LISTEN: listen address (default ":8080")
//   - VIDCDN_DATA_DIR: object directory (default "videos")
//   - VIDCDN_REPLICAS: comma-separated replicas, "url" or "id=url"
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
	"github.com/dreamware/vidcdn/internal/origin"
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
		Use:          "vidcdn-origin",
		Short:        "Run the vidcdn origin node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOriginConfig(cfgFile)
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

type node struct {
	handler     http.Handler
	broadcaster *origin.Broadcaster
}

func build(cfg *config.OriginConfig, logger zerolog.Logger) (*node, error) {
	store, err := storage.NewDiskStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	m := metrics.NewOriginMetrics(reg)
	client := cluster.NewClient(cluster.ClientOptions{
		Timeout: cfg.PeerTimeout.Std(),
		TLS:     cfg.TLS.ClientTLS(),
	}, logger)
	replicas := cfg.ReplicaSet()
	b := origin.NewBroadcaster(client, replicas, store, cfg.BroadcastTimeout.Std(), m, logger)

	mux := http.NewServeMux()
	origin.NewServer(store, b, cfg.Extensions, m, logger).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	logger.Info().
		Str("data_dir", store.Root).
		Int("objects", store.Stats().Objects).
		Int("replicas", replicas.Len()).
		Msg("origin initialized")
	return &node{handler: mux, broadcaster: b}, nil
}

func run(ctx context.Context, cfg *config.OriginConfig, logger zerolog.Logger) error {
	n, err := build(cfg, logger)
	if err != nil {
		return err
	}
	// Let in-flight broadcasts settle before exiting.
	defer n.broadcaster.Close()

	srv := cluster.NewHTTPServer(cfg.Listen, n.handler)
	if err := cluster.Serve(ctx, srv, cfg.TLS.CertFile, cfg.TLS.KeyFile, logger); err != nil {
		return err
	}
	logger.Info().Msg("origin stopped")
	return nil
}
