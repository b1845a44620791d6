// Command vidcdn-controller runs the client-facing router. It serves each
// request from a replica when one holds the object, rotating between them,
// and falls back to the origin otherwise.
//
// Configuration comes from an optional YAML file (--config) and VIDCDN_*
// environment variables:
//   - VIDCDN_LISTEN: listen address (default ":8084")
//   - VIDCDN_ORIGIN: origin address (required)
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
	"github.com/dreamware/vidcdn/internal/controller"
	"github.com/dreamware/vidcdn/internal/logging"
	"github.com/dreamware/vidcdn/internal/metrics"
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
		Use:          "vidcdn-controller",
		Short:        "Run the vidcdn routing controller",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadControllerConfig(cfgFile)
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
	handler http.Handler
	router  *controller.Router
	monitor *controller.HealthMonitor
}

func build(cfg *config.ControllerConfig, logger zerolog.Logger) *node {
	reg := metrics.NewRegistry()
	m := metrics.NewControllerMetrics(reg)
	client := cluster.NewClient(cluster.ClientOptions{
		Timeout: cfg.PeerTimeout.Std(),
		TLS:     cfg.TLS.ClientTLS(),
	}, logger)

	router := controller.NewRouter(client, cfg.OriginNode(), cfg.ReplicaSet(), m, logger)

	var monitor *controller.HealthMonitor
	if cfg.HealthInterval > 0 {
		monitor = controller.NewHealthMonitor(cfg.HealthInterval.Std(), client, m, logger)
	}

	mux := http.NewServeMux()
	controller.NewServer(router, client, monitor, m, logger).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	logger.Info().
		Str("origin", cfg.OriginNode().Addr).
		Int("replicas", router.Replicas().Len()).
		Msg("controller initialized")
	return &node{handler: mux, router: router, monitor: monitor}
}

func run(ctx context.Context, cfg *config.ControllerConfig, logger zerolog.Logger) error {
	n := build(cfg, logger)

	if n.monitor != nil {
		go n.monitor.Start(ctx, n.router.Replicas)
		defer n.monitor.Stop()
	}

	srv := cluster.NewHTTPServer(cfg.Listen, n.handler)
	if err := cluster.Serve(ctx, srv, cfg.TLS.CertFile, cfg.TLS.KeyFile, logger); err != nil {
		return err
	}
	logger.Info().Msg("controller stopped")
	return nil
}
