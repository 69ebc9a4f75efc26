package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/mailauth/internal/auth"
	"github.com/teemow/mailauth/internal/instrumentation"
	"github.com/teemow/mailauth/internal/server"
)

// serveOptions are the flags of "mailauth serve".
type serveOptions struct {
	keeperInterval time.Duration
	opsEnabled     bool
	opsAddr        string
}

// applyEnv fills every flag the user did not set from its env var.
func (o *serveOptions) applyEnv(cmd *cobra.Command) {
	if !cmd.Flags().Changed("keeper-interval") {
		o.keeperInterval = durationFromEnv("KEEPER_INTERVAL", o.keeperInterval)
	}
	if !cmd.Flags().Changed("metrics-enabled") {
		if v, err := strconv.ParseBool(os.Getenv("METRICS_ENABLED")); err == nil {
			o.opsEnabled = v
		}
	}
	if !cmd.Flags().Changed("metrics-addr") {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			o.opsAddr = addr
		}
	}
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep stored tokens fresh in the background",
		Long: `Run the token keeper: every interval, each stored account whose access
token expires within the next minute is refreshed.

An ops server on a dedicated port exposes:
  /metrics           Prometheus metrics
  /healthz           liveness
  /readyz            readiness (ready after the first keeper pass)
  /healthz/detailed  last keeper pass summary

Instrumentation is configured with the usual env vars
(INSTRUMENTATION_ENABLED, METRICS_EXPORTER, TRACING_EXPORTER,
OTEL_EXPORTER_OTLP_ENDPOINT, ...).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.applyEnv(cmd)
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().DurationVar(&opts.keeperInterval, "keeper-interval", auth.DefaultKeeperInterval, "How often stored accounts are checked. Can also use KEEPER_INTERVAL env var.")
	cmd.Flags().BoolVar(&opts.opsEnabled, "metrics-enabled", true, "Serve metrics and health probes on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.opsAddr, "metrics-addr", server.DefaultOpsAddr, "Metrics and health probe address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			slog.Error("error during instrumentation shutdown", "error", err)
		}
	}()

	svc, err := newService(provider)
	if err != nil {
		return err
	}

	var health *server.HealthChecker
	keeper := auth.NewKeeper(svc,
		auth.WithKeeperInterval(opts.keeperInterval),
		auth.WithKeeperLogger(slog.Default()),
		auth.WithKeeperMetrics(provider.Metrics()),
		auth.WithCycleHook(func(r auth.CycleReport) { health.ObserveCycle(r) }))
	health = server.NewHealthChecker(keeper)

	var ops *server.OpsServer
	if opts.opsEnabled && provider.Enabled() && provider.PrometheusHandler() != nil {
		ops, err = server.NewOpsServer(opts.opsAddr, provider, health, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to create ops server: %w", err)
		}
	} else {
		slog.Info("ops server disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keeper.Run(gctx)
		return nil
	})
	if ops != nil {
		g.Go(func() error { return ops.ListenAndServe(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		health.SetShuttingDown()
		return nil
	})

	return g.Wait()
}
