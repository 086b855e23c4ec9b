package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/anstrom/ipprism/internal/api"
	apihandlers "github.com/anstrom/ipprism/internal/api/handlers"
	"github.com/anstrom/ipprism/internal/config"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/scheduler"
)

const (
	systemMetricsInterval  = 15 * time.Second
	metricsShutdownTimeout = 5 * time.Second
)

var (
	serveHost        string
	servePort        int
	serveNoScheduler bool
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ipprism API server",
	Long: `Run the REST API used by the dashboard. Analyses submitted over HTTP run
in the background and stream their progress over WebSocket.

When scheduler.enabled is set, stale records are re-analysed on the
configured cron schedule. When metrics.enabled is set, Prometheus metrics are
also served on their own listener.`,
	Example: `  ipprism serve
  ipprism serve --host 0.0.0.0 --port 8080
  ipprism serve --no-scheduler`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host address to bind (empty = use config value)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to bind (0 = use config value)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Disable the stale-record refresh job")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true, func(cfg *config.Config) {
		if serveHost != "" {
			cfg.API.ListenAddr = serveHost
		}
		if servePort > 0 {
			cfg.API.Port = servePort
		}
		if serveNoScheduler {
			cfg.Scheduler.Enabled = false
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	go a.metrics.StartPeriodicUpdates(ctx, systemMetricsInterval)

	// An untyped nil keeps the refresh endpoints disabled.
	var refresher apihandlers.Refresher
	if a.cfg.Scheduler.Enabled {
		sched := scheduler.New(a.gateway, a.engine, scheduler.Config{
			RefreshCron:  a.cfg.Scheduler.RefreshCron,
			RefreshLimit: a.cfg.Scheduler.RefreshLimit,
			TTL:          a.cfg.CacheTTL(),
		}, scheduler.WithLogger(logger.WithComponent("scheduler")))
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
		refresher = sched
	}

	if a.cfg.Metrics.Enabled {
		metricsServer := startMetricsServer(a.cfg.Metrics.ListenAddr, a, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	server, err := api.New(a.cfg, api.Dependencies{
		Runner:    a.engine,
		Store:     a.gateway,
		Database:  a.database,
		Account:   a.clients.primary,
		Refresher: refresher,
		Registry:  a.metrics.GetRegistry(),
		Metrics:   a.metrics,
		Logger:    logger.WithComponent("api"),
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "API server listening on %s\n", a.cfg.GetAPIAddress())
	_, _ = fmt.Fprintf(out, "Health check: http://%s/api/v1/health\n", a.cfg.GetAPIAddress())

	if err := server.Start(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "API server stopped gracefully")
	return nil
}

// startMetricsServer serves the Prometheus registry on its own listener.
func startMetricsServer(addr string, a *app, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", "address", addr, "error", err)
		}
	}()
	logger.Info("Metrics server started", "address", addr)
	return srv
}
