package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakefront/s3console/internal/metrics"
	"github.com/lakefront/s3console/internal/server"
	"github.com/lakefront/s3console/internal/server/handlers"
	"github.com/lakefront/s3console/pkg/history"
	"github.com/lakefront/s3console/pkg/requestqueue"
)

// version is stamped at build time with -ldflags.
var version = "dev"

// metricsInterval is how often gauge snapshots are refreshed.
const metricsInterval = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console session with the diagnostics server",
	Long: `Run a long-lived console session exposing health, stats and
Prometheus metrics over HTTP. The background history sync keeps running
for as long as the process is up.

Examples:
  # Serve on the configured address (default localhost:8081)
  s3console serve

  # Probe it
  curl http://localhost:8081/healthz
  curl http://localhost:8081/api/stats`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	health := handlers.NewHealthManager(version)
	health.RegisterChecker("history", handlers.CheckerFunc(func(ctx context.Context) error {
		_, err := s.history.Stats(ctx, s.user)
		return err
	}))

	var collector *metrics.Collector
	if s.cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	srv := server.New(server.Options{
		Config: s.cfg.Server,
		Logger: s.logger.Named("server"),
		Health: health,
		Stats: handlers.StatsSources{
			Cache: s.cache.Stats,
			Queue: s.queue.Stats,
			History: func(r *http.Request) (history.Stats, error) {
				return s.history.Stats(r.Context(), s.user)
			},
		},
		Metrics: collector,
	})

	if collector != nil {
		go refreshMetrics(ctx, s, collector)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		s.logger.Warn("server shutdown failed", zap.Error(err))
	}
	return nil
}

// refreshMetrics periodically copies subsystem snapshots into the
// Prometheus gauges. Counters are advanced from deltas between snapshots.
func refreshMetrics(ctx context.Context, s *session, collector *metrics.Collector) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	var prevQueue requestqueue.Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		collector.ObserveCache(s.cache.Stats())

		cur := s.queue.Stats()
		collector.ObserveQueue(prevQueue, cur)
		prevQueue = cur

		if stats, err := s.history.Stats(ctx, s.user); err == nil {
			collector.ObserveHistory(stats)
		}
	}
}
