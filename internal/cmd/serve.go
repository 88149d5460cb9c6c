package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/metrics"
	"github.com/syncrail/syncrail/internal/server"
	"github.com/syncrail/syncrail/internal/server/handlers"
)

var (
	serveHost     string
	servePort     int
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status HTTP server",
	Long: `Start the HTTP status server with graceful shutdown.

With --interval, sync runs over every configured collection are scheduled
in-process, one collection at a time, and their outcomes feed the status
and metrics endpoints. Without it the server only reports state.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "server port")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "run syncs this often (0 disables scheduling)")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() // nolint:errcheck // stdout sync errors are benign

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewMetrics(registry)
	tracker := &metrics.Tracker{}

	srv := server.New(server.Options{
		Config:   cfg.Server,
		Store:    db,
		Tracker:  tracker,
		Registry: registry,
		Logger:   logger,
		Build: handlers.Info{
			Name:      "syncrail",
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		},
	})

	if serveInterval > 0 {
		r, err := newRunner(ctx, cfg, db, logger, runnerOptions{})
		if err != nil {
			return err
		}
		defer r.Close()
		go scheduleSyncs(ctx, r, cfg.Collections, serveInterval, tracker, syncMetrics, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// scheduleSyncs runs every collection once per interval, sequentially.
// Sequential runs keep single-writer discipline on the cache store; the
// first pass starts immediately.
func scheduleSyncs(ctx context.Context, r *runner, collections []config.CollectionConfig, interval time.Duration, tracker *metrics.Tracker, syncMetrics *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, col := range collections {
			if ctx.Err() != nil {
				return
			}

			report, err := r.syncCollection(ctx, col)
			if report == nil {
				// Aborted before fetch; keep the failure visible.
				report = &core.SyncReport{Run: core.RunInfo{Collection: col.Name}}
			}
			tracker.Record(report, err)
			syncMetrics.ObserveRun(report, err)
			if err != nil {
				logger.Error("scheduled sync failed",
					zap.String("collection", col.Name),
					zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
