package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core"
	"github.com/syncrail/syncrail/internal/core/engine"
	"github.com/syncrail/syncrail/internal/core/sink"
	"github.com/syncrail/syncrail/internal/core/source"
	"github.com/syncrail/syncrail/internal/core/store"
	"github.com/syncrail/syncrail/internal/output"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass over the configured collections",
	Long: `Fetch every page of the selected collections from the upstream API,
diff records against the change cache, and upsert changed records into
the downstream sink. Unchanged records are never re-sent.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringSlice("collection", nil, "Collections to sync (default all configured)")
	syncCmd.Flags().String("output", "table", "Output format: table, json, markdown")
	syncCmd.Flags().String("out", "", "Write the report to a file (default stdout)")
	syncCmd.Flags().Bool("dry-run", false, "Fetch and diff but skip downstream writes and cache commits")
	syncCmd.Flags().Bool("no-details", false, "Skip per-record detail fetches")
	syncCmd.Flags().Int("max-pages", 0, "Stop fetching after this many pages (0 uses sync.max_pages)")
	syncCmd.Flags().Int("concurrency", 1, "Collections synced concurrently")
}

func runSync(cmd *cobra.Command, args []string) error {
	names, err := cmd.Flags().GetStringSlice("collection")
	if err != nil {
		return err
	}
	formatValue, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	noDetails, err := cmd.Flags().GetBool("no-details")
	if err != nil {
		return err
	}
	maxPages, err := cmd.Flags().GetInt("max-pages")
	if err != nil {
		return err
	}
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	if concurrency < 1 {
		return Exit(ExitConfigError, errors.New("concurrency must be at least 1"))
	}

	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return Exit(ExitConfigError, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() // nolint:errcheck // stdout sync errors are benign

	collections, err := selectCollections(cfg, names)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	startedAt := time.Now()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	r, err := newRunner(ctx, cfg, db, logger, runnerOptions{
		DryRun:    dryRun,
		NoDetails: noDetails,
		MaxPages:  maxPages,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	reports := make([]*core.SyncReport, len(collections))
	runErrs := make([]error, len(collections))

	// Collections run under a shared limiter; failures stay isolated per
	// collection instead of cancelling siblings.
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, col := range collections {
		g.Go(func() error {
			report, runErr := r.syncCollection(ctx, col)
			reports[i], runErrs[i] = report, runErr
			if runErr != nil {
				logger.Error("sync run failed",
					zap.String("collection", col.Name),
					zap.Error(runErr))
			}
			return nil
		})
	}
	_ = g.Wait() // workers report through runErrs

	rendered, err := output.FormatReportList(format, reports)
	if err != nil {
		return err
	}

	dest, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = dest.close() }()
	if rendered != "" {
		if _, err := fmt.Fprintln(dest.writer, rendered); err != nil {
			return err
		}
	}

	totalFailed := 0
	for _, report := range reports {
		if report != nil {
			totalFailed += report.TotalFailed
		}
	}
	logThroughput(logger, reports, startedAt)

	for _, runErr := range runErrs {
		if runErr != nil {
			return Exit(ExitRunError, runErr)
		}
	}
	if totalFailed > 0 {
		return Exit(ExitPartialFailure, fmt.Errorf("%d record(s) failed to sync", totalFailed))
	}
	return nil
}

// selectCollections resolves the --collection flags against the config,
// defaulting to every configured collection.
func selectCollections(cfg *config.Config, names []string) ([]config.CollectionConfig, error) {
	if len(cfg.Collections) == 0 {
		return nil, Exit(ExitConfigError, errors.New("no collections configured"))
	}
	if len(names) == 0 {
		return cfg.Collections, nil
	}

	out := make([]config.CollectionConfig, 0, len(names))
	for _, name := range names {
		col, ok := cfg.CollectionByName(strings.TrimSpace(name))
		if !ok {
			return nil, Exit(ExitConfigError, fmt.Errorf("unknown collection %q", name))
		}
		out = append(out, col)
	}
	return out, nil
}

type runnerOptions struct {
	DryRun    bool
	NoDetails bool
	MaxPages  int
}

// runner wires sync passes for a loaded config: one shared rate limiter and
// sink backend, per-collection source clients and caches.
type runner struct {
	cfg     *config.Config
	db      *store.Store
	logger  *zap.Logger
	limiter *engine.RateLimiter
	tokens  source.TokenProvider
	sinks   *sinkBuilder
	opts    runnerOptions
}

func newRunner(ctx context.Context, cfg *config.Config, db *store.Store, logger *zap.Logger, opts runnerOptions) (*runner, error) {
	if strings.TrimSpace(cfg.Source.BaseURL) == "" {
		return nil, Exit(ExitConfigError, errors.New("source.base_url is required"))
	}

	limiter := &engine.RateLimiter{
		Budget: engine.Budget{
			MaxPerSecond: cfg.RateLimit.MaxPerSecond,
			MaxPerWindow: cfg.RateLimit.MaxPerWindow,
			Window:       cfg.RateLimit.Window,
			Floor:        cfg.RateLimit.Floor,
			Cooldown:     cfg.RateLimit.Cooldown,
		},
		Endpoint: limiterEndpoint(cfg.Source.BaseURL),
		Store:    db,
	}
	if err := limiter.Load(ctx); err != nil {
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}

	sinks, err := newSinkBuilder(ctx, cfg.Sink, opts.DryRun)
	if err != nil {
		return nil, err
	}

	return &runner{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		limiter: limiter,
		tokens:  source.FromConfig(ctx, cfg.Source),
		sinks:   sinks,
		opts:    opts,
	}, nil
}

// syncCollection runs one full sync pass for a single collection.
func (r *runner) syncCollection(ctx context.Context, col config.CollectionConfig) (*core.SyncReport, error) {
	client := &source.Client{
		BaseURL:    r.cfg.Source.BaseURL,
		Collection: col,
		HTTPClient: &http.Client{Timeout: r.cfg.Source.Timeout},
		Tokens:     r.tokens,
		Limiter:    r.limiter,
		UserAgent:  r.cfg.Source.UserAgent,
		Logger:     r.logger,
	}

	perPage := col.PerPage
	if perPage <= 0 {
		perPage = r.cfg.Sync.PerPage
	}
	maxPages := r.cfg.Sync.MaxPages
	if r.opts.MaxPages > 0 {
		maxPages = r.opts.MaxPages
	}

	syncer := &engine.Syncer{
		Collection: col.Name,
		Source:     client,
		Sink:       r.sinks.forCollection(col),
		Cache:      &engine.ChangeCache{Collection: col.Name, Store: r.db},
		Processor: &engine.BatchProcessor{
			ChunkSize:      r.cfg.Sync.ChunkSize,
			MaxAttempts:    r.cfg.Sync.MaxAttempts,
			RetryBaseDelay: r.cfg.Sync.RetryBaseDelay,
			RetryMaxDelay:  r.cfg.Sync.RetryMaxDelay,
			Workers:        r.cfg.Sync.Workers,
			Logger:         r.logger,
		},
		Fingerprint:   fingerprinterFor(col),
		PerPage:       perPage,
		MaxPages:      maxPages,
		RunTimeout:    r.cfg.Sync.RunTimeout,
		FetchDetails:  r.cfg.Sync.FetchDetails && !r.opts.NoDetails,
		ProgressEvery: r.cfg.Sync.ProgressEvery,
		DryRun:        r.opts.DryRun,
		ToolVersion:   versionInfo.Version,
		Logger:        r.logger,
	}

	return syncer.Run(ctx)
}

func (r *runner) Close() {
	r.sinks.Close()
}

// fingerprinterFor selects the fingerprint derivation for a collection.
func fingerprinterFor(col config.CollectionConfig) core.FingerprintFunc {
	if col.Fingerprint.Mode == "version" {
		return core.VersionFingerprinter(col.Fingerprint.Field)
	}
	return core.ContentFingerprinter(col.Fingerprint.Ignore...)
}

// limiterEndpoint keys persisted rate-limit state by upstream host.
func limiterEndpoint(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	return u.Host
}

// sinkBuilder owns the sink backend shared across collections: one pgx pool
// or one HTTP client. A dry run swaps in the discard sink.
type sinkBuilder struct {
	cfg        config.SinkConfig
	pool       *pgxpool.Pool
	httpClient *http.Client
	discard    bool
}

func newSinkBuilder(ctx context.Context, cfg config.SinkConfig, dryRun bool) (*sinkBuilder, error) {
	b := &sinkBuilder{cfg: cfg}
	if dryRun {
		b.discard = true
		return b, nil
	}

	switch cfg.Type {
	case "", "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, Exit(ExitConfigError, errors.New("sink.url is required for the http sink"))
		}
		b.httpClient = &http.Client{Timeout: cfg.Timeout}
	case "postgres":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, Exit(ExitConfigError, errors.New("sink.url is required for the postgres sink"))
		}
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		b.pool = pool
	case "discard":
		b.discard = true
	default:
		return nil, Exit(ExitConfigError, fmt.Errorf("unknown sink type %q", cfg.Type))
	}
	return b, nil
}

func (b *sinkBuilder) forCollection(col config.CollectionConfig) engine.Sink {
	table := strings.TrimSpace(col.Table)
	if table == "" {
		table = b.cfg.Table
	}

	switch {
	case b.discard:
		return sink.Discard{}
	case b.pool != nil:
		return &sink.Postgres{DB: b.pool, Table: table, KeyColumn: b.cfg.KeyColumn}
	default:
		return &sink.HTTP{URL: b.cfg.URL, APIKey: b.cfg.APIKey, Table: table, HTTPClient: b.httpClient}
	}
}

func (b *sinkBuilder) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func logThroughput(logger *zap.Logger, reports []*core.SyncReport, startedAt time.Time) {
	var fetched, changed, upserted, failed int
	for _, report := range reports {
		if report == nil {
			continue
		}
		fetched += report.TotalFetched
		changed += report.TotalChanged
		upserted += report.TotalUpserted
		failed += report.TotalFailed
	}
	logger.Info("sync finished",
		zap.Int("fetched", fetched),
		zap.Int("changed", changed),
		zap.Int("upserted", upserted),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
}
