package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/core/source"
	"github.com/syncrail/syncrail/internal/core/store"
)

var doctorOffline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks against the configured store, upstream API, and downstream sink.",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip checks that reach the network")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Running diagnostic checks...")
	fmt.Fprintln(out)

	totalChecks := 5
	failed := 0

	// Check 1: configuration
	cfg, cfgErr := loadConfig()
	if cfgErr != nil {
		fmt.Fprintf(out, "[1/%d] Checking configuration... ❌ %v\n", totalChecks, cfgErr)
		failed++
	} else {
		fmt.Fprintf(out, "[1/%d] Checking configuration... ✅ %d collection(s), %s sink\n",
			totalChecks, len(cfg.Collections), sinkLabel(cfg.Sink))
	}

	// Check 2: store
	var db *store.Store
	if cfgErr != nil {
		fmt.Fprintf(out, "[2/%d] Checking store... ⚠️  skipped (config not loaded)\n", totalChecks)
	} else if opened, err := openStore(ctx, cfg); err != nil {
		fmt.Fprintf(out, "[2/%d] Checking store... ❌ %v\n", totalChecks, err)
		failed++
	} else {
		db = opened
		defer db.Close() // nolint:errcheck // best-effort cleanup
		if err := db.Ping(ctx); err != nil {
			fmt.Fprintf(out, "[2/%d] Checking store... ❌ ping: %v\n", totalChecks, err)
			failed++
		} else {
			fmt.Fprintf(out, "[2/%d] Checking store... ✅ %s (%s)\n", totalChecks, db.Driver(), cfg.Store.Path)
		}
	}

	// Checks 3-5 reach the network.
	var r *runner
	skipReason := ""
	switch {
	case doctorOffline:
		skipReason = "--offline"
	case cfgErr != nil:
		skipReason = "config not loaded"
	case db == nil:
		skipReason = "store unavailable"
	default:
		var err error
		r, err = newRunner(ctx, cfg, db, zap.NewNop(), runnerOptions{})
		if err != nil {
			fmt.Fprintf(out, "[3/%d] Checking upstream auth... ❌ %v\n", totalChecks, err)
			failed++
			skipReason = "runner unavailable"
		} else {
			defer r.Close()
		}
	}

	// Check 3: upstream auth
	if r != nil {
		failed += checkUpstreamAuth(ctx, out, totalChecks, r)
	} else if skipReason != "runner unavailable" {
		fmt.Fprintf(out, "[3/%d] Checking upstream auth... ⚠️  skipped (%s)\n", totalChecks, skipReason)
	}

	// Check 4: upstream fetch
	if r != nil && len(cfg.Collections) > 0 {
		failed += checkUpstreamFetch(ctx, out, totalChecks, r, cfg.Collections[0])
	} else if r != nil {
		fmt.Fprintf(out, "[4/%d] Checking upstream fetch... ⚠️  skipped (no collections configured)\n", totalChecks)
	} else {
		fmt.Fprintf(out, "[4/%d] Checking upstream fetch... ⚠️  skipped (%s)\n", totalChecks, skipReason)
	}

	// Check 5: sink
	if r != nil {
		failed += checkSink(ctx, out, totalChecks, cfg.Sink, r.sinks)
	} else {
		fmt.Fprintf(out, "[5/%d] Checking sink... ⚠️  skipped (%s)\n", totalChecks, skipReason)
	}

	fmt.Fprintln(out)
	if failed == 0 {
		fmt.Fprintln(out, "✅ All checks passed.")
		return nil
	}
	fmt.Fprintln(out, "⚠️  Some checks failed. Review the output above for details.")
	return Exit(ExitRunError, fmt.Errorf("%d check(s) failed", failed))
}

// checkUpstreamAuth fetches one token through the configured provider. A
// collection API without auth passes trivially.
func checkUpstreamAuth(ctx context.Context, out io.Writer, totalChecks int, r *runner) int {
	if r.tokens == nil {
		fmt.Fprintf(out, "[3/%d] Checking upstream auth... ✅ none required\n", totalChecks)
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	token, err := r.tokens.Token(ctx)
	if err != nil {
		fmt.Fprintf(out, "[3/%d] Checking upstream auth... ❌ %v\n", totalChecks, err)
		return 1
	}
	if strings.TrimSpace(token) == "" {
		fmt.Fprintf(out, "[3/%d] Checking upstream auth... ❌ provider returned an empty token\n", totalChecks)
		return 1
	}
	fmt.Fprintf(out, "[3/%d] Checking upstream auth... ✅ token issued\n", totalChecks)
	return 0
}

// checkUpstreamFetch pulls the first page of the first collection.
func checkUpstreamFetch(ctx context.Context, out io.Writer, totalChecks int, r *runner, col config.CollectionConfig) int {
	client := &source.Client{
		BaseURL:    r.cfg.Source.BaseURL,
		Collection: col,
		HTTPClient: &http.Client{Timeout: r.cfg.Source.Timeout},
		Tokens:     r.tokens,
		Limiter:    r.limiter,
		UserAgent:  r.cfg.Source.UserAgent,
		Logger:     zap.NewNop(),
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	page, err := client.FetchPage(ctx, "", 1)
	if err != nil {
		fmt.Fprintf(out, "[4/%d] Checking upstream fetch... ❌ %s: %v\n", totalChecks, col.Name, err)
		return 1
	}
	fmt.Fprintf(out, "[4/%d] Checking upstream fetch... ✅ %s (%d record(s) on first page)\n",
		totalChecks, col.Name, len(page.Records))
	return 0
}

// checkSink probes the downstream sink: ping for postgres, a HEAD request for
// http. Any HTTP response counts; the check proves reachability, not that the
// endpoint accepts HEAD.
func checkSink(ctx context.Context, out io.Writer, totalChecks int, cfg config.SinkConfig, sinks *sinkBuilder) int {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch {
	case sinks.discard:
		fmt.Fprintf(out, "[5/%d] Checking sink... ✅ discard (nothing to reach)\n", totalChecks)
		return 0
	case sinks.pool != nil:
		if err := sinks.pool.Ping(ctx); err != nil {
			fmt.Fprintf(out, "[5/%d] Checking sink... ❌ postgres: %v\n", totalChecks, err)
			return 1
		}
		fmt.Fprintf(out, "[5/%d] Checking sink... ✅ postgres reachable\n", totalChecks)
		return 0
	default:
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.URL, nil)
		if err != nil {
			fmt.Fprintf(out, "[5/%d] Checking sink... ❌ http: %v\n", totalChecks, err)
			return 1
		}
		resp, err := sinks.httpClient.Do(req)
		if err != nil {
			fmt.Fprintf(out, "[5/%d] Checking sink... ❌ http: %v\n", totalChecks, err)
			return 1
		}
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body
		fmt.Fprintf(out, "[5/%d] Checking sink... ✅ http reachable (%s)\n", totalChecks, resp.Status)
		return 0
	}
}

func sinkLabel(cfg config.SinkConfig) string {
	if strings.TrimSpace(cfg.Type) == "" {
		return "http"
	}
	return cfg.Type
}
