package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/syncrail/syncrail/internal/core/store"
	"github.com/syncrail/syncrail/internal/output"
)

var (
	rateLimitListOutput   string
	rateLimitListOut      string
	rateLimitListOutDir   string
	rateLimitListAll      bool
	rateLimitListEndpoint string
	rateLimitListPrefix   string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted rate limit observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitListOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.RateLimitQuery{
			All:      rateLimitListAll,
			Endpoint: strings.TrimSpace(rateLimitListEndpoint),
			Prefix:   strings.TrimSpace(rateLimitListPrefix),
		}
		if !query.All && query.Endpoint == "" && query.Prefix == "" {
			query.All = true
		}

		entries, err := db.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		outPath := strings.TrimSpace(rateLimitListOut)
		outDir := strings.TrimSpace(rateLimitListOutDir)
		if outPath != "" && outDir != "" {
			return fmt.Errorf("--out and --out-dir are mutually exclusive")
		}
		if outDir != "" {
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("ratelimit.list.%s", outputExtension(format)))
		}

		dest, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = dest.close() }()

		return writeRateLimitList(dest.writer, format, entries)
	},
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutput, "output", string(output.FormatTable), "Output format: table|json")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOut, "out", "", "Write output to a file (default stdout)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutDir, "out-dir", "", "Write output to a directory")
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all endpoints")
	rateLimitListCmd.Flags().StringVar(&rateLimitListEndpoint, "endpoint", "", "List a single endpoint (exact match)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List endpoints with matching prefix")
}

func writeRateLimitList(w io.Writer, format output.Format, entries []store.RateLimitEntry) error {
	if format == output.FormatJSON {
		payload := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			payload = append(payload, map[string]any{
				"endpoint":         entry.Endpoint,
				"declared_limit":   entry.State.DeclaredLimit,
				"remaining":        entry.State.Remaining,
				"reset_at":         entry.State.ResetAt,
				"cooldown_until":   entry.State.CooldownUntil,
				"last_throttle_at": entry.State.LastThrottleAt,
				"updated_at":       entry.State.UpdatedAt,
			})
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "(no persisted rate limit state)")
		return err
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Endpoint", "Limit", "Remaining", "Reset", "Cooldown Until", "Last Throttle", "Updated"})
	for _, entry := range entries {
		t.AppendRow(table.Row{
			entry.Endpoint,
			entry.State.DeclaredLimit,
			entry.State.Remaining,
			timePtrLabel(entry.State.ResetAt),
			timePtrLabel(entry.State.CooldownUntil),
			timePtrLabel(entry.State.LastThrottleAt),
			cacheTimeLabel(entry.State.UpdatedAt),
		})
	}

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func timePtrLabel(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}
