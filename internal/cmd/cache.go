package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/syncrail/syncrail/internal/core/store"
	"github.com/syncrail/syncrail/internal/output"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the change cache",
}

var (
	cacheStatsCollection string
	cacheStatsOutput     string

	cacheFlushCollection string
	cacheFlushAll        bool
	cacheFlushYes        bool
)

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached fingerprint counts per collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(cacheStatsOutput)
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

		stats, err := db.CacheStats(cmd.Context(), strings.TrimSpace(cacheStatsCollection))
		if err != nil {
			return err
		}

		return writeCacheStats(cmd.OutOrStdout(), format, stats)
	},
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop cached fingerprints, forcing a full re-sync",
	Long: `Drop cached fingerprints for one collection (--collection) or all of
them (--all). The next sync run treats every upstream record as changed
and re-upserts it; no downstream rows are touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		collection := strings.TrimSpace(cacheFlushCollection)
		if collection == "" && !cacheFlushAll {
			return errors.New("must specify --collection or --all")
		}
		if collection != "" && cacheFlushAll {
			return errors.New("--collection and --all are mutually exclusive")
		}
		if cacheFlushAll && !cacheFlushYes {
			return errors.New("--all requires --yes")
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

		affected, err := db.FlushCache(cmd.Context(), collection)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Flushed %d cache entr(ies)\n", affected)
		return err
	},
}

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheStatsCollection, "collection", "", "Limit stats to one collection")
	cacheStatsCmd.Flags().StringVar(&cacheStatsOutput, "output", string(output.FormatTable), "Output format: table|json")

	cacheFlushCmd.Flags().StringVar(&cacheFlushCollection, "collection", "", "Flush a single collection")
	cacheFlushCmd.Flags().BoolVar(&cacheFlushAll, "all", false, "Flush every collection")
	cacheFlushCmd.Flags().BoolVar(&cacheFlushYes, "yes", false, "Confirm flushing every collection")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheFlushCmd)
	rootCmd.AddCommand(cacheCmd)
}

func writeCacheStats(w io.Writer, format output.Format, stats []store.CacheStat) error {
	if format == output.FormatJSON {
		payload := make([]map[string]any, 0, len(stats))
		for _, stat := range stats {
			payload = append(payload, map[string]any{
				"collection":       stat.Collection,
				"entries":          stat.Entries,
				"oldest_synced_at": stat.OldestSyncedAt,
				"newest_synced_at": stat.NewestSyncedAt,
			})
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if len(stats) == 0 {
		_, err := fmt.Fprintln(w, "(change cache is empty)")
		return err
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Collection", "Entries", "Oldest Sync", "Newest Sync"})
	total := 0
	for _, stat := range stats {
		t.AppendRow(table.Row{
			stat.Collection,
			stat.Entries,
			cacheTimeLabel(stat.OldestSyncedAt),
			cacheTimeLabel(stat.NewestSyncedAt),
		})
		total += stat.Entries
	}
	t.AppendFooter(table.Row{"Total", total, "", ""})

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func cacheTimeLabel(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}
