package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/syncrail/syncrail/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders sync reports.
type Formatter interface {
	FormatReport(report *core.SyncReport) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown):
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// FormatReportList renders the reports of a multi-collection run using the
// requested format.
func FormatReportList(format Format, reports []*core.SyncReport) (string, error) {
	if format == FormatJSON {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	formatter := NewFormatter(format)
	rendered := make([]string, 0, len(reports))
	for _, report := range reports {
		if report == nil {
			continue
		}
		value, err := formatter.FormatReport(report)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		rendered = append(rendered, value)
	}

	return strings.Join(rendered, "\n\n"), nil
}

func collectionLabel(report *core.SyncReport) string {
	name := report.Run.Collection
	if name == "" {
		name = "(unnamed)"
	}
	if report.Run.DryRun {
		name += " (dry run)"
	}
	return name
}

func durationLabel(report *core.SyncReport) string {
	if report.Run.StartedAt.IsZero() || report.Run.FinishedAt.IsZero() {
		return "-"
	}
	return report.Run.FinishedAt.Sub(report.Run.StartedAt).Round(10 * time.Millisecond).String()
}
