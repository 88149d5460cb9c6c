package output

import (
	"fmt"
	"strings"

	"github.com/syncrail/syncrail/internal/core"
)

// MarkdownFormatter renders reports as markdown tables.
type MarkdownFormatter struct{}

// FormatReport renders one run as Markdown.
func (f *MarkdownFormatter) FormatReport(report *core.SyncReport) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Sync %s\n\n", escapeMarkdownCell(collectionLabel(report))))
	sb.WriteString("| Pages | Fetched | Changed | Upserted | Failed | Duration |\n")
	sb.WriteString("|-------|---------|---------|----------|--------|----------|\n")
	sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %d | %s |\n",
		report.Run.Pages,
		report.TotalFetched,
		report.TotalChanged,
		report.TotalUpserted,
		report.TotalFailed,
		escapeMarkdownCell(durationLabel(report)),
	))

	if len(report.Failures) > 0 {
		sb.WriteString("\n### Failures\n\n")
		sb.WriteString("| Key | Class | Error |\n")
		sb.WriteString("|-----|-------|-------|\n")
		for _, failure := range report.Failures {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n",
				escapeMarkdownCell(failure.Key),
				escapeMarkdownCell(string(failure.Class)),
				escapeMarkdownCell(failure.Message),
			))
		}
	}

	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
