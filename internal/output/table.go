package output

import (
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/syncrail/syncrail/internal/core"
)

// TableFormatter renders reports as ASCII tables.
type TableFormatter struct{}

// FormatReport renders one run as a summary table plus, when records failed,
// a failure listing.
func (f *TableFormatter) FormatReport(report *core.SyncReport) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Collection", "Pages", "Fetched", "Changed", "Upserted", "Failed", "Duration"})
	t.AppendRow(table.Row{
		collectionLabel(report),
		report.Run.Pages,
		report.TotalFetched,
		report.TotalChanged,
		report.TotalUpserted,
		report.TotalFailed,
		durationLabel(report),
	})
	rendered := t.Render()

	if len(report.Failures) > 0 {
		ft := table.NewWriter()
		ft.SetStyle(table.StyleRounded)
		ft.AppendHeader(table.Row{"Key", "Class", "Error"})
		for _, failure := range report.Failures {
			ft.AppendRow(table.Row{failure.Key, string(failure.Class), failure.Message})
		}
		rendered += "\n" + ft.Render()
	}

	return rendered, nil
}
