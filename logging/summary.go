package logging

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
)

// SummaryRow is one source's line in the end-of-run table.
type SummaryRow struct {
	Source   string
	Status   string
	Fetched  int
	Accepted int
	Rejected int
	New      int
	Matched  int
	Duration string
	Error    string
}

// RenderSummary writes the per-source table printed after every run.
func RenderSummary(w io.Writer, runID string, rows []SummaryRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("run " + runID)
	t.AppendHeader(table.Row{"Source", "Status", "Fetched", "Accepted", "Rejected", "New", "Matched", "Took", "Error"})

	var fetched, accepted, rejected, added int
	for _, r := range rows {
		t.AppendRow(table.Row{r.Source, r.Status, r.Fetched, r.Accepted, r.Rejected, r.New, r.Matched, r.Duration, r.Error})
		fetched += r.Fetched
		accepted += r.Accepted
		rejected += r.Rejected
		added += r.New
	}
	t.AppendFooter(table.Row{"total", strconv.Itoa(len(rows)) + " sources", fetched, accepted, rejected, added, "", "", ""})

	t.SetStyle(table.StyleRounded)
	t.Render()
}
