package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// TableSink renders tables.
type TableSink interface {
	RenderTable(t Table) error
}

// ChartSink renders charts.
type ChartSink interface {
	RenderChart(c Chart) error
}

// Render hands every dashboard table to ts and every chart to cs.
// Either sink may be nil.
func Render(d *Dashboard, ts TableSink, cs ChartSink) error {
	if ts != nil {
		for _, t := range d.Tables() {
			if err := ts.RenderTable(t); err != nil {
				return fmt.Errorf("render table %q: %w", t.Title, err)
			}
		}
	}
	if cs != nil {
		for _, c := range d.Charts() {
			if err := cs.RenderChart(c); err != nil {
				return fmt.Errorf("render chart %q: %w", c.Title, err)
			}
		}
	}
	return nil
}

// MarkdownSink writes tables and charts as Markdown tables.
type MarkdownSink struct {
	w io.Writer
}

// NewMarkdownSink creates a sink writing to w.
func NewMarkdownSink(w io.Writer) *MarkdownSink {
	return &MarkdownSink{w: w}
}

// RenderTable writes t as a Markdown section.
func (m *MarkdownSink) RenderTable(t Table) error {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", t.Title))
	if len(t.Rows) == 0 {
		sb.WriteString("No rows.\n\n")
		_, err := io.WriteString(m.w, sb.String())
		return err
	}
	writeRow(&sb, t.Columns)
	sep := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		sep[i] = strings.Repeat("-", max(3, len(c)))
	}
	writeRow(&sb, sep)
	for _, row := range t.Rows {
		writeRow(&sb, row)
	}
	sb.WriteString("\n")
	_, err := io.WriteString(m.w, sb.String())
	return err
}

// RenderChart writes the points of c as a Markdown table.
func (m *MarkdownSink) RenderChart(c Chart) error {
	t := Table{
		Title:   fmt.Sprintf("%s (%s)", c.Title, c.Kind),
		Columns: []string{"series", "label", c.XLabel, c.YLabel},
	}
	for _, s := range c.Series {
		for _, p := range s.Points {
			t.Rows = append(t.Rows, []string{s.Name, p.Label, formatPoint(p.X), formatPoint(p.Y)})
		}
	}
	return m.RenderTable(t)
}

func writeRow(sb *strings.Builder, cells []string) {
	sb.WriteString("|")
	for _, c := range cells {
		sb.WriteString(" ")
		sb.WriteString(strings.ReplaceAll(c, "|", `\|`))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}

func formatPoint(v float64) string {
	return fmt.Sprintf("%.6g", v)
}

// RenderMarkdown renders the dashboard as a Markdown report.
func RenderMarkdown(d *Dashboard) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Market Insight Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", d.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Snapshot | %s |\n", d.SnapshotID))
	sb.WriteString(fmt.Sprintf("| Captured | %s |\n", d.CapturedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("| Currency | %s |\n", d.Currency))
	sb.WriteString(fmt.Sprintf("| Rows | %d |\n", d.Rows))
	sb.WriteString(fmt.Sprintf("| Dropped | %d |\n", d.Dropped))
	sb.WriteString(fmt.Sprintf("| Selected | %s |\n", d.Selected))
	sb.WriteString(fmt.Sprintf("| Target | %s |\n", d.Target))
	sb.WriteString(fmt.Sprintf("| Prediction | %s |\n", enabled(d.PredictionEnabled)))
	sb.WriteString("\n")

	// Stage errors are shown inline, the rest of the report still renders
	if len(d.Errors) > 0 {
		sb.WriteString("## Stage Errors\n\n")
		stages := make([]string, 0, len(d.Errors))
		for s := range d.Errors {
			stages = append(stages, s)
		}
		sort.Strings(stages)
		for _, s := range stages {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", s, d.Errors[s]))
		}
		sb.WriteString("\n")
	}

	sink := NewMarkdownSink(&sb)
	// strings.Builder writes never fail
	_ = Render(d, sink, sink)

	return sb.String()
}

// RenderStockMarkdown renders a stock report as Markdown.
func RenderStockMarkdown(r *StockReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s Stock Report\n\n", r.Ticker))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Window: %d days\n\n", r.Days))

	sink := NewMarkdownSink(&sb)
	for _, t := range r.Tables() {
		_ = sink.RenderTable(t)
	}
	_ = sink.RenderChart(r.Closes)

	return sb.String()
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
