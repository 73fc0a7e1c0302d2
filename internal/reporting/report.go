package reporting

import (
	"time"

	"market-insight-lab/internal/domain"
)

// ChartKind selects how a chart sink encodes a series.
type ChartKind string

const (
	ChartBar     ChartKind = "bar"
	ChartScatter ChartKind = "scatter"
	ChartLine    ChartKind = "line"
)

// Table is a titled grid of display-formatted cells.
type Table struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Point is one chart datum. Label names the entity behind it and is the
// category axis for bar charts.
type Point struct {
	Label string  `json:"label"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Series is a named sequence of points.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Chart is a precomputed chart handed to a ChartSink.
type Chart struct {
	Title  string    `json:"title"`
	Kind   ChartKind `json:"kind"`
	XLabel string    `json:"x_label"`
	YLabel string    `json:"y_label"`
	Series []Series  `json:"series"`
}

// ModelSummary is the JSON view of a model evaluation. Undefined metrics
// are null.
type ModelSummary struct {
	Target      string   `json:"target"`
	Features    []string `json:"features"`
	TrainRows   int      `json:"train_rows"`
	HoldoutRows int      `json:"holdout_rows"`
	R2          *float64 `json:"r2"`
	MAE         *float64 `json:"mae"`
}

// Dashboard is everything the market view displays for one analysis.
type Dashboard struct {
	// Metadata
	GeneratedAt time.Time `json:"generated_at"`
	SnapshotID  string    `json:"snapshot_id"`
	CapturedAt  time.Time `json:"captured_at"`
	Currency    string    `json:"currency"`
	Rows        int       `json:"rows"`
	Dropped     int       `json:"dropped"`

	// Selections
	Selected          string `json:"selected"`
	Target            string `json:"target"`
	PredictionEnabled bool   `json:"prediction_enabled"`

	// Tables
	Raw       Table `json:"raw"`
	Features  Table `json:"features"`
	Anomalies Table `json:"anomalies"`
	Similar   Table `json:"similar"`
	Model     Table `json:"model"`

	// Charts
	TopMarketCap    Chart `json:"top_market_cap"`
	VolumeVsPrice   Chart `json:"volume_vs_price"`
	PredictedActual Chart `json:"predicted_vs_actual"`

	// Structured values behind the tables
	Neighbors  []domain.Neighbor `json:"neighbors"`
	Evaluation *ModelSummary     `json:"evaluation,omitempty"`

	// Stage error messages keyed by stage name
	Errors map[string]string `json:"errors,omitempty"`
}

// Tables returns the dashboard tables in display order.
func (d *Dashboard) Tables() []Table {
	return []Table{d.Raw, d.Features, d.Anomalies, d.Similar, d.Model}
}

// Charts returns the dashboard charts in display order.
func (d *Dashboard) Charts() []Chart {
	return []Chart{d.TopMarketCap, d.VolumeVsPrice, d.PredictedActual}
}

// StockReport is the stock view for one ticker.
type StockReport struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Ticker      string                  `json:"ticker"`
	Days        int                     `json:"days"`
	Performance domain.PerformanceStats `json:"performance"`
	Summary     Table                   `json:"summary"`
	Bars        Table                   `json:"bars"`
	Closes      Chart                   `json:"closes"`
	Sentiment   Table                   `json:"sentiment"`
}

// Tables returns the stock report tables in display order.
func (r *StockReport) Tables() []Table {
	return []Table{r.Summary, r.Bars, r.Sentiment}
}
