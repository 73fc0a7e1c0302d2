package reporting

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/features"
	"market-insight-lab/internal/pipeline"
)

// Table sizes shown on the dashboard.
const (
	RawRowLimit       = 20
	FeatureRowLimit   = 10
	TopMarketCapLimit = 10
)

// Generator produces dashboards and stock reports from computed results.
type Generator struct {
	now func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator() *Generator {
	return &Generator{
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// BuildDashboard builds a dashboard with the current time.
func BuildDashboard(a *pipeline.Analysis) *Dashboard {
	return NewGenerator().Dashboard(a)
}

// Dashboard lays out the tables and charts for a.
func (g *Generator) Dashboard(a *pipeline.Analysis) *Dashboard {
	d := &Dashboard{GeneratedAt: g.now()}
	if a == nil {
		return d
	}

	if s := a.Snapshot; s != nil {
		d.SnapshotID = s.ID
		d.CapturedAt = s.CapturedAt
		d.Currency = s.Currency
		d.Rows = s.Len()
		d.Dropped = s.Dropped
	}
	d.Selected = a.Selected
	d.Target = string(a.Target)
	d.PredictionEnabled = a.PredictionEnabled()

	d.Raw = rawTable(a.Snapshot)
	d.Features = featureTable(a.Features)
	d.Anomalies = anomalyTable(a.Anomalies)
	d.Similar = similarTable(a.Selected, a.Neighbors)
	d.TopMarketCap = topMarketCapChart(a.Snapshot)
	d.VolumeVsPrice = volumePriceChart(a.Snapshot)

	d.Neighbors = a.Neighbors
	if d.Neighbors == nil {
		d.Neighbors = []domain.Neighbor{}
	}

	if a.Model != nil {
		e := a.Model.Evaluation()
		d.Evaluation = &ModelSummary{
			Target:      e.Target,
			Features:    e.Features,
			TrainRows:   e.TrainRows,
			HoldoutRows: e.HoldoutRows,
			R2:          finite(e.R2),
			MAE:         finite(e.MAE),
		}
		d.Model = modelTable(e)
		d.PredictedActual = predictedActualChart(e)
	} else {
		d.Model = Table{Title: "Model Performance", Columns: []string{"metric", "value"}, Rows: [][]string{}}
		d.PredictedActual = Chart{Title: "Predicted vs Actual", Kind: ChartLine, XLabel: "holdout row", YLabel: string(a.Target), Series: []Series{}}
	}

	for _, stage := range pipeline.Stages {
		if err := a.Err(stage); err != nil {
			if d.Errors == nil {
				d.Errors = make(map[string]string)
			}
			d.Errors[stage] = err.Error()
		}
	}
	return d
}

func rawTable(s *domain.Snapshot) Table {
	t := Table{
		Title:   "Raw Data",
		Columns: []string{"rank", "name", "symbol", "price", "volume_24h", "market_cap", "percent_change_24h"},
		Rows:    [][]string{},
	}
	if s == nil {
		return t
	}
	for i, r := range s.Rows {
		if i == RawRowLimit {
			break
		}
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.Rank),
			r.Name,
			r.Symbol,
			formatPrice(r.Price),
			formatAmount(r.Volume24h),
			formatAmount(r.MarketCap),
			formatRatio(r.PercentChange24h),
		})
	}
	return t
}

func featureTable(rows []domain.FeatureRow) Table {
	t := Table{
		Title:   "Feature Engineering",
		Columns: []string{"name", "price", "price_change", "z_score"},
		Rows:    [][]string{},
	}
	for i, r := range rows {
		if i == FeatureRowLimit {
			break
		}
		t.Rows = append(t.Rows, []string{r.Row.Name, formatPrice(r.Row.Price), formatRatio(r.PriceChange), formatRatio(r.ZScore)})
	}
	return t
}

func anomalyTable(rows []domain.FeatureRow) Table {
	t := Table{
		Title:   "Anomalies",
		Columns: []string{"name", "symbol", "price_change", "z_score"},
		Rows:    [][]string{},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.Row.Name, r.Row.Symbol, formatRatio(r.PriceChange), formatRatio(r.ZScore)})
	}
	return t
}

func similarTable(selected string, neighbors []domain.Neighbor) Table {
	title := "Similar Coins"
	if selected != "" {
		title = fmt.Sprintf("Coins Similar to %s", selected)
	}
	t := Table{Title: title, Columns: []string{"name", "symbol", "score"}, Rows: [][]string{}}
	for _, n := range neighbors {
		t.Rows = append(t.Rows, []string{n.Name, n.Symbol, fmt.Sprintf("%.4f", n.Score)})
	}
	return t
}

func modelTable(e domain.ModelEvaluation) Table {
	return Table{
		Title:   "Model Performance",
		Columns: []string{"metric", "value"},
		Rows: [][]string{
			{"target", e.Target},
			{"features", strings.Join(e.Features, ", ")},
			{"train_rows", strconv.Itoa(e.TrainRows)},
			{"holdout_rows", strconv.Itoa(e.HoldoutRows)},
			{"r2", formatRatio(finite(e.R2))},
			{"mae", formatAmount(finite(e.MAE))},
		},
	}
}

func topMarketCapChart(s *domain.Snapshot) Chart {
	c := Chart{Title: "Top 10 by Market Cap", Kind: ChartBar, XLabel: "name", YLabel: "market_cap", Series: []Series{}}
	if s == nil {
		return c
	}
	var rows []*domain.ListingRow
	for _, r := range s.Rows {
		if r.MarketCap != nil {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return *rows[i].MarketCap > *rows[j].MarketCap })
	if len(rows) > TopMarketCapLimit {
		rows = rows[:TopMarketCapLimit]
	}

	series := Series{Name: "market_cap", Points: make([]Point, 0, len(rows))}
	for i, r := range rows {
		series.Points = append(series.Points, Point{Label: r.Name, X: float64(i), Y: *r.MarketCap})
	}
	c.Series = append(c.Series, series)
	return c
}

func volumePriceChart(s *domain.Snapshot) Chart {
	c := Chart{Title: "Volume vs Price", Kind: ChartScatter, XLabel: "volume_24h", YLabel: "price", Series: []Series{}}
	if s == nil {
		return c
	}
	series := Series{Name: "coins", Points: []Point{}}
	for _, r := range s.Rows {
		vol := features.ColumnVolume24h.Value(r)
		if vol == nil {
			continue
		}
		series.Points = append(series.Points, Point{Label: r.Name, X: *vol, Y: r.Price})
	}
	c.Series = append(c.Series, series)
	return c
}

func predictedActualChart(e domain.ModelEvaluation) Chart {
	actual := Series{Name: "actual", Points: make([]Point, 0, len(e.Holdout))}
	predicted := Series{Name: "predicted", Points: make([]Point, 0, len(e.Holdout))}
	for i, p := range e.Holdout {
		actual.Points = append(actual.Points, Point{Label: p.Name, X: float64(i), Y: p.Actual})
		predicted.Points = append(predicted.Points, Point{Label: p.Name, X: float64(i), Y: p.Predicted})
	}
	return Chart{
		Title:  "Predicted vs Actual",
		Kind:   ChartLine,
		XLabel: "holdout row",
		YLabel: e.Target,
		Series: []Series{actual, predicted},
	}
}

// BuildStockReport builds a stock report with the current time.
func BuildStockReport(ticker string, bars []domain.PriceBar, perf domain.PerformanceStats, sentiment *domain.SentimentSummary) *StockReport {
	return NewGenerator().StockReport(ticker, bars, perf, sentiment)
}

// StockReport lays out the stock view. A nil sentiment leaves its table empty.
func (g *Generator) StockReport(ticker string, bars []domain.PriceBar, perf domain.PerformanceStats, sentiment *domain.SentimentSummary) *StockReport {
	r := &StockReport{
		GeneratedAt: g.now(),
		Ticker:      ticker,
		Days:        perf.Days,
		Performance: perf,
	}

	r.Summary = Table{
		Title:   fmt.Sprintf("%s Performance", ticker),
		Columns: []string{"metric", "value"},
		Rows: [][]string{
			{"start_price", formatPrice(perf.StartPrice)},
			{"end_price", formatPrice(perf.EndPrice)},
			{"change", formatPrice(perf.Change)},
			{"percent_change", formatRatio(perf.PercentChange)},
			{"volatility", formatPrice(perf.Volatility)},
		},
	}

	r.Bars = Table{
		Title:   "Daily Prices",
		Columns: []string{"date", "open", "high", "low", "close", "volume"},
		Rows:    make([][]string, 0, len(bars)),
	}
	closes := Series{Name: "close", Points: make([]Point, 0, len(bars))}
	for i, b := range bars {
		date := b.Date.UTC().Format("2006-01-02")
		r.Bars.Rows = append(r.Bars.Rows, []string{
			date,
			formatPrice(b.Open),
			formatPrice(b.High),
			formatPrice(b.Low),
			formatPrice(b.Close),
			strconv.FormatFloat(b.Volume, 'f', 0, 64),
		})
		closes.Points = append(closes.Points, Point{Label: date, X: float64(i), Y: b.Close})
	}
	r.Closes = Chart{Title: fmt.Sprintf("%s Close", ticker), Kind: ChartLine, XLabel: "date", YLabel: "close", Series: []Series{closes}}

	r.Sentiment = Table{Title: "Sentiment", Columns: []string{"metric", "value"}, Rows: [][]string{}}
	if sentiment != nil {
		r.Sentiment.Rows = [][]string{
			{"posts", strconv.Itoa(len(sentiment.Posts))},
			{"positive", strconv.Itoa(len(sentiment.Positive))},
			{"negative", strconv.Itoa(len(sentiment.Negative))},
		}
	}
	return r
}

// finite returns nil for NaN and infinities.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

const missing = "n/a"

func formatPrice(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func formatAmount(v *float64) string {
	if v == nil {
		return missing
	}
	return strconv.FormatFloat(*v, 'f', 0, 64)
}

func formatRatio(v *float64) string {
	if v == nil {
		return missing
	}
	return fmt.Sprintf("%.4f", *v)
}
