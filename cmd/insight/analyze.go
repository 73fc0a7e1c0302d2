package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/ingestion"
	"market-insight-lab/internal/pipeline"
	"market-insight-lab/internal/reporting"
)

type analyzeFlags struct {
	query     queryFlags
	input     string
	outputDir string
	selected  string
	target    string
	fresh     bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Fetch one snapshot and print the analysis report",
		Long: `Fetch the listing snapshot (or read it from --input), run the feature,
similarity, anomaly and prediction stages, and print a Markdown report.
With --output-dir every table is also written as CSV.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAnalyze(cmd.Context(), f)
		},
	}
	addQueryFlags(cmd.Flags(), &f.query)
	cmd.Flags().StringVar(&f.input, "input", "", "read the listing response from this file instead of fetching")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "also write every table as <dir>/<table>.csv")
	cmd.Flags().StringVar(&f.selected, "select", "", "coin to rank neighbors for (first row when empty)")
	cmd.Flags().StringVar(&f.target, "target", "", "prediction target column (price, volume_24h or market_cap)")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "bypass the listing cache")
	return cmd
}

func (a *app) runAnalyze(ctx context.Context, f analyzeFlags) error {
	f.query.apply(&a.cfg)

	snapshot, err := a.snapshot(ctx, f)
	if err != nil {
		return err
	}

	opts, err := a.pipelineOptions(f.selected, f.target, nil)
	if err != nil {
		return err
	}
	analysis := pipeline.Run(ctx, snapshot, opts)
	dashboard := reporting.BuildDashboard(analysis)

	if f.outputDir != "" {
		if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		sink := &reporting.CSVDirSink{Dir: f.outputDir}
		if err := reporting.Render(dashboard, sink, nil); err != nil {
			return err
		}
		a.logger.Info().Str("dir", f.outputDir).Int("files", len(sink.Written)).Msg("CSV tables written")
	}

	_, err = fmt.Fprint(a.stdout, reporting.RenderMarkdown(dashboard))
	return err
}

func (a *app) snapshot(ctx context.Context, f analyzeFlags) (*domain.Snapshot, error) {
	if f.input != "" {
		raw, err := os.ReadFile(f.input)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		snapshot, err := ingestion.Ingest(raw, ingestion.Options{
			Currency:   a.cfg.CMC.Convert,
			CapturedAt: time.Now().UTC(),
			Logger:     &a.logger,
		})
		if err != nil {
			return nil, err
		}
		evt := a.logger.Info()
		if snapshot.Dropped > 0 {
			evt = a.logger.Warn()
		}
		evt.Str("input", f.input).
			Int("rows", snapshot.Len()).
			Int("dropped", snapshot.Dropped).
			Msg("listing file ingested")
		return snapshot, nil
	}

	key, err := a.promptAPIKey(f.query.prompt)
	if err != nil {
		return nil, err
	}
	cache, closeCache, err := a.listingCache(ctx)
	if err != nil {
		return nil, err
	}
	defer closeCache()

	loader := a.loader(a.cmcClient(key), cache, nil)
	return loader.Load(ctx, ingestion.Request{Query: listingQuery(a.cfg), Fresh: f.fresh})
}
