package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/reporting"
	"market-insight-lab/internal/server"
	"market-insight-lab/internal/stocks"
)

type stockFlags struct {
	ticker    string
	days      int
	sentiment bool
}

func newStockCmd(a *app) *cobra.Command {
	var f stockFlags
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Print a stock performance and sentiment report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStock(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.ticker, "ticker", "", "stock ticker (config default when empty)")
	cmd.Flags().IntVar(&f.days, "days", 0, fmt.Sprintf("day window, clamped to [%d, %d]", stocks.MinDays, stocks.MaxDays))
	cmd.Flags().BoolVar(&f.sentiment, "sentiment", true, "include the sample-post sentiment tally")
	return cmd
}

func (a *app) runStock(ctx context.Context, f stockFlags) error {
	ticker := f.ticker
	if ticker == "" {
		ticker = a.cfg.Stocks.Ticker
	}
	days := f.days
	if days == 0 {
		days = a.cfg.Stocks.Days
	}

	client := stocks.NewClient(
		stocks.WithBaseURL(a.cfg.Stocks.BaseURL),
		stocks.WithLogger(a.logger),
	)
	return a.writeStockReport(ctx, client, ticker, days, f.sentiment)
}

func (a *app) writeStockReport(ctx context.Context, src server.StockSource, ticker string, days int, withSentiment bool) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	bars, err := src.Recent(ctx, ticker, days)
	if err != nil {
		return err
	}
	perf, err := stocks.Performance(ticker, bars)
	if err != nil {
		return err
	}

	var sentiment *domain.SentimentSummary
	if withSentiment {
		s := stocks.TallySentiment(stocks.SamplePosts(ticker), stocks.DefaultLexicon)
		sentiment = &s
	}
	report := reporting.BuildStockReport(ticker, bars, perf, sentiment)
	_, err = fmt.Fprint(a.stdout, reporting.RenderStockMarkdown(report))
	return err
}
