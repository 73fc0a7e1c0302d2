// Command insight fetches cryptocurrency listings and turns them into
// feature tables, similarity rankings, anomaly lists and a market-cap model.
//
// Usage:
//
//	insight analyze [--input listings.json] [--output-dir out/]
//	insight serve   [--addr :8080]
//	insight stock   [--ticker AAPL] [--days 7]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"market-insight-lab/internal/config"
	"market-insight-lab/internal/observability"
)

// app carries settings resolved by the root command to its subcommands.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger zerolog.Logger
	stdout io.Writer
	stderr io.Writer
	stdin  *os.File
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: os.Stdout, stderr: os.Stderr, stdin: os.Stdin}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "insight",
		Short:         "Crypto market insight: features, similarity, anomalies and predictions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error), overrides config")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (console|json), overrides config")

	root.AddCommand(newAnalyzeCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newStockCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}

	logger, err := observability.NewLogger(a.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.With().Str("cmd", cmd.Name()).Logger()
	return nil
}
