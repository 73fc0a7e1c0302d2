package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"market-insight-lab/internal/observability"
	"market-insight-lab/internal/server"
	"market-insight-lab/internal/session"
	"market-insight-lab/internal/stocks"
)

const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	query    queryFlags
	addr     string
	selected string
	target   string
}

func newServeCmd(a *app) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP dashboard server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), f)
		},
	}
	addQueryFlags(cmd.Flags(), &f.query)
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address, overrides config")
	cmd.Flags().StringVar(&f.selected, "select", "", "default coin to rank neighbors for")
	cmd.Flags().StringVar(&f.target, "target", "", "default prediction target column")
	return cmd
}

func (a *app) runServe(ctx context.Context, f serveFlags) error {
	f.query.apply(&a.cfg)
	if f.addr != "" {
		a.cfg.Server.Addr = f.addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg, observability.DefaultNamespace)

	key, err := a.promptAPIKey(f.query.prompt)
	if err != nil {
		return err
	}
	if key == "" {
		a.logger.Warn().Msg("no CoinMarketCap API key configured, sessions must supply one")
	}

	cache, closeCache, err := a.listingCache(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	popts, err := a.pipelineOptions(f.selected, f.target, metrics)
	if err != nil {
		return err
	}

	mgr := session.NewManager(session.ManagerOptions{
		Loader:   a.loader(a.cmcClient(key), cache, metrics),
		Pipeline: popts,
		IdleTTL:  a.cfg.Server.SessionIdleTTL,
		Metrics:  metrics,
		Logger:   &a.logger,
	})
	stockClient := stocks.NewClient(
		stocks.WithBaseURL(a.cfg.Stocks.BaseURL),
		stocks.WithMetrics(metrics),
		stocks.WithLogger(a.logger),
	)

	srv := server.New(server.Options{
		Sessions: mgr,
		Stocks:   stockClient,
		Gatherer: reg,
		Metrics:  metrics,
		Logger:   &a.logger,
	})
	go mgr.Run(ctx, a.cfg.Server.EvictInterval)

	a.logger.Info().
		Str("addr", a.cfg.Server.Addr).
		Str("cache", a.cfg.Cache.Backend).
		Dur("cache_ttl", a.cfg.Cache.TTL).
		Msg("starting dashboard server")
	return srv.ListenAndServe(ctx, a.cfg.Server.Addr, shutdownTimeout)
}
