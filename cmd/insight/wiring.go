package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"market-insight-lab/internal/config"
	"market-insight-lab/internal/features"
	"market-insight-lab/internal/ingestion"
	"market-insight-lab/internal/observability"
	"market-insight-lab/internal/pipeline"
	"market-insight-lab/internal/prediction"
	"market-insight-lab/internal/storage"
	"market-insight-lab/internal/storage/memory"
	redisstore "market-insight-lab/internal/storage/redis"
)

// queryFlags are the listing flags shared by analyze and serve.
type queryFlags struct {
	apiKey  string
	start   int
	limit   int
	convert string
	prompt  bool
}

func addQueryFlags(fs *pflag.FlagSet, q *queryFlags) {
	fs.StringVar(&q.apiKey, "api-key", "", "CoinMarketCap API key, overrides config and CMC_API_KEY")
	fs.IntVar(&q.start, "start", 0, "1-based listing offset (config default when 0)")
	fs.IntVar(&q.limit, "limit", 0, "number of listings to fetch (config default when 0)")
	fs.StringVar(&q.convert, "convert", "", "quote currency (config default when empty)")
	fs.BoolVar(&q.prompt, "prompt-key", true, "ask for the API key on a terminal when none is configured")
}

// apply merges the flags over cfg.
func (q queryFlags) apply(cfg *config.Config) {
	if q.apiKey != "" {
		cfg.CMC.APIKey = q.apiKey
	}
	if q.start > 0 {
		cfg.CMC.Start = q.start
	}
	if q.limit > 0 {
		cfg.CMC.Limit = q.limit
	}
	if q.convert != "" {
		cfg.CMC.Convert = q.convert
	}
}

func listingQuery(cfg config.Config) ingestion.Query {
	return ingestion.Query{
		Start:   cfg.CMC.Start,
		Limit:   cfg.CMC.Limit,
		Convert: cfg.CMC.Convert,
	}.WithDefaults()
}

// promptAPIKey reads the key without echo when stdin is a terminal and no
// key is configured. It returns the configured key otherwise.
func (a *app) promptAPIKey(enabled bool) (string, error) {
	if a.cfg.CMC.APIKey != "" || !enabled || a.stdin == nil {
		return a.cfg.CMC.APIKey, nil
	}
	fd := int(a.stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	fmt.Fprint(a.stderr, "CoinMarketCap API key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(a.stderr)
	if err != nil {
		return "", fmt.Errorf("read API key: %w", err)
	}
	return strings.TrimSpace(string(key)), nil
}

func (a *app) cmcClient(apiKey string) *ingestion.CMCClient {
	opts := []ingestion.ClientOption{
		ingestion.WithBaseURL(a.cfg.CMC.BaseURL),
		ingestion.WithTimeout(a.cfg.CMC.Timeout),
		ingestion.WithBreaker(ingestion.DefaultBreakerSettings("cmc")),
		ingestion.WithLogger(a.logger),
	}
	if a.cfg.CMC.RateLimit > 0 {
		opts = append(opts, ingestion.WithRateLimit(a.cfg.CMC.RateLimit, a.cfg.CMC.Burst))
	}
	return ingestion.NewCMCClient(apiKey, opts...)
}

// listingCache builds the configured cache. The returned close function is
// never nil.
func (a *app) listingCache(ctx context.Context) (storage.ListingCache, func(), error) {
	switch strings.ToLower(a.cfg.Cache.Backend) {
	case config.CacheRedis:
		client, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:     a.cfg.Cache.Redis.Addr,
			Password: a.cfg.Cache.Redis.Password,
			DB:       a.cfg.Cache.Redis.DB,
		})
		if err != nil {
			return nil, func() {}, err
		}
		a.logger.Info().Str("addr", a.cfg.Cache.Redis.Addr).Msg("using redis listing cache")
		return redisstore.NewListingCache(client, a.cfg.Cache.Redis.Prefix), func() { _ = client.Close() }, nil
	case config.CacheNone:
		return nil, func() {}, nil
	default:
		return memory.NewListingCache(), func() {}, nil
	}
}

func (a *app) loader(source ingestion.ListingSource, cache storage.ListingCache, metrics *observability.Metrics) *ingestion.Loader {
	return ingestion.NewLoader(ingestion.LoaderOptions{
		Source:  source,
		Cache:   cache,
		TTL:     a.cfg.Cache.TTL,
		Metrics: metrics,
		Logger:  &a.logger,
	})
}

// pipelineOptions builds pipeline settings from config, with the target
// overridden when target is non-empty.
func (a *app) pipelineOptions(selected, target string, metrics *observability.Metrics) (pipeline.Options, error) {
	if target == "" {
		target = a.cfg.Analysis.Target
	}
	col, err := features.ParseColumn(target)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Selected: selected,
		K:        a.cfg.Analysis.Neighbors,
		Target:   col,
		Prediction: prediction.Options{
			MinRows:      a.cfg.Analysis.MinRows,
			TestFraction: a.cfg.Analysis.TestFraction,
			Seed:         a.cfg.Analysis.Seed,
		},
		Metrics: metrics,
		Logger:  &a.logger,
	}, nil
}
