package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmstats/internal/broadcast"
	"farmstats/internal/config"
	"farmstats/internal/metrics"
	"farmstats/internal/persistence"
	"farmstats/internal/poller"
	"farmstats/internal/pool"
	"farmstats/internal/price"
	"farmstats/pkg/chain/evm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	once := flag.Bool("once", false, "Fetch every pool once, print JSON and exit")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// .env file is optional
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Logging, *once)
	log.Info().Int("pools", len(cfg.Pools)).Msg("Starting farmstats")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if *once {
		err = runOnce(ctx, cfg)
	} else {
		err = run(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("farmstats shutdown complete")
}

// components are shared by both run modes.
type components struct {
	client   *evm.Client
	fetchers []*pool.Fetcher
	pc       pool.PoolContext
}

func setup(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*components, error) {
	client, err := evm.NewClient(cfg.Chain.RPCURL, cfg.Chain.RequestsPerSecond)
	if err != nil {
		return nil, err
	}

	chainID, err := client.ExpectChainID(ctx, cfg.Chain.ChainID)
	if err != nil {
		client.Close()
		return nil, err
	}
	log.Info().Str("chain_id", chainID.String()).Msg("RPC client connected")

	prices := price.NewCoinGecko(price.CoinGeckoConfig{
		BaseURL:           cfg.Price.BaseURL,
		APIKey:            cfg.Price.APIKey,
		Currency:          cfg.Price.Currency,
		RequestsPerMinute: cfg.Price.RequestsPerMinute,
	})

	fetchers := make([]*pool.Fetcher, len(cfg.Pools))
	for i, p := range cfg.Pools {
		fetchers[i] = pool.NewFetcher(p, prices, m)
	}

	return &components{
		client:   client,
		fetchers: fetchers,
		pc: pool.PoolContext{
			Chain:   client,
			Account: common.HexToAddress(cfg.Account),
		},
	}, nil
}

func runOnce(ctx context.Context, cfg *config.Config) error {
	c, err := setup(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer c.client.Close()

	results := make([]*pool.Result, 0, len(c.fetchers))
	for _, f := range c.fetchers {
		result, err := f.Fetch(ctx, c.pc)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()

	store, err := persistence.NewStore(cfg.Persistence.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("path", cfg.Persistence.SQLitePath).Msg("SQLite initialized")

	for _, p := range cfg.Pools {
		if err := store.UpsertPool(ctx, p); err != nil {
			return fmt.Errorf("registering pool %s: %w", p.Key, err)
		}
	}

	c, err := setup(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer c.client.Close()

	hub := broadcast.NewHub(m)
	seedHub(ctx, hub, store, cfg.Pools)

	if cfg.Metrics.Enabled {
		extra := map[string]http.Handler{
			"/api/stats": hub.StatsHandler(),
		}
		if cfg.Dashboard.Enabled {
			extra["/ws"] = hub
		}
		if err := m.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, extra); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
	}

	p := poller.New(poller.Config{
		Interval:  cfg.Poller.Interval,
		Retention: cfg.Poller.Retention,
	}, c.fetchers, c.pc, store, hub)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gCtx)
	})

	g.Go(func() error {
		return p.Run(gCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// seedHub loads the last stored snapshot of each pool so /api/stats answers
// before the first poll completes.
func seedHub(ctx context.Context, hub *broadcast.Hub, store *persistence.Store, pools []pool.Config) {
	for _, p := range pools {
		snap, err := store.LatestSnapshot(ctx, p.Key)
		if err != nil {
			log.Warn().Err(err).Str("pool", p.Key).Msg("Failed to load latest snapshot")
			continue
		}
		if snap != nil {
			hub.Publish(&snap.Result)
		}
	}
}

func setupLogging(cfg config.LoggingConfig, once bool) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// stdout carries the JSON results in -once mode
	out := os.Stdout
	if once {
		out = os.Stderr
	}

	if cfg.Format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
