package poller

import (
	"context"
	"sync"
	"time"

	"farmstats/internal/pool"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Store persists fetched results.
type Store interface {
	SaveSnapshot(ctx context.Context, result *pool.Result) (int64, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher receives every successful result.
type Publisher interface {
	Publish(result *pool.Result)
}

// Config holds poller settings.
type Config struct {
	Interval  time.Duration
	Retention time.Duration
	// MaxConcurrent bounds how many pools are fetched at once.
	MaxConcurrent int
}

// Poller periodically fetches every configured pool, stores the results and
// hands them to the publishers.
type Poller struct {
	cfg        Config
	fetchers   []*pool.Fetcher
	pc         pool.PoolContext
	store      Store
	publishers []Publisher
	now        func() time.Time
}

// New creates a poller. store may be nil.
func New(cfg Config, fetchers []*pool.Fetcher, pc pool.PoolContext, store Store, publishers ...Publisher) *Poller {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Poller{
		cfg:        cfg,
		fetchers:   fetchers,
		pc:         pc,
		store:      store,
		publishers: publishers,
		now:        time.Now,
	}
}

// Run polls once immediately, then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", p.cfg.Interval).
		Int("pools", len(p.fetchers)).
		Msg("Starting pool poller")

	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches every pool and returns the successful results in pool
// order. Failures are logged and skipped.
func (p *Poller) PollOnce(ctx context.Context) []*pool.Result {
	startTime := time.Now()
	results := make([]*pool.Result, len(p.fetchers))

	var mu sync.Mutex
	failed := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrent)

	for i, f := range p.fetchers {
		i, f := i, f
		g.Go(func() error {
			result, err := f.Fetch(gCtx, p.pc)
			if err != nil {
				log.Error().Err(err).Str("pool", f.Config().Key).Msg("Pool fetch failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			p.handle(gCtx, result)
			results[i] = result
			return nil
		})
	}
	g.Wait()

	p.prune(ctx)

	out := make([]*pool.Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}

	log.Info().
		Int("fetched", len(out)).
		Int("failed", failed).
		Dur("duration", time.Since(startTime)).
		Msg("Poll cycle complete")

	return out
}

func (p *Poller) handle(ctx context.Context, result *pool.Result) {
	if p.store != nil {
		if _, err := p.store.SaveSnapshot(ctx, result); err != nil {
			log.Warn().Err(err).Str("pool", result.Key).Msg("Failed to persist snapshot")
		}
	}
	for _, pub := range p.publishers {
		pub.Publish(result)
	}
}

func (p *Poller) prune(ctx context.Context) {
	if p.store == nil || p.cfg.Retention <= 0 {
		return
	}
	removed, err := p.store.PruneBefore(ctx, p.now().UTC().Add(-p.cfg.Retention))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to prune snapshots")
		return
	}
	if removed > 0 {
		log.Debug().Int64("removed", removed).Msg("Pruned old snapshots")
	}
}
