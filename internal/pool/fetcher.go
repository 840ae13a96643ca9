package pool

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"farmstats/internal/contract"
	"farmstats/internal/format"
	"farmstats/internal/metrics"
	"farmstats/internal/price"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Chain is a read-only connection able to make single and batched calls.
type Chain interface {
	contract.Caller
	contract.BatchCaller
}

// PoolContext is the per-invocation input: who is asking and over which connection.
type PoolContext struct {
	Chain   Chain
	Account common.Address
}

// Fetcher computes stats for one configured pool.
type Fetcher struct {
	cfg     Config
	prices  price.Service
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewFetcher creates a fetcher for cfg. m may be nil.
func NewFetcher(cfg Config, prices price.Service, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		prices:  prices,
		metrics: m,
		now:     time.Now,
	}
}

// Config returns the pool configuration.
func (f *Fetcher) Config() Config {
	return f.cfg
}

// handles are the four contracts read for a pool.
type handles struct {
	rewardPool     *contract.Handle
	stakingToken   *contract.Handle
	referenceToken *contract.Handle
	rewardToken    *contract.Handle
}

func (f *Fetcher) bind(chain Chain) handles {
	rewardTokenABI := contract.ERC20ABI
	if f.cfg.Rebasing {
		rewardTokenABI = contract.RebasingTokenABI
	}

	return handles{
		rewardPool:     contract.Bind(chain, common.HexToAddress(f.cfg.RewardPool), contract.RewardPoolABI),
		stakingToken:   contract.Bind(chain, common.HexToAddress(f.cfg.StakingToken.Address), contract.ERC20ABI),
		referenceToken: contract.Bind(chain, common.HexToAddress(f.cfg.ReferenceToken.Address), contract.ERC20ABI),
		rewardToken:    contract.Bind(chain, common.HexToAddress(f.cfg.RewardToken.Address), rewardTokenABI),
	}
}

// chainState holds the raw integers read from the pool's contracts.
type chainState struct {
	scalingFactor     *big.Int
	referenceInPair   *big.Int
	rewardTokenInPair *big.Int
	staked            *big.Int
	earned            *big.Int
	stakingSupply     *big.Int
	totalStaked       *big.Int
}

// Fetch reads the pool state and prices and returns the display record.
// Any chain or price failure fails the whole call.
func (f *Fetcher) Fetch(ctx context.Context, pc PoolContext) (*Result, error) {
	startTime := time.Now()
	h := f.bind(pc.Chain)

	var (
		state        *chainState
		weeklyTokens *big.Int
		quotes       price.Quotes
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := f.readChainState(gCtx, pc, h)
		if err != nil {
			f.recordError("chain")
			return fmt.Errorf("reading chain state: %w", err)
		}
		state = s
		return nil
	})

	g.Go(func() error {
		w, err := WeeklyRewards(gCtx, h.rewardPool, f.now())
		if err != nil {
			f.recordError("rewards")
			return fmt.Errorf("reading weekly rewards: %w", err)
		}
		weeklyTokens = w
		return nil
	})

	g.Go(func() error {
		priceStart := time.Now()
		q, err := f.prices.GetPrices(gCtx, []string{f.cfg.RewardToken.PriceID, f.cfg.ReferenceToken.PriceID})
		if err != nil {
			f.recordError("prices")
			return fmt.Errorf("looking up prices: %w", err)
		}
		if f.metrics != nil {
			f.metrics.RecordPriceLatency(time.Since(priceStart))
		}
		quotes = q
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pool %s: %w", f.cfg.Key, err)
	}

	rewardPrice, err := quotes.Get(f.cfg.RewardToken.PriceID)
	if err != nil {
		f.recordError("prices")
		return nil, fmt.Errorf("pool %s: %w", f.cfg.Key, err)
	}
	referencePrice, err := quotes.Get(f.cfg.ReferenceToken.PriceID)
	if err != nil {
		f.recordError("prices")
		return nil, fmt.Errorf("pool %s: %w", f.cfg.Key, err)
	}

	in := f.toInputs(state, weeklyTokens)
	in.RewardTokenPrice = rewardPrice
	in.ReferenceTokenPrice = referencePrice

	m := Compute(in)
	result := f.assemble(m, pc.Account)

	if !m.Finite() {
		log.Warn().
			Str("pool", f.cfg.Key).
			Float64("total_staked", in.TotalStaked).
			Float64("staking_token_supply", in.StakingTokenSupply).
			Msg("Pool stats contain non-finite values")
		if f.metrics != nil {
			f.metrics.RecordNonFinite(f.cfg.Key)
		}
	} else if f.metrics != nil {
		f.metrics.SetPoolFigures(f.cfg.Key, m.APR, m.PoolStakedValue)
	}

	if f.metrics != nil {
		f.metrics.RecordFetch(f.cfg.Key, time.Since(startTime))
	}

	log.Debug().
		Str("pool", f.cfg.Key).
		Str("account", pc.Account.Hex()).
		Str("apr", result.APR).
		Dur("duration", time.Since(startTime)).
		Msg("Fetched pool stats")

	return result, nil
}

// readChainState reads every balance in one Multicall3 batch so the values
// come from the same block.
func (f *Fetcher) readChainState(ctx context.Context, pc PoolContext, h handles) (*chainState, error) {
	startTime := time.Now()
	batch := contract.NewBatch(pc.Chain)

	scalingIdx := -1
	if f.cfg.Rebasing {
		scalingIdx = batch.Add(h.rewardToken, "yamsScalingFactor")
	}
	referenceIdx := batch.Add(h.referenceToken, "balanceOf", h.stakingToken.Address)
	rewardIdx := batch.Add(h.rewardToken, "balanceOf", h.stakingToken.Address)
	stakedIdx := batch.Add(h.rewardPool, "balanceOf", pc.Account)
	earnedIdx := batch.Add(h.rewardPool, "earned", pc.Account)
	supplyIdx := batch.Add(h.stakingToken, "totalSupply")
	totalStakedIdx := batch.Add(h.stakingToken, "balanceOf", h.rewardPool.Address)

	outputs, err := batch.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if f.metrics != nil {
		f.metrics.RecordChainLatency(time.Since(startTime))
	}

	s := &chainState{
		// A non-rebasing token behaves like a scaling factor of exactly one.
		scalingFactor: new(big.Int).Exp(big.NewInt(10), big.NewInt(scalingFactorDecimals), nil),
	}
	targets := []struct {
		idx int
		dst **big.Int
	}{
		{scalingIdx, &s.scalingFactor},
		{referenceIdx, &s.referenceInPair},
		{rewardIdx, &s.rewardTokenInPair},
		{stakedIdx, &s.staked},
		{earnedIdx, &s.earned},
		{supplyIdx, &s.stakingSupply},
		{totalStakedIdx, &s.totalStaked},
	}
	for _, t := range targets {
		if t.idx < 0 {
			continue
		}
		v, err := batch.BigAt(outputs, t.idx)
		if err != nil {
			return nil, err
		}
		*t.dst = v
	}

	return s, nil
}

// toInputs converts raw chain integers into token amounts.
func (f *Fetcher) toInputs(s *chainState, weeklyTokens *big.Int) Inputs {
	scale := normalize(s.scalingFactor, scalingFactorDecimals)

	return Inputs{
		ScalingFactor:      toFloat(scale),
		ReferenceInPair:    toFloat(normalize(s.referenceInPair, f.cfg.ReferenceToken.Decimals)),
		RewardTokenInPair:  toFloat(normalize(s.rewardTokenInPair, f.cfg.RewardToken.Decimals)),
		Staked:             toFloat(normalize(s.staked, f.cfg.StakingToken.Decimals)),
		Earned:             toFloat(scale.Mul(normalize(s.earned, f.cfg.RewardToken.Decimals))),
		StakingTokenSupply: toFloat(normalize(s.stakingSupply, f.cfg.StakingToken.Decimals)),
		TotalStaked:        toFloat(normalize(s.totalStaked, f.cfg.StakingToken.Decimals)),
		WeeklyReward:       toFloat(decimal.NewFromBigInt(weeklyTokens, 0).Mul(scale)),
	}
}

func (f *Fetcher) assemble(m Metrics, account common.Address) *Result {
	reward := f.cfg.RewardToken.Ticker

	links := make([]Link, len(f.cfg.Links))
	copy(links, f.cfg.Links)

	return &Result{
		Key:         f.cfg.Key,
		Provider:    f.cfg.Provider,
		Name:        f.cfg.Name,
		PoolRewards: []string{reward},
		APR:         format.ToFixed(m.APR, 4),
		Prices: []Entry{
			{Label: reward, Value: format.ToDollar(m.RewardTokenPrice)},
			{Label: f.cfg.StakingToken.Ticker, Value: format.ToDollar(m.StakingTokenPrice)},
		},
		Staking: []Entry{
			{Label: "Pool Total", Value: format.ToDollar(m.PoolStakedValue)},
			{Label: "Your Total", Value: format.ToDollar(m.StakedValue)},
		},
		Rewards: []Entry{
			{Label: format.ToFixed(m.Earned, 4) + " " + reward, Value: format.ToDollar(m.EarnedValue)},
		},
		ROIs: []Entry{
			{Label: "Hourly", Value: format.Percent(m.HourlyROI)},
			{Label: "Daily", Value: format.Percent(m.DailyROI)},
			{Label: "Weekly", Value: format.Percent(m.WeeklyROI)},
		},
		Links:     links,
		Account:   account.Hex(),
		FetchedAt: f.now().UTC(),
		Metrics:   m,
	}
}

func (f *Fetcher) recordError(stage string) {
	if f.metrics != nil {
		f.metrics.RecordFetchError(f.cfg.Key, stage)
	}
}
