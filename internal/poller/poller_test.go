package poller

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"farmstats/internal/contract"
	"farmstats/internal/contract/contracttest"
	"farmstats/internal/pool"
	"farmstats/internal/price"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var testAccount = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// seedPool registers a healthy state for cfg on chain.
func seedPool(chain *contracttest.FakeChain, cfg pool.Config) {
	rewardPool := common.HexToAddress(cfg.RewardPool)
	staking := common.HexToAddress(cfg.StakingToken.Address)
	reward := common.HexToAddress(cfg.RewardToken.Address)
	reference := common.HexToAddress(cfg.ReferenceToken.Address)

	chain.SetUint(reward, contract.RebasingTokenABI, "yamsScalingFactor", e18(1))
	chain.SetUint(reward, contract.RebasingTokenABI, "balanceOf", e18(1000), staking)
	chain.SetUint(reference, contract.ERC20ABI, "balanceOf", e18(2000), staking)
	chain.SetUint(rewardPool, contract.RewardPoolABI, "balanceOf", e18(10), testAccount)
	chain.SetUint(rewardPool, contract.RewardPoolABI, "earned", e18(3), testAccount)
	chain.SetUint(rewardPool, contract.RewardPoolABI, "rewardRate", new(big.Int).Div(e18(100), big.NewInt(604800)))
	chain.SetUint(rewardPool, contract.RewardPoolABI, "periodFinish", big.NewInt(time.Now().Add(time.Hour).Unix()))
	chain.SetUint(staking, contract.ERC20ABI, "totalSupply", e18(500))
	chain.SetUint(staking, contract.ERC20ABI, "balanceOf", e18(50), rewardPool)
}

type fakeStore struct {
	mu      sync.Mutex
	saved   []*pool.Result
	pruned  []time.Time
	saveErr error
}

func (s *fakeStore) SaveSnapshot(ctx context.Context, result *pool.Result) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	s.saved = append(s.saved, result)
	return int64(len(s.saved)), nil
}

func (s *fakeStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, cutoff)
	return 0, nil
}

type recorder struct {
	mu      sync.Mutex
	results []*pool.Result
}

func (r *recorder) Publish(result *pool.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func brokenPool() pool.Config {
	cfg := pool.YAMyCRV()
	cfg.Key = "broken"
	cfg.RewardPool = "0x1111111111111111111111111111111111111111"
	cfg.Rebasing = false
	return cfg
}

func newTestPoller(cfg Config, store Store, pub Publisher, pools ...pool.Config) *Poller {
	chain := contracttest.NewFakeChain()
	seedPool(chain, pool.YAMyCRV())

	prices := price.Static{"yam": 2, "curve-fi-ydai-yusdc-yusdt-ytusd": 1}
	fetchers := make([]*pool.Fetcher, len(pools))
	for i, p := range pools {
		fetchers[i] = pool.NewFetcher(p, prices, nil)
	}
	return New(cfg, fetchers, pool.PoolContext{Chain: chain, Account: testAccount}, store, pub)
}

func TestPollOnceStoresAndPublishes(t *testing.T) {
	store := &fakeStore{}
	pub := &recorder{}
	p := newTestPoller(Config{Interval: time.Minute}, store, pub, pool.YAMyCRV())

	results := p.PollOnce(context.Background())
	require.Len(t, results, 1)
	require.Equal(t, "yam-ycrv", results[0].Key)
	require.Equal(t, "2600", results[0].APR)

	require.Len(t, store.saved, 1)
	require.Equal(t, 1, pub.count())
	require.Empty(t, store.pruned)
}

func TestPollOnceSkipsFailedPool(t *testing.T) {
	store := &fakeStore{}
	pub := &recorder{}
	p := newTestPoller(Config{Interval: time.Minute}, store, pub, brokenPool(), pool.YAMyCRV())

	results := p.PollOnce(context.Background())
	require.Len(t, results, 1)
	require.Equal(t, "yam-ycrv", results[0].Key)
	require.Len(t, store.saved, 1)
}

func TestPersistFailureStillPublishes(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full")}
	pub := &recorder{}
	p := newTestPoller(Config{Interval: time.Minute}, store, pub, pool.YAMyCRV())

	p.PollOnce(context.Background())
	require.Equal(t, 1, pub.count())
}

func TestNilStore(t *testing.T) {
	pub := &recorder{}
	p := newTestPoller(Config{Interval: time.Minute, Retention: time.Hour}, nil, pub, pool.YAMyCRV())

	require.Len(t, p.PollOnce(context.Background()), 1)
	require.Equal(t, 1, pub.count())
}

func TestRetentionPrunes(t *testing.T) {
	store := &fakeStore{}
	p := newTestPoller(Config{Interval: time.Minute, Retention: 24 * time.Hour}, store, &recorder{}, pool.YAMyCRV())
	fixed := time.Date(2020, 8, 20, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.PollOnce(context.Background())
	require.Equal(t, []time.Time{fixed.Add(-24 * time.Hour)}, store.pruned)
}

func TestRunPollsImmediatelyAndStops(t *testing.T) {
	pub := &recorder{}
	p := newTestPoller(Config{Interval: time.Hour}, nil, pub, pool.YAMyCRV())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRetentionCutoffIsUTC(t *testing.T) {
	store := &fakeStore{}
	p := newTestPoller(Config{Interval: time.Minute, Retention: time.Hour}, store, &recorder{}, pool.YAMyCRV())
	jst := time.FixedZone("JST", 9*60*60)
	p.now = func() time.Time { return time.Date(2020, 8, 20, 21, 0, 0, 0, jst) }

	p.PollOnce(context.Background())
	require.Len(t, store.pruned, 1)
	require.Equal(t, time.UTC, store.pruned[0].Location())
	require.True(t, store.pruned[0].Equal(time.Date(2020, 8, 20, 11, 0, 0, 0, time.UTC)))
}
