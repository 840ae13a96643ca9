package pool

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"farmstats/internal/contract"

	"github.com/shopspring/decimal"
)

const secondsPerWeek = 7 * 24 * 60 * 60

// WeeklyRewards returns the whole number of reward tokens a Synthetix-style
// reward pool distributes per week at its current rate. It is zero once the
// reward period has finished.
func WeeklyRewards(ctx context.Context, rewardPool *contract.Handle, now time.Time) (*big.Int, error) {
	finish, err := rewardPool.CallBig(ctx, "periodFinish")
	if err != nil {
		return nil, fmt.Errorf("reading period finish: %w", err)
	}
	if finish.Cmp(big.NewInt(now.Unix())) < 0 {
		return new(big.Int), nil
	}

	rate, err := rewardPool.CallBig(ctx, "rewardRate")
	if err != nil {
		return nil, fmt.Errorf("reading reward rate: %w", err)
	}

	weekly := decimal.NewFromBigInt(rate, -18).
		Mul(decimal.NewFromInt(secondsPerWeek)).
		Round(0)
	return weekly.BigInt(), nil
}
