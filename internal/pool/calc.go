package pool

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	weeksPerYear = 52
	daysPerWeek  = 7
	hoursPerWeek = 168

	// scalingFactorDecimals is the fixed-point precision of a rebasing
	// token's scaling factor, independent of the token's own decimals.
	scalingFactorDecimals = 18
)

// Inputs are the normalized on-chain reads and prices for one pool.
type Inputs struct {
	ScalingFactor       float64 // rebasing multiplier, 1 for non-rebasing tokens
	ReferenceInPair     float64 // reference token units held by the LP pair
	RewardTokenInPair   float64 // reward token units held by the LP pair
	Staked              float64 // account's staked LP units
	Earned              float64 // account's pending reward, already rebased
	StakingTokenSupply  float64 // LP total supply
	TotalStaked         float64 // LP units deposited in the reward pool
	WeeklyReward        float64 // reward tokens distributed per week, rebased
	RewardTokenPrice    float64
	ReferenceTokenPrice float64
}

// Metrics are the derived figures. Division by a zero stake or supply is not
// guarded: the affected fields become NaN or ±Inf and propagate.
type Metrics struct {
	Inputs

	RewardPerToken    float64
	StakingTokenPrice float64
	WeeklyROI         float64
	DailyROI          float64
	HourlyROI         float64
	APR               float64

	PoolStakedValue float64
	StakedValue     float64
	EarnedValue     float64
}

// Compute derives prices, values and ROI from normalized inputs.
func Compute(in Inputs) Metrics {
	m := Metrics{Inputs: in}

	m.RewardPerToken = in.WeeklyReward / in.TotalStaked
	m.StakingTokenPrice = (in.RewardTokenInPair*in.RewardTokenPrice +
		in.ReferenceInPair*in.ReferenceTokenPrice) / in.StakingTokenSupply

	m.WeeklyROI = m.RewardPerToken * in.RewardTokenPrice * 100 / m.StakingTokenPrice
	m.DailyROI = m.WeeklyROI / daysPerWeek
	m.HourlyROI = m.WeeklyROI / hoursPerWeek
	m.APR = m.WeeklyROI * weeksPerYear

	m.PoolStakedValue = in.TotalStaked * m.StakingTokenPrice
	m.StakedValue = in.Staked * m.StakingTokenPrice
	m.EarnedValue = in.Earned * in.RewardTokenPrice

	return m
}

// Finite reports whether every derived figure is a finite number.
func (m Metrics) Finite() bool {
	for _, v := range []float64{
		m.RewardPerToken, m.StakingTokenPrice, m.WeeklyROI,
		m.APR, m.PoolStakedValue, m.StakedValue, m.EarnedValue,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// normalize converts a raw fixed-point integer into a token amount.
func normalize(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
