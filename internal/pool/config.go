package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// TokenConfig describes one ERC20 token taking part in a pool.
type TokenConfig struct {
	Address string `yaml:"address"`
	Ticker  string `yaml:"ticker"`

	// Decimals defaults to DefaultDecimals when omitted from YAML.
	Decimals int32 `yaml:"decimals"`

	// PriceID is the identifier passed to the price service.
	PriceID string `yaml:"price_id"`
}

// Link is an informational link shown alongside the stats.
type Link struct {
	Title string `yaml:"title" json:"title"`
	URL   string `yaml:"url" json:"link"`
}

// Config describes a single staking pool whose staking token is a two-sided
// LP token paired between the reward token and a reference token.
type Config struct {
	Key        string `yaml:"key"`
	Provider   string `yaml:"provider"`
	Name       string `yaml:"name"`
	RewardPool string `yaml:"reward_pool"`

	StakingToken   TokenConfig `yaml:"staking_token"`
	RewardToken    TokenConfig `yaml:"reward_token"`
	ReferenceToken TokenConfig `yaml:"reference_token"`

	// Rebasing reward tokens expose yamsScalingFactor; raw balances and
	// reward rates are multiplied by it.
	Rebasing bool `yaml:"rebasing"`

	Links []Link `yaml:"links"`
}

// YAMyCRV returns the configuration of the yam.finance YAM/yCRV Uniswap pool.
func YAMyCRV() Config {
	return Config{
		Key:        "yam-ycrv",
		Provider:   "yam.finance",
		Name:       "YAM/yCRV",
		RewardPool: "0xADDBCd6A68BFeb6E312e82B30cE1EB4a54497F4c",
		StakingToken: TokenConfig{
			Address:  "0x2C7a51A357d5739C5C74Bf3C96816849d2c9F726",
			Ticker:   "UNIV2",
			Decimals: 18,
		},
		RewardToken: TokenConfig{
			Address:  "0x0e2298E3B3390e3b945a5456fBf59eCc3f55DA16",
			Ticker:   "YAM",
			Decimals: 18,
			PriceID:  "yam",
		},
		ReferenceToken: TokenConfig{
			Address:  "0xdF5e0e81Dff6FAF3A7e52BA697820c5e32D806A8",
			Ticker:   "yCRV",
			Decimals: 18,
			PriceID:  "curve-fi-ydai-yusdc-yusdt-ytusd",
		},
		Rebasing: true,
		Links: []Link{
			{Title: "Info", URL: "https://medium.com/@yamfinance/yam-finance-d0ad577250c7"},
			{Title: "Pool", URL: "https://uniswap.info/pair/0x2c7a51a357d5739c5c74bf3c96816849d2c9f726"},
			{Title: "Staking", URL: "https://yam.finance/"},
		},
	}
}

// DefaultDecimals applies to tokens whose config omits decimals.
const DefaultDecimals = 18

// UnmarshalYAML defaults an absent decimals key to DefaultDecimals while
// keeping an explicit 0.
func (t *TokenConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain TokenConfig
	p := plain{Decimals: DefaultDecimals}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = TokenConfig(p)
	return nil
}

// Validate checks addresses, tickers and price ids.
func (c *Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("pool key is required")
	}
	if c.Name == "" {
		return fmt.Errorf("pool %s: name is required", c.Key)
	}
	if !common.IsHexAddress(c.RewardPool) {
		return fmt.Errorf("pool %s: reward_pool %q is not a valid address", c.Key, c.RewardPool)
	}

	tokens := map[string]TokenConfig{
		"staking_token":   c.StakingToken,
		"reward_token":    c.RewardToken,
		"reference_token": c.ReferenceToken,
	}
	for field, t := range tokens {
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("pool %s: %s.address %q is not a valid address", c.Key, field, t.Address)
		}
		if t.Ticker == "" {
			return fmt.Errorf("pool %s: %s.ticker is required", c.Key, field)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return fmt.Errorf("pool %s: %s.decimals must be between 0 and 36", c.Key, field)
		}
	}
	if c.RewardToken.PriceID == "" {
		return fmt.Errorf("pool %s: reward_token.price_id is required", c.Key)
	}
	if c.ReferenceToken.PriceID == "" {
		return fmt.Errorf("pool %s: reference_token.price_id is required", c.Key)
	}
	return nil
}
