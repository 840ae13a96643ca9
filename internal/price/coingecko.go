package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.coingecko.com/api/v3"
	DefaultCurrency = "usd"

	requestTimeout = 10 * time.Second
	maxRetries     = 3
)

var retryBaseDelay = 500 * time.Millisecond

// CoinGeckoConfig configures the CoinGecko client.
type CoinGeckoConfig struct {
	BaseURL           string
	APIKey            string
	Currency          string
	RequestsPerMinute int
}

// CoinGecko is a Service backed by the CoinGecko simple/price endpoint.
type CoinGecko struct {
	baseURL  string
	apiKey   string
	currency string
	client   *http.Client
	limiter  *rate.Limiter
}

var _ Service = (*CoinGecko)(nil)

// NewCoinGecko creates a CoinGecko client. Zero-valued fields take defaults.
func NewCoinGecko(cfg CoinGeckoConfig) *CoinGecko {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}

	return &CoinGecko{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		currency: strings.ToLower(cfg.Currency),
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
}

// GetPrices fetches the current price of every id. All ids must be known.
func (c *CoinGecko) GetPrices(ctx context.Context, ids []string) (Quotes, error) {
	if len(ids) == 0 {
		return Quotes{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", c.currency)
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	var body map[string]map[string]float64
	if err := c.getWithRetry(ctx, endpoint, &body); err != nil {
		return nil, fmt.Errorf("fetching prices for %v: %w", ids, err)
	}

	quotes := make(Quotes, len(ids))
	for _, id := range ids {
		entry, ok := body[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPriceNotFound, id)
		}
		p, ok := entry[c.currency]
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrPriceNotFound, id, c.currency)
		}
		quotes[id] = p
	}

	log.Debug().Strs("ids", ids).Interface("quotes", quotes).Msg("Fetched prices")
	return quotes, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// getWithRetry retries rate-limited and server errors with exponential backoff.
func (c *CoinGecko) getWithRetry(ctx context.Context, endpoint string, response interface{}) error {
	delay := retryBaseDelay
	for attempt := 0; ; attempt++ {
		err := c.get(ctx, endpoint, response)
		if err == nil {
			return nil
		}

		se, ok := err.(*statusError)
		if !ok || !se.retryable() || attempt >= maxRetries {
			return err
		}

		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("Price lookup failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func (c *CoinGecko) get(ctx context.Context, endpoint string, response interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: string(body)}
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("unmarshaling response: %w", err)
	}

	return nil
}
