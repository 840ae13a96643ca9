package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *CoinGecko {
	return NewCoinGecko(CoinGeckoConfig{
		BaseURL:           url,
		RequestsPerMinute: 60000,
	})
}

func TestCoinGeckoGetPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/simple/price", r.URL.Path)
		require.Equal(t, "yam,curve-fi-ydai-yusdc-yusdt-ytusd", r.URL.Query().Get("ids"))
		require.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Write([]byte(`{"yam":{"usd":2.0},"curve-fi-ydai-yusdc-yusdt-ytusd":{"usd":1.0}}`))
	}))
	defer srv.Close()

	quotes, err := newTestClient(srv.URL).GetPrices(context.Background(), []string{"yam", "curve-fi-ydai-yusdc-yusdt-ytusd"})
	require.NoError(t, err)

	yam, err := quotes.Get("yam")
	require.NoError(t, err)
	require.Equal(t, 2.0, yam)

	ycrv, err := quotes.Get("curve-fi-ydai-yusdc-yusdt-ytusd")
	require.NoError(t, err)
	require.Equal(t, 1.0, ycrv)
}

func TestCoinGeckoUnknownID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"yam":{"usd":2.0}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetPrices(context.Background(), []string{"yam", "nope"})
	require.ErrorIs(t, err, ErrPriceNotFound)
}

func TestCoinGeckoRetriesRateLimit(t *testing.T) {
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = 500 * time.Millisecond }()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"yam":{"usd":0.5}}`))
	}))
	defer srv.Close()

	quotes, err := newTestClient(srv.URL).GetPrices(context.Background(), []string{"yam"})
	require.NoError(t, err)
	require.Equal(t, 0.5, quotes["yam"])
	require.Equal(t, int32(2), hits.Load())
}

func TestCoinGeckoDoesNotRetryClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetPrices(context.Background(), []string{"yam"})
	require.Error(t, err)
	require.Equal(t, int32(1), hits.Load())
}

func TestCoinGeckoSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("x-cg-demo-api-key"))
		w.Write([]byte(`{"yam":{"usd":1}}`))
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoConfig{BaseURL: srv.URL, APIKey: "secret", RequestsPerMinute: 60000})
	_, err := c.GetPrices(context.Background(), []string{"yam"})
	require.NoError(t, err)
}

func TestStaticGetPrices(t *testing.T) {
	s := Static{"yam": 2, "ycrv": 1}

	quotes, err := s.GetPrices(context.Background(), []string{"yam"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	_, err = s.GetPrices(context.Background(), []string{"missing"})
	require.ErrorIs(t, err, ErrPriceNotFound)
}
