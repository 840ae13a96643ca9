package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the pool stats service.
type Metrics struct {
	registry *prometheus.Registry

	// Fetch metrics
	FetchLatency *prometheus.HistogramVec
	FetchErrors  *prometheus.CounterVec
	NonFinite    *prometheus.CounterVec

	// Upstream metrics
	PriceLatency prometheus.Histogram
	ChainLatency prometheus.Histogram

	// Pool metrics
	PoolAPR         *prometheus.GaugeVec
	PoolStakedValue *prometheus.GaugeVec
	LastFetch       *prometheus.GaugeVec

	// Dashboard metrics
	DashboardClients prometheus.Gauge

	server *http.Server
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "farmstats_fetch_latency_seconds",
				Help:    "Time to fetch and compute stats for one pool",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"pool"},
		),
		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farmstats_fetch_errors_total",
				Help: "Failed fetches by pool and stage",
			},
			[]string{"pool", "stage"},
		),
		NonFinite: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farmstats_non_finite_results_total",
				Help: "Fetches whose derived metrics contained NaN or Inf",
			},
			[]string{"pool"},
		),
		PriceLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "farmstats_price_lookup_latency_seconds",
				Help:    "Latency of price service lookups",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
		),
		ChainLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "farmstats_chain_read_latency_seconds",
				Help:    "Latency of batched on-chain reads",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		),
		PoolAPR: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "farmstats_pool_apr_percent",
				Help: "Latest annualized reward rate per pool",
			},
			[]string{"pool"},
		),
		PoolStakedValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "farmstats_pool_staked_value_usd",
				Help: "Latest total staked value per pool",
			},
			[]string{"pool"},
		),
		LastFetch: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "farmstats_pool_last_fetch_timestamp_seconds",
				Help: "Unix time of the last successful fetch per pool",
			},
			[]string{"pool"},
		),
		DashboardClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "farmstats_dashboard_clients",
				Help: "Connected websocket dashboard clients",
			},
		),
	}

	m.registry.MustRegister(
		m.FetchLatency,
		m.FetchErrors,
		m.NonFinite,
		m.PriceLatency,
		m.ChainLatency,
		m.PoolAPR,
		m.PoolStakedValue,
		m.LastFetch,
		m.DashboardClients,
	)

	return m
}

// Registry exposes the registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the HTTP server for Prometheus metrics. Extra handlers are
// mounted on the same mux.
func (m *Metrics) StartServer(port int, path string, extra map[string]http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}

	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", port).Str("path", path).Msg("Starting metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordFetch records a successful fetch.
func (m *Metrics) RecordFetch(pool string, d time.Duration) {
	m.FetchLatency.WithLabelValues(pool).Observe(d.Seconds())
	m.LastFetch.WithLabelValues(pool).Set(float64(time.Now().Unix()))
}

// RecordFetchError increments the error counter for the failing stage.
func (m *Metrics) RecordFetchError(pool, stage string) {
	m.FetchErrors.WithLabelValues(pool, stage).Inc()
}

// RecordNonFinite counts a result carrying NaN or Inf figures.
func (m *Metrics) RecordNonFinite(pool string) {
	m.NonFinite.WithLabelValues(pool).Inc()
}

// RecordPriceLatency records a price service round trip.
func (m *Metrics) RecordPriceLatency(d time.Duration) {
	m.PriceLatency.Observe(d.Seconds())
}

// RecordChainLatency records a batched chain read.
func (m *Metrics) RecordChainLatency(d time.Duration) {
	m.ChainLatency.Observe(d.Seconds())
}

// SetPoolFigures publishes the latest APR and staked value of a pool.
func (m *Metrics) SetPoolFigures(pool string, apr, stakedValue float64) {
	m.PoolAPR.WithLabelValues(pool).Set(apr)
	m.PoolStakedValue.WithLabelValues(pool).Set(stakedValue)
}

// SetDashboardClients sets the number of connected dashboard clients.
func (m *Metrics) SetDashboardClients(n int) {
	m.DashboardClients.Set(float64(n))
}
