package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dpup/convoy-nav/server/internal/cache"
	"github.com/dpup/convoy-nav/server/internal/lib/directions"
)

var (
	// Route fetches per provider, labelled ok, error or timeout
	RouteFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "navigation_route_fetches_total",
		Help: "Route fetches attempted against each directions provider",
	}, []string{"provider", "outcome"})

	RouteFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "navigation_route_fetch_duration_seconds",
		Help:    "Time taken by a directions provider to return a route",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6s
	}, []string{"provider"})

	// Recalculations labelled started, applied, failed or discarded
	RecalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "navigation_recalculations_total",
		Help: "Off-route recalculations by outcome",
	}, []string{"outcome"})

	TelemetryWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "navigation_telemetry_writes_total",
		Help: "Telemetry records handed to sinks by outcome",
	}, []string{"outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navigation_active_sessions",
		Help: "Guidance sessions currently registered",
	})
)

// InstrumentProvider records fetch counts and latency for a provider
func InstrumentProvider(p directions.Provider) directions.Provider {
	return &instrumentedProvider{next: p}
}

type instrumentedProvider struct {
	next directions.Provider
}

func (p *instrumentedProvider) Name() string {
	return p.next.Name()
}

func (p *instrumentedProvider) FetchRoute(ctx context.Context, req directions.Request) (*directions.Response, error) {
	start := time.Now()
	resp, err := p.next.FetchRoute(ctx, req)
	RouteFetchDuration.WithLabelValues(p.next.Name()).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	RouteFetchesTotal.WithLabelValues(p.next.Name(), outcome).Inc()

	return resp, err
}

// NewCacheCollector reports route cache occupancy split by freshness. Stale
// entries linger until the periodic cleanup removes them.
func NewCacheCollector(c *cache.Cache) prometheus.Collector {
	return &cacheCollector{
		cache: c,
		entries: prometheus.NewDesc(
			"navigation_route_cache_entries",
			"Route cache entries by freshness",
			[]string{"state"}, nil,
		),
	}
}

type cacheCollector struct {
	cache   *cache.Cache
	entries *prometheus.Desc
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(stats.FreshEntries), "fresh")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(stats.StaleEntries), "stale")
}
