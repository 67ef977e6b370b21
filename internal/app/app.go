// Package app assembles routing, caching and telemetry backends from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/convoy-nav/server/internal/cache"
	"github.com/dpup/convoy-nav/server/internal/clients/google"
	"github.com/dpup/convoy-nav/server/internal/clients/osrm"
	"github.com/dpup/convoy-nav/server/internal/clients/questdb"
	"github.com/dpup/convoy-nav/server/internal/clients/rabbitmq"
	"github.com/dpup/convoy-nav/server/internal/config"
	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/telemetry"
	"github.com/dpup/convoy-nav/server/internal/services"
)

// Backends holds the shared collaborators of every guidance session
type Backends struct {
	Gateway        directions.Gateway
	InitialGateway directions.Gateway
	Telemetry      telemetry.Sink
	Cache          *cache.Cache

	closers []func()
}

// Build connects to the configured providers and sinks. Sinks that cannot be
// reached are logged and skipped so guidance still runs without telemetry.
func Build(ctx context.Context, cfg *config.Config) (*Backends, error) {
	ctx = logging.EnsureLogger(ctx)
	providers, err := Providers(cfg.Directions)
	if err != nil {
		return nil, err
	}

	b := &Backends{
		Gateway: directions.NewFallbackGateway(cfg.Directions.Timeout, providers...),
		Cache:   cache.NewCache(),
	}
	b.InitialGateway = cache.NewRouteGateway(b.Cache, b.Gateway, cfg.RouteCacheTTL)

	var sinks telemetry.MultiSink
	for _, name := range cfg.Telemetry.Sinks {
		switch name {
		case "questdb":
			qc := cfg.Telemetry.QuestDB
			sink, err := questdb.NewSink(ctx, qc.Address, qc.Table, qc.PoolSize)
			if err != nil {
				logging.Errorw(ctx, "App: QuestDB sink unavailable", "address", qc.Address, "error", err)
				continue
			}
			sinks = append(sinks, sink)
			b.closers = append(b.closers, sink.Close)
		case "rabbitmq":
			rc := cfg.Telemetry.RabbitMQ
			sink, err := rabbitmq.Dial(rc.URL, rc.Exchange)
			if err != nil {
				logging.Errorw(ctx, "App: RabbitMQ sink unavailable", "exchange", rc.Exchange, "error", err)
				continue
			}
			sinks = append(sinks, sink)
			b.closers = append(b.closers, func() {
				if err := sink.Close(); err != nil {
					logging.Warnw(ctx, "App: failed to close RabbitMQ sink", "error", err)
				}
			})
		}
	}
	if len(sinks) > 0 {
		b.Telemetry = sinks
	}

	logging.Infow(ctx, "App: backends ready",
		"providers", cfg.Directions.Providers, "sinks", len(sinks), "route_cache_ttl", cfg.RouteCacheTTL)

	return b, nil
}

// Close releases telemetry connections
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Factory returns a session factory sharing these backends
func (b *Backends) Factory(cfg *config.Config) *services.Factory {
	return &services.Factory{
		Gateway:        b.Gateway,
		InitialGateway: b.InitialGateway,
		Telemetry:      b.Telemetry,
		Options:        Options(cfg),
	}
}

// Providers builds the configured routing providers in fallback order, each
// instrumented with request metrics.
func Providers(cfg config.DirectionsConfig) ([]directions.Provider, error) {
	var providers []directions.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "google":
			var client *google.Client
			if cfg.Google.BaseURL != "" {
				client = google.NewClientWithHTTPDoer(cfg.Google.APIKey, cfg.Google.BaseURL, &http.Client{Timeout: 30 * time.Second})
			} else {
				client = google.NewClient(cfg.Google.APIKey)
			}
			providers = append(providers, services.InstrumentProvider(client))
		case "osrm":
			providers = append(providers, services.InstrumentProvider(osrm.NewClient(cfg.OSRM.BaseURL)))
		default:
			return nil, fmt.Errorf("unknown directions provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("no directions providers configured")
	}
	return providers, nil
}

// Options maps config onto guidance service options
func Options(cfg *config.Config) services.Options {
	opts := services.DefaultOptions()
	opts.Navigation = cfg.Guidance.Navigation()
	opts.Camera = cfg.Camera.Settings()
	opts.Language = cfg.Directions.Language
	opts.RecalculationTimeout = cfg.Guidance.RecalculationTimeout
	opts.TelemetryInterval = cfg.Telemetry.Interval
	opts.TelemetryTimeout = cfg.Telemetry.Timeout
	return opts
}
