package directions

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// DefaultTimeout bounds a single provider attempt
const DefaultTimeout = 10 * time.Second

// FallbackGateway tries providers in order and returns the first valid route.
// A provider failure is logged and the next provider is attempted.
type FallbackGateway struct {
	providers []Provider
	timeout   time.Duration
}

// NewFallbackGateway creates a gateway over providers, tried in the given order
func NewFallbackGateway(timeout time.Duration, providers ...Provider) *FallbackGateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FallbackGateway{
		providers: providers,
		timeout:   timeout,
	}
}

// Providers returns the provider names in fallback order
func (g *FallbackGateway) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}
	return names
}

// FetchRoute implements Gateway
func (g *FallbackGateway) FetchRoute(ctx context.Context, req Request) (*Route, error) {
	ctx = logging.EnsureLogger(ctx)
	if req.Mode == "" {
		req.Mode = ModeDriving
	}
	if req.Language == "" {
		req.Language = "en"
	}

	if len(g.providers) == 0 {
		return nil, &UnavailableError{Err: errors.New("no directions providers configured")}
	}

	var (
		lastErr      error
		lastProvider string
	)
	for _, provider := range g.providers {
		if err := ctx.Err(); err != nil {
			return nil, &UnavailableError{Provider: lastProvider, Err: err}
		}

		route, err := g.attempt(ctx, provider, req)
		if err == nil {
			logging.Debugw(ctx, "Directions: route resolved",
				"provider", provider.Name(), "steps", len(route.Steps), "distance_m", route.TotalDistanceMeters)
			return route, nil
		}

		logging.Warnw(ctx, "Directions: provider failed, trying next",
			"provider", provider.Name(), "origin", req.Origin.String(), "error", err)
		lastErr = err
		lastProvider = provider.Name()
	}

	return nil, &UnavailableError{Provider: lastProvider, Err: lastErr}
}

type attemptResult struct {
	route *Route
	err   error
}

// attempt runs one provider under the gateway timeout. The provider runs in
// its own goroutine so that one ignoring its context still counts as failed
// once the window closes.
func (g *FallbackGateway) attempt(ctx context.Context, provider Provider, req Request) (*Route, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack, _ := perrors.ParseStack(debug.Stack())
				logging.Errorw(ctx, "Directions: recovered from provider panic",
					"provider", provider.Name(), "error", r, "error.stack_trace", stack.MinimalStack(3, 5))
				done <- attemptResult{err: errors.New("provider panicked")}
			}
		}()

		resp, err := provider.FetchRoute(ctx, req)
		if err != nil {
			done <- attemptResult{err: err}
			return
		}
		route, err := BuildRoute(resp, provider.Name())
		done <- attemptResult{route: route, err: err}
	}()

	select {
	case res := <-done:
		return res.route, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
