package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
)

// DefaultRouteTTL bounds how long an initial route is reused
const DefaultRouteTTL = 5 * time.Minute

// RouteGateway memoises route fetches for identical requests. It is meant for
// session starts only; recalculations start from a fresh position and should
// call the wrapped gateway directly.
type RouteGateway struct {
	cache *Cache
	next  directions.Gateway
	ttl   time.Duration
}

// NewRouteGateway wraps next. A non-positive ttl disables caching.
func NewRouteGateway(c *Cache, next directions.Gateway, ttl time.Duration) *RouteGateway {
	return &RouteGateway{cache: c, next: next, ttl: ttl}
}

// RouteKey identifies a request in the cache
func RouteKey(req directions.Request) string {
	mode := req.Mode
	if mode == "" {
		mode = directions.ModeDriving
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	return fmt.Sprintf("route:%s|%s|%s|%s",
		strings.ToLower(req.Origin.String()), strings.ToLower(req.Destination.String()), mode, lang)
}

// FetchRoute implements directions.Gateway
func (g *RouteGateway) FetchRoute(ctx context.Context, req directions.Request) (*directions.Route, error) {
	if g.ttl <= 0 {
		return g.next.FetchRoute(ctx, req)
	}

	ctx = logging.EnsureLogger(ctx)
	key := RouteKey(req)

	var cached directions.Route
	found, err := g.cache.Get(key, &cached)
	if err != nil {
		logging.Warnw(ctx, "Route cache: dropping unreadable entry", "key", key, "error", err)
		g.cache.Delete(key)
	} else if found {
		logging.Debugw(ctx, "Route cache: hit", "key", key, "provider", cached.Provider)
		return &cached, nil
	}

	route, err := g.next.FetchRoute(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := g.cache.Set(key, route, g.ttl, route.Provider); err != nil {
		logging.Warnw(ctx, "Route cache: failed to store route", "key", key, "error", err)
	}
	return route, nil
}
