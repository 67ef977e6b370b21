package directions

import (
	"errors"
	"fmt"

	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

// BuildRoute validates a provider response and decodes its geometry.
//
// A response needs a non-empty overview polyline and at least one step.
// Partially malformed polylines are kept as far as they decode; a step whose
// polyline yields nothing falls back to its reported end location.
func BuildRoute(resp *Response, provider string) (*Route, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidRoute)
	}
	if resp.OverviewPolyline == "" {
		return nil, fmt.Errorf("%w: missing overview polyline", ErrInvalidRoute)
	}
	if len(resp.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidRoute)
	}

	overview, err := geo.DecodePolyline(resp.OverviewPolyline)
	if err != nil && !errors.Is(err, geo.ErrMalformedRouteData) {
		return nil, err
	}

	route := &Route{
		Overview:             overview,
		TotalDistanceMeters:  resp.DistanceMeters,
		TotalDurationSeconds: resp.DurationSeconds,
		Provider:             provider,
		Steps:                make([]RouteStep, 0, len(resp.Steps)),
	}

	for i, s := range resp.Steps {
		path, _ := geo.DecodePolyline(s.Polyline)
		if len(path) == 0 && s.EndLocation != nil {
			path = []geo.Point{*s.EndLocation}
		}
		if len(path) == 0 {
			return nil, fmt.Errorf("%w: step %d has no geometry", ErrInvalidRoute, i)
		}

		route.Steps = append(route.Steps, RouteStep{
			Instruction:      s.Instruction,
			ManeuverKind:     s.ManeuverKind,
			ManeuverModifier: s.ManeuverModifier,
			DistanceMeters:   s.DistanceMeters,
			DurationSeconds:  s.DurationSeconds,
			Path:             path,
		})
	}

	return route, nil
}
