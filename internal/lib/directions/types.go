package directions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

// Mode is the travel mode requested from providers
type Mode string

const (
	ModeDriving Mode = "driving"
)

// ErrRouteUnavailable is matched by errors returned when every provider failed
var ErrRouteUnavailable = errors.New("route unavailable")

// ErrInvalidRoute marks a provider response that is structurally unusable
var ErrInvalidRoute = errors.New("invalid route response")

// UnavailableError carries the diagnostic of the last provider tried
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%v: %v", ErrRouteUnavailable, e.Err)
	}
	return fmt.Sprintf("%v: all providers failed, last (%s): %v", ErrRouteUnavailable, e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrRouteUnavailable, e.Err}
}

// Place is a route endpoint, either coordinates or a free-form address
type Place struct {
	Point   *geo.Point `json:"point,omitempty"`
	Address string     `json:"address,omitempty"`
}

// PointPlace creates a Place from coordinates
func PointPlace(p geo.Point) Place {
	return Place{Point: &p}
}

// ParsePlace parses "lat,lng" into coordinates and treats anything else as an address
func ParsePlace(input string) Place {
	input = strings.TrimSpace(input)
	parts := strings.Split(input, ",")
	if len(parts) == 2 {
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 == nil && err2 == nil {
			if p, err := geo.NewPoint(lat, lng); err == nil {
				return PointPlace(p)
			}
		}
	}
	return Place{Address: input}
}

// IsZero reports whether neither coordinates nor an address are set
func (p Place) IsZero() bool {
	return p.Point == nil && p.Address == ""
}

// String renders the place the way directions APIs accept it
func (p Place) String() string {
	if p.Point != nil {
		return fmt.Sprintf("%.6f,%.6f", p.Point.Latitude, p.Point.Longitude)
	}
	return p.Address
}

// Request describes a route fetch
type Request struct {
	Origin      Place
	Destination Place
	Mode        Mode
	Language    string
}

// Response is a provider's route before decoding: an overview polyline,
// per-step polylines and the provider-reported totals.
type Response struct {
	OverviewPolyline string
	Steps            []StepResponse
	DistanceMeters   float64
	DurationSeconds  float64
}

// StepResponse is a single maneuver as reported by a provider
type StepResponse struct {
	Instruction      string
	ManeuverKind     string
	ManeuverModifier string
	DistanceText     string
	DurationText     string
	DistanceMeters   float64
	DurationSeconds  float64
	Polyline         string
	EndLocation      *geo.Point
}

// Provider fetches routes from one routing backend
type Provider interface {
	Name() string
	FetchRoute(ctx context.Context, req Request) (*Response, error)
}

// Gateway resolves a route, hiding which provider served it
type Gateway interface {
	FetchRoute(ctx context.Context, req Request) (*Route, error)
}

// RouteStep is a decoded maneuver. Path is never empty; its last point is the
// step's end anchor.
type RouteStep struct {
	Instruction      string      `json:"instruction"`
	ManeuverKind     string      `json:"maneuver_kind"`
	ManeuverModifier string      `json:"maneuver_modifier,omitempty"`
	DistanceMeters   float64     `json:"distance_meters"`
	DurationSeconds  float64     `json:"duration_seconds"`
	Path             []geo.Point `json:"path"`
}

// EndAnchor returns the last point of the step's path
func (s RouteStep) EndAnchor() geo.Point {
	return s.Path[len(s.Path)-1]
}

// Route is a decoded, validated route. Totals are provider-reported and need
// not equal the sum of the steps.
type Route struct {
	Steps                []RouteStep `json:"steps"`
	Overview             []geo.Point `json:"overview"`
	TotalDistanceMeters  float64     `json:"total_distance_meters"`
	TotalDurationSeconds float64     `json:"total_duration_seconds"`
	Provider             string      `json:"provider"`
}

// FullPath returns the geometry used for off-route checks: the overview when
// it has at least two points, otherwise the concatenated step paths.
func (r *Route) FullPath() []geo.Point {
	if len(r.Overview) >= 2 {
		return r.Overview
	}
	var path []geo.Point
	for _, step := range r.Steps {
		path = append(path, step.Path...)
	}
	return path
}

// Destination returns the final point of the route
func (r *Route) Destination() geo.Point {
	return r.Steps[len(r.Steps)-1].EndAnchor()
}
