package geo

import "errors"

// EarthRadiusMeters is the mean Earth radius used by all distance calculations
const EarthRadiusMeters = 6371000.0

// ErrMalformedRouteData is returned when an encoded path is empty or truncated.
// Decoders return it together with whatever points they managed to decode.
var ErrMalformedRouteData = errors.New("malformed route data")

// Point represents a geographic coordinate in WGS84 degrees
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// PathMatcher measures the distance from a point to a route path.
//
// Short paths are measured exactly by projecting onto every segment. Paths
// longer than ExactLimit vertices are approximated by checking every
// SampleStride-th vertex (plus the final one), which bounds the per-fix cost
// on long routes.
type PathMatcher struct {
	SampleStride int `json:"sample_stride"`
	ExactLimit   int `json:"exact_limit"`
}

// DefaultPathMatcher returns the matcher used when none is configured
func DefaultPathMatcher() PathMatcher {
	return PathMatcher{
		SampleStride: 5,
		ExactLimit:   400,
	}
}

// PositionSample is a single fix from a device location source.
// Heading and Speed are optional; Speed may be non-finite on some devices.
type PositionSample struct {
	Point       Point    `json:"point"`
	Heading     *float64 `json:"heading,omitempty"` // degrees clockwise from north
	Speed       *float64 `json:"speed,omitempty"`   // meters per second
	TimestampMs int64    `json:"timestamp"`
}
