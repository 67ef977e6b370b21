package geo

import (
	"fmt"

	"github.com/twpayne/go-polyline"
)

// DecodePolyline decodes a Google encoded polyline (precision 1e5) into points.
//
// If the string is truncated or contains an invalid byte, decoding stops and
// the points decoded so far are returned together with ErrMalformedRouteData.
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: encoded polyline string is empty", ErrMalformedRouteData)
	}

	var (
		points   []Point
		lat, lng float64
	)
	buf := []byte(encoded)
	for len(buf) > 0 {
		delta, rest, err := polyline.DecodeCoord(buf)
		if err != nil {
			return points, fmt.Errorf("%w: stopped after %d points: %v", ErrMalformedRouteData, len(points), err)
		}
		lat += delta[0]
		lng += delta[1]

		point := Point{Latitude: lat, Longitude: lng}
		if !IsValid(point) {
			return points, fmt.Errorf("%w: decoded coordinate out of range at point %d", ErrMalformedRouteData, len(points))
		}
		points = append(points, point)
		buf = rest
	}

	return points, nil
}

// EncodePolyline encodes points with the standard 1e5 precision
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}
