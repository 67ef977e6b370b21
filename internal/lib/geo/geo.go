package geo

import (
	"errors"
	"math"
)

// HaversineMeters calculates great-circle distance between two points using the Haversine formula
func HaversineMeters(p1, p2 Point) float64 {
	// If points are the same, distance is 0
	if p1 == p2 {
		return 0
	}

	lat1 := toRadians(p1.Latitude)
	lat2 := toRadians(p2.Latitude)
	dlat := lat2 - lat1
	dlon := toRadians(p2.Longitude - p1.Longitude)

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// InitialBearing returns the compass bearing in degrees [0, 360) to travel from p1 towards p2
func InitialBearing(p1, p2 Point) float64 {
	lat1 := toRadians(p1.Latitude)
	lat2 := toRadians(p2.Latitude)
	dlon := toRadians(p2.Longitude - p1.Longitude)

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)

	return NormalizeHeading(toDegrees(math.Atan2(y, x)))
}

// NormalizeHeading folds any angle in degrees into [0, 360)
func NormalizeHeading(degrees float64) float64 {
	h := math.Mod(degrees, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// DistanceToPathMeters returns the minimum distance from point to path using the default matcher.
// An empty path is infinitely far away.
func DistanceToPathMeters(point Point, path []Point) float64 {
	return DefaultPathMatcher().DistanceMeters(point, path)
}

// DistanceMeters returns the minimum distance from point to path
func (m PathMatcher) DistanceMeters(point Point, path []Point) float64 {
	switch len(path) {
	case 0:
		return math.Inf(1)
	case 1:
		return HaversineMeters(point, path[0])
	}

	if m.ExactLimit <= 0 || len(path) <= m.ExactLimit {
		minDistance := math.Inf(1)
		for i := 0; i < len(path)-1; i++ {
			if d := pointToSegmentMeters(point, path[i], path[i+1]); d < minDistance {
				minDistance = d
			}
		}
		return minDistance
	}

	stride := m.SampleStride
	if stride < 1 {
		stride = 1
	}

	minDistance := HaversineMeters(point, path[len(path)-1])
	for i := 0; i < len(path); i += stride {
		if d := HaversineMeters(point, path[i]); d < minDistance {
			minDistance = d
		}
	}
	return minDistance
}

// pointToSegmentMeters projects point onto the segment a-b in a local
// equirectangular frame centred on point, then measures the great-circle
// distance to the projected point. Accurate for segments of a few kilometres.
func pointToSegmentMeters(point, a, b Point) float64 {
	if a == b {
		return HaversineMeters(point, a)
	}

	// Longitude offsets take the short way round so segments spanning the
	// antimeridian stay short
	cosLat := math.Cos(toRadians(point.Latitude))
	aLon := wrapLongitude(a.Longitude - point.Longitude)
	bLon := wrapLongitude(b.Longitude - point.Longitude)
	ax, ay := aLon*cosLat, a.Latitude-point.Latitude
	bx, by := bLon*cosLat, b.Latitude-point.Latitude

	dx, dy := bx-ax, by-ay
	if dx == 0 && dy == 0 {
		return HaversineMeters(point, a)
	}
	t := -(ax*dx + ay*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))

	closest := Point{
		Latitude:  a.Latitude + t*(b.Latitude-a.Latitude),
		Longitude: point.Longitude + aLon + t*(bLon-aLon),
	}
	return HaversineMeters(point, closest)
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !IsValid(point) {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return point, nil
}

// IsValid reports whether point holds finite, in-range WGS84 coordinates
func IsValid(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}

// wrapLongitude folds a longitude difference into [-180, 180)
func wrapLongitude(degrees float64) float64 {
	return NormalizeHeading(degrees+180) - 180
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func toDegrees(radians float64) float64 {
	return radians * 180 / math.Pi
}
