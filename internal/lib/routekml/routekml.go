// Package routekml exports routes as KML for inspection in map tools.
package routekml

import (
	"fmt"
	"io"

	"github.com/twpayne/go-kml/v2"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

// Document builds a KML document with the route line followed by one
// placemark per maneuver, located where the maneuver starts.
func Document(name string, route *directions.Route) *kml.CompoundElement {
	children := []kml.Element{
		kml.Name(name),
		kml.Placemark(
			kml.Name("Route"),
			kml.Description(fmt.Sprintf("%s, %.0f m, %.0f s", route.Provider, route.TotalDistanceMeters, route.TotalDurationSeconds)),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coordinates(route.FullPath())...),
			),
		),
	}

	for i, step := range route.Steps {
		if len(step.Path) == 0 {
			continue
		}
		children = append(children, kml.Placemark(
			kml.Name(fmt.Sprintf("%d. %s", i+1, step.Instruction)),
			kml.Description(fmt.Sprintf("%.0f m", step.DistanceMeters)),
			kml.Point(kml.Coordinates(coordinates(step.Path[:1])...)),
		))
	}

	return kml.KML(kml.Document(children...))
}

// Write encodes route as indented KML
func Write(w io.Writer, name string, route *directions.Route) error {
	if err := Document(name, route).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

func coordinates(points []geo.Point) []kml.Coordinate {
	out := make([]kml.Coordinate, len(points))
	for i, p := range points {
		out[i] = kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
	}
	return out
}
