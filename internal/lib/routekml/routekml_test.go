package routekml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

func TestWrite(t *testing.T) {
	start := geo.Point{Latitude: 48.850, Longitude: 2.340}
	turn := geo.Point{Latitude: 48.860, Longitude: 2.350}
	end := geo.Point{Latitude: 48.865, Longitude: 2.360}

	route := &directions.Route{
		Steps: []directions.RouteStep{
			{Instruction: "Head northeast on Rue de Rivoli", DistanceMeters: 1331, Path: []geo.Point{start, turn}},
			{Instruction: "Turn right onto Boulevard de Sebastopol", DistanceMeters: 782, Path: []geo.Point{turn, end}},
		},
		TotalDistanceMeters:  2113,
		TotalDurationSeconds: 421,
		Provider:             "osrm",
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "Convoy 7", route))
	out := buf.String()

	assert.Contains(t, out, "<kml")
	assert.Contains(t, out, "<name>Convoy 7</name>")
	assert.Contains(t, out, "<name>1. Head northeast on Rue de Rivoli</name>")
	assert.Contains(t, out, "<name>2. Turn right onto Boulevard de Sebastopol</name>")
	assert.Contains(t, out, "<description>osrm, 2113 m, 421 s</description>")
	assert.Equal(t, 1, strings.Count(out, "<LineString>"))
	assert.Equal(t, 2, strings.Count(out, "<Point>"))
}

func TestDocument_SkipsStepsWithoutPath(t *testing.T) {
	start := geo.Point{Latitude: 48.850, Longitude: 2.340}
	end := geo.Point{Latitude: 48.865, Longitude: 2.360}

	route := &directions.Route{
		Steps: []directions.RouteStep{
			{Instruction: "Head northeast", Path: []geo.Point{start, end}},
			{Instruction: "Arrive"},
		},
		Provider: "google",
	}

	doc := Document("Convoy 7", route)
	require.NotNil(t, doc)

	var buf bytes.Buffer
	require.NoError(t, doc.WriteIndent(&buf, "", "  "))
	assert.Equal(t, 1, strings.Count(buf.String(), "<Point>"))
	assert.NotContains(t, buf.String(), "2. Arrive")
}
