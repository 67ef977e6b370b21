package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference example from the encoded polyline algorithm documentation
const referencePolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

func TestDecodePolyline(t *testing.T) {
	points, err := DecodePolyline(referencePolyline)
	require.NoError(t, err)
	require.Len(t, points, 3)

	expected := []Point{
		{Latitude: 38.5, Longitude: -120.2},
		{Latitude: 40.7, Longitude: -120.95},
		{Latitude: 43.252, Longitude: -126.453},
	}
	for i, p := range expected {
		assert.InDelta(t, p.Latitude, points[i].Latitude, 1e-5)
		assert.InDelta(t, p.Longitude, points[i].Longitude, 1e-5)
	}
}

func TestDecodePolyline_RoundTrip(t *testing.T) {
	original := []Point{
		{Latitude: 48.85661, Longitude: 2.35222},
		{Latitude: 48.86012, Longitude: 2.34998},
		{Latitude: 48.86500, Longitude: 2.36000},
		{Latitude: -33.86882, Longitude: 151.20929},
		{Latitude: 0, Longitude: 0},
		{Latitude: 89.99999, Longitude: -179.99999},
	}

	points, err := DecodePolyline(EncodePolyline(original))
	require.NoError(t, err)
	require.Len(t, points, len(original))

	for i := range original {
		assert.InDelta(t, original[i].Latitude, points[i].Latitude, 0.00001)
		assert.InDelta(t, original[i].Longitude, points[i].Longitude, 0.00001)
	}
}

func TestDecodePolyline_Truncated(t *testing.T) {
	// Drop the final byte so the last longitude has a dangling continuation bit
	truncated := referencePolyline[:len(referencePolyline)-1]

	points, err := DecodePolyline(truncated)
	assert.ErrorIs(t, err, ErrMalformedRouteData)
	require.Len(t, points, 2, "Should keep the points decoded before the truncation")
	assert.InDelta(t, 40.7, points[1].Latitude, 1e-5)
}

func TestDecodePolyline_Empty(t *testing.T) {
	points, err := DecodePolyline("")
	assert.ErrorIs(t, err, ErrMalformedRouteData)
	assert.Empty(t, points)
}

func TestDecodePolyline_OutOfRange(t *testing.T) {
	encoded := EncodePolyline([]Point{
		{Latitude: 10, Longitude: 10},
		{Latitude: 95, Longitude: 10},
	})

	points, err := DecodePolyline(encoded)
	assert.ErrorIs(t, err, ErrMalformedRouteData)
	assert.Len(t, points, 1)
}
