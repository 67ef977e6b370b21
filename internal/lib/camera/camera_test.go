package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

func TestController_Propose(t *testing.T) {
	c := NewController(DefaultSettings())
	position := geo.Point{Latitude: 48.86, Longitude: 2.35}
	heading := 123.0

	p, ok := c.Propose(true, &position, &heading)
	assert.True(t, ok)
	assert.Equal(t, position, p.Center)
	assert.Equal(t, 123.0, p.Heading)
	assert.Equal(t, 60.0, p.PitchDegrees)
	assert.Equal(t, 17.0, p.Zoom)
}

func TestController_NotFollowing(t *testing.T) {
	c := NewController(DefaultSettings())
	position := geo.Point{Latitude: 48.86, Longitude: 2.35}

	_, ok := c.Propose(false, &position, nil)
	assert.False(t, ok, "Should leave the camera alone when the user has panned away")
}

func TestController_NoPositionYet(t *testing.T) {
	_, ok := NewController(DefaultSettings()).Propose(true, nil, nil)
	assert.False(t, ok)
}

func TestController_MissingHeadingKeepsNorthUp(t *testing.T) {
	position := geo.Point{Latitude: 48.86, Longitude: 2.35}
	p, ok := NewController(Settings{PitchDegrees: 45, Zoom: 16}).Propose(true, &position, nil)
	assert.True(t, ok)
	assert.Equal(t, 0.0, p.Heading)
	assert.Equal(t, 45.0, p.PitchDegrees)
}
