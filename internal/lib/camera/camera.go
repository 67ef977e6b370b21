// Package camera derives map camera parameters from guidance state.
package camera

import "github.com/dpup/convoy-nav/server/internal/lib/geo"

// Settings holds the fixed camera tilt and zoom used while following
type Settings struct {
	PitchDegrees float64 `json:"pitch_degrees"`
	Zoom         float64 `json:"zoom"`
}

// DefaultSettings returns a driving-view tilt and street-level zoom
func DefaultSettings() Settings {
	return Settings{
		PitchDegrees: 60,
		Zoom:         17,
	}
}

// Proposal is a camera position suggested to the map renderer
type Proposal struct {
	Center       geo.Point `json:"center"`
	Heading      float64   `json:"heading"`
	PitchDegrees float64   `json:"pitch_degrees"`
	Zoom         float64   `json:"zoom"`
}

// Controller proposes camera moves while the user lets the map follow them.
// Following is owned by the caller's session; the controller only derives.
type Controller struct {
	settings Settings
}

// NewController creates a controller with the given settings
func NewController(settings Settings) *Controller {
	return &Controller{settings: settings}
}

// Propose returns the camera to show for the latest position and heading.
// It returns false when not following or no position is known yet, in which
// case the caller leaves the camera untouched.
func (c *Controller) Propose(following bool, position *geo.Point, heading *float64) (Proposal, bool) {
	if !following || position == nil {
		return Proposal{}, false
	}

	p := Proposal{
		Center:       *position,
		PitchDegrees: c.settings.PitchDegrees,
		Zoom:         c.settings.Zoom,
	}
	if heading != nil {
		p.Heading = *heading
	}
	return p, true
}
