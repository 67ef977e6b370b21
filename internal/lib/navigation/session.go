// Package navigation implements turn-by-turn guidance as a session value
// advanced by pure update functions. Hosts feed it fixes and route fetch
// results and act on the returned effects.
package navigation

import (
	"math"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/speed"
)

// minHeadingMovement is the displacement needed before a bearing between two
// fixes is trusted as heading
const minHeadingMovement = 2.0

// Session is the mutable guidance state for one navigation run.
//
// It is a value: update functions take a Session and return the next one.
// CurrentStepIndex stays within the route's steps, only moves forward for a
// given route, and resets to 0 when the route is replaced. Arrived never
// reverts. LastRecalculationAtMs never decreases.
type Session struct {
	Route       *directions.Route
	Destination directions.Place
	State       State

	CurrentStepIndex      int
	LastSample            *geo.PositionSample
	HeadingDegrees        *float64
	SmoothedSpeedKmh      float64
	LastRecalculationAtMs int64
	Recalculations        int
	Arrived               bool
	Following             bool

	config Config
	speed  speed.Estimator
}

// NewSession starts guidance on a freshly fetched route. It returns the
// route-ready event followed by the first instruction.
func NewSession(route *directions.Route, destination directions.Place, cfg Config) (Session, []Event) {
	s := Session{
		Destination: destination,
		Following:   true,
		config:      cfg,
		speed:       speed.NewEstimator(cfg.SpeedWeight, cfg.SpeedMinElapsed),
	}
	return s.replaceRoute(route)
}

// Update processes one fix: speed and heading, step advancement, off-route
// detection and arrival, in that order.
func Update(s Session, sample geo.PositionSample) (Session, Effects) {
	var fx Effects
	if s.Route == nil || len(s.Route.Steps) == 0 {
		return s, fx
	}

	previous := s.LastSample
	s.SmoothedSpeedKmh = s.speed.Update(sample, previous)
	s.HeadingDegrees = resolveHeading(sample, previous, s.HeadingDegrees)
	s.LastSample = &sample

	if s.State != StateGuiding && s.State != StateRecalculating {
		return s, fx
	}

	th := s.config.Thresholds
	position := sample.Point

	lastIndex := len(s.Route.Steps) - 1
	anchor := s.Route.Steps[s.CurrentStepIndex].EndAnchor()
	if s.CurrentStepIndex < lastIndex && geo.HaversineMeters(position, anchor) < th.StepAdvanceMeters {
		s.CurrentStepIndex++
		fx.Events = append(fx.Events, s.instructionEvent())
	}

	arriving := !s.Arrived && geo.HaversineMeters(position, s.Route.Destination()) < th.ArrivalMeters

	// Only one reroute is in flight at a time; fixes keep being checked
	// against the stale route while it is outstanding.
	if !arriving && s.State == StateGuiding && s.recalculationDue(sample.TimestampMs) &&
		s.config.Path.DistanceMeters(position, s.Route.FullPath()) > th.OffRouteMeters {
		s.State = StateRecalculating
		s.LastRecalculationAtMs = sample.TimestampMs
		s.Recalculations++
		fx.Recalculation = &RecalculationRequest{Origin: position, Destination: s.Destination}
		fx.Events = append(fx.Events, Event{Kind: EventRecalculating, StepIndex: s.CurrentStepIndex})
	}

	if arriving {
		s.Arrived = true
		s.State = StateArrived
		fx.Events = append(fx.Events, Event{Kind: EventArrived, StepIndex: s.CurrentStepIndex})
	}

	return s, fx
}

// ApplyRecalculation installs a replacement route fetched after an off-route
// detection. It is ignored once the session has arrived.
func ApplyRecalculation(s Session, route *directions.Route) (Session, []Event) {
	if s.State == StateArrived || route == nil || len(route.Steps) == 0 {
		return s, nil
	}
	return s.replaceRoute(route)
}

// RecalculationFailed returns a recalculating session to guidance on its current route
func RecalculationFailed(s Session) Session {
	if s.State == StateRecalculating {
		s.State = StateGuiding
	}
	return s
}

// SetFollowing toggles camera follow mode
func SetFollowing(s Session, following bool) Session {
	s.Following = following
	return s
}

// Instruction returns the text of the current step
func (s Session) Instruction() string {
	if s.Route == nil || len(s.Route.Steps) == 0 {
		return ""
	}
	return s.Route.Steps[s.CurrentStepIndex].Instruction
}

// Position returns the latest fix location, if any
func (s Session) Position() *geo.Point {
	if s.LastSample == nil {
		return nil
	}
	p := s.LastSample.Point
	return &p
}

func (s Session) replaceRoute(route *directions.Route) (Session, []Event) {
	s.Route = route
	s.CurrentStepIndex = 0
	s.State = StateGuiding
	return s, []Event{
		{Kind: EventRouteReady, Route: route},
		s.instructionEvent(),
	}
}

func (s Session) instructionEvent() Event {
	return Event{
		Kind:        EventInstructionChanged,
		StepIndex:   s.CurrentStepIndex,
		Instruction: s.Instruction(),
	}
}

func (s Session) recalculationDue(nowMs int64) bool {
	if s.Recalculations == 0 {
		return true
	}
	return nowMs-s.LastRecalculationAtMs >= s.config.Thresholds.RecalculationInterval.Milliseconds()
}

// resolveHeading prefers the device heading, then the bearing from the
// previous fix when the device moved enough, then the last known heading.
func resolveHeading(sample geo.PositionSample, previous *geo.PositionSample, current *float64) *float64 {
	if sample.Heading != nil && !math.IsNaN(*sample.Heading) && !math.IsInf(*sample.Heading, 0) {
		h := geo.NormalizeHeading(*sample.Heading)
		return &h
	}
	if previous != nil && geo.HaversineMeters(previous.Point, sample.Point) >= minHeadingMovement {
		h := geo.InitialBearing(previous.Point, sample.Point)
		return &h
	}
	return current
}
