package navigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/speed"
)

var (
	// ErrPermissionDenied is returned when the location source refuses access
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrRecalculationFailed marks a failed reroute; guidance continues on the stale route
	ErrRecalculationFailed = errors.New("route recalculation failed")
)

// State is the guidance lifecycle state
type State int

const (
	StateIdle State = iota
	StateRouteLoading
	StateGuiding
	StateRecalculating
	StateArrived
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRouteLoading:
		return "route_loading"
	case StateGuiding:
		return "guiding"
	case StateRecalculating:
		return "recalculating"
	case StateArrived:
		return "arrived"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateIdle; candidate <= StateFailed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Thresholds are the distances and intervals that drive guidance decisions
type Thresholds struct {
	StepAdvanceMeters     float64       `json:"step_advance_meters"`
	OffRouteMeters        float64       `json:"off_route_meters"`
	ArrivalMeters         float64       `json:"arrival_meters"`
	RecalculationInterval time.Duration `json:"recalculation_interval"`
}

// DefaultThresholds returns the thresholds tuned for urban GPS accuracy
func DefaultThresholds() Thresholds {
	return Thresholds{
		StepAdvanceMeters:     30,
		OffRouteMeters:        80,
		ArrivalMeters:         25,
		RecalculationInterval: 15 * time.Second,
	}
}

// Config holds everything a session needs besides its route
type Config struct {
	Thresholds      Thresholds
	Path            geo.PathMatcher
	SpeedWeight     float64
	SpeedMinElapsed time.Duration
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{
		Thresholds:      DefaultThresholds(),
		Path:            geo.DefaultPathMatcher(),
		SpeedWeight:     speed.DefaultWeight,
		SpeedMinElapsed: speed.DefaultMinElapsed,
	}
}

// EventKind identifies a guidance event for presentation layers
type EventKind int

const (
	EventRouteReady EventKind = iota + 1
	EventInstructionChanged
	EventRecalculating
	EventArrived
)

func (k EventKind) String() string {
	switch k {
	case EventRouteReady:
		return "route_ready"
	case EventInstructionChanged:
		return "instruction_changed"
	case EventRecalculating:
		return "recalculating"
	case EventArrived:
		return "arrived"
	}
	return "unknown"
}

// MarshalText renders the kind by name in JSON payloads
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses an event kind name
func (k *EventKind) UnmarshalText(text []byte) error {
	for candidate := EventRouteReady; candidate <= EventArrived; candidate++ {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is emitted by session updates for voice and UI layers
type Event struct {
	Kind        EventKind         `json:"kind"`
	StepIndex   int               `json:"step_index"`
	Instruction string            `json:"instruction,omitempty"`
	Route       *directions.Route `json:"route,omitempty"`
}

// RecalculationRequest asks the host to fetch a replacement route
type RecalculationRequest struct {
	Origin      geo.Point
	Destination directions.Place
}

// Effects are the outputs of a single update besides the new session value
type Effects struct {
	Events        []Event
	Recalculation *RecalculationRequest
}

// CancelFunc stops a location subscription
type CancelFunc func()

// LocationSource delivers device fixes
type LocationSource interface {
	// Authorize requests location access, returning ErrPermissionDenied when refused
	Authorize(ctx context.Context) error

	// Subscribe starts delivering fixes to onSample until the returned
	// CancelFunc is called. Fixes are never delivered from within Subscribe,
	// arrive one at a time, and the CancelFunc must not block on delivery.
	Subscribe(onSample func(geo.PositionSample)) (CancelFunc, error)
}

// BackgroundTracker is implemented by sources that keep a continuous
// background location registration alive outside the subscription.
type BackgroundTracker interface {
	StopBackgroundUpdates()
}
