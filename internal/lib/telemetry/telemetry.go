package telemetry

import (
	"context"
	"errors"
	"time"
)

// ErrWriteFailed marks a record that no sink accepted
var ErrWriteFailed = errors.New("telemetry write failed")

// DefaultInterval is the minimum sample-time gap between two recorded fixes
const DefaultInterval = 10 * time.Second

// Record is the position row persisted for a driver on a mission
type Record struct {
	MissionID string    `json:"missionId"`
	DriverID  string    `json:"driverId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"` // km/h, smoothed
	Timestamp time.Time `json:"timestamp"`
}

// Sink persists telemetry records. Callers treat writes as best-effort.
type Sink interface {
	Record(ctx context.Context, record Record) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, record Record) error

// Record implements Sink
func (f SinkFunc) Record(ctx context.Context, record Record) error {
	return f(ctx, record)
}

// Discard drops every record
var Discard Sink = SinkFunc(func(context.Context, Record) error { return nil })

// MultiSink writes each record to every sink and joins their errors
type MultiSink []Sink

// Record implements Sink
func (m MultiSink) Record(ctx context.Context, record Record) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrWriteFailed}, errs...)...)
}

// Decimator lets through at most one fix per interval, measured on sample
// timestamps rather than wall clock so replays decimate the same way.
type Decimator struct {
	interval time.Duration
	lastMs   int64
	primed   bool
}

// NewDecimator creates a decimator; a non-positive interval admits every fix
func NewDecimator(interval time.Duration) *Decimator {
	return &Decimator{interval: interval}
}

// Admit reports whether a fix taken at timestampMs should be recorded
func (d *Decimator) Admit(timestampMs int64) bool {
	if !d.primed || d.interval <= 0 || timestampMs-d.lastMs >= d.interval.Milliseconds() {
		d.lastMs = timestampMs
		d.primed = true
		return true
	}
	return false
}
