// Package speed turns noisy per-fix speed readings into a stable display value.
package speed

import (
	"math"
	"time"

	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

const (
	// DefaultWeight is the share of the newest reading in the blended value
	DefaultWeight = 0.6

	// DefaultMinElapsed floors the time between fixes when deriving speed
	// from displacement, so near-simultaneous fixes cannot produce spikes.
	DefaultMinElapsed = 500 * time.Millisecond
)

// Estimator exponentially smooths speed readings. The zero value is not
// ready for use; construct with NewEstimator.
type Estimator struct {
	weight     float64
	minElapsed time.Duration

	smoothed float64
	primed   bool
}

// NewEstimator creates an estimator. Out-of-range parameters fall back to defaults.
func NewEstimator(weight float64, minElapsed time.Duration) Estimator {
	if weight <= 0 || weight > 1 || math.IsNaN(weight) {
		weight = DefaultWeight
	}
	if minElapsed <= 0 {
		minElapsed = DefaultMinElapsed
	}
	return Estimator{weight: weight, minElapsed: minElapsed}
}

// Update folds sample into the estimate and returns the smoothed speed in km/h,
// rounded to one decimal. previous is the fix before sample, if any.
//
// The device-reported speed is preferred. When it is missing or unusable the
// speed is derived from the displacement since previous. If neither is
// available the current estimate is returned unchanged.
func (e *Estimator) Update(sample geo.PositionSample, previous *geo.PositionSample) float64 {
	raw, ok := e.rawKmh(sample, previous)
	if !ok {
		return e.Current()
	}

	if e.primed {
		e.smoothed = e.weight*raw + (1-e.weight)*e.smoothed
	} else {
		e.smoothed = raw
		e.primed = true
	}
	return e.Current()
}

// Current returns the latest smoothed speed in km/h, rounded to one decimal
func (e Estimator) Current() float64 {
	if !isUsable(e.smoothed) {
		return 0
	}
	return math.Round(e.smoothed*10) / 10
}

func (e *Estimator) rawKmh(sample geo.PositionSample, previous *geo.PositionSample) (float64, bool) {
	if sample.Speed != nil && isUsable(*sample.Speed) {
		return *sample.Speed * 3.6, true
	}

	if previous == nil {
		return 0, false
	}

	elapsed := time.Duration(sample.TimestampMs-previous.TimestampMs) * time.Millisecond
	if elapsed < e.minElapsed {
		elapsed = e.minElapsed
	}

	metersPerSecond := geo.HaversineMeters(previous.Point, sample.Point) / elapsed.Seconds()
	if !isUsable(metersPerSecond) {
		return 0, false
	}
	return metersPerSecond * 3.6, true
}

// isUsable rejects NaN, infinities and negative readings (some devices report -1 for "unknown")
func isUsable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
