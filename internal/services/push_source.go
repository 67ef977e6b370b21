package services

import (
	"context"
	"errors"
	"sync"

	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
)

// ErrNotSubscribed is returned when a fix is pushed with nobody listening
var ErrNotSubscribed = errors.New("location source has no subscriber")

// PushSource is a LocationSource fed by a remote device, which reports its
// permission state and pushes fixes over the API.
type PushSource struct {
	mu         sync.Mutex
	denied     bool
	background bool
	onSample   func(geo.PositionSample)

	deliver sync.Mutex
}

// NewPushSource creates a source; granted is the device's location permission
func NewPushSource(granted bool) *PushSource {
	return &PushSource{denied: !granted}
}

// Authorize implements navigation.LocationSource and registers for
// background updates on success.
func (p *PushSource) Authorize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.denied {
		return navigation.ErrPermissionDenied
	}
	p.background = true
	return nil
}

// Subscribe implements navigation.LocationSource
func (p *PushSource) Subscribe(onSample func(geo.PositionSample)) (navigation.CancelFunc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.onSample != nil {
		return nil, errors.New("location source already has a subscriber")
	}
	p.onSample = onSample

	return func() {
		p.mu.Lock()
		p.onSample = nil
		p.mu.Unlock()
	}, nil
}

// StopBackgroundUpdates implements navigation.BackgroundTracker
func (p *PushSource) StopBackgroundUpdates() {
	p.mu.Lock()
	p.background = false
	p.mu.Unlock()
}

// BackgroundActive reports whether the device should keep sending fixes
func (p *PushSource) BackgroundActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.background
}

// Push delivers a fix to the subscriber. Concurrent pushes are delivered one at a time.
func (p *PushSource) Push(sample geo.PositionSample) error {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	onSample := p.onSample
	p.mu.Unlock()

	if onSample == nil {
		return ErrNotSubscribed
	}
	onSample(sample)
	return nil
}
