// Package trace replays recorded position fixes as a navigation.LocationSource.
//
// Traces are JSON lines, one geo.PositionSample per line:
//
//	{"point":{"lat":48.85,"lng":2.34},"speed":12.5,"heading":45,"timestamp":1700000000000}
package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
)

// ErrEmptyTrace is returned when a trace holds no fixes
var ErrEmptyTrace = errors.New("trace contains no fixes")

// Load parses a JSON-lines trace. Blank lines and lines starting with # are skipped.
func Load(r io.Reader) ([]geo.PositionSample, error) {
	var samples []geo.PositionSample

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var sample geo.PositionSample
		if err := json.Unmarshal([]byte(text), &sample); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse fix: %w", line, err)
		}
		if !geo.IsValid(sample.Point) {
			return nil, fmt.Errorf("line %d: invalid coordinates %v", line, sample.Point)
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	if len(samples) == 0 {
		return nil, ErrEmptyTrace
	}

	return samples, nil
}

// LoadFile parses the trace at path
func LoadFile(path string) ([]geo.PositionSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Source delivers a recorded trace to a single subscriber
type Source struct {
	samples []geo.PositionSample
	speedup float64

	mu   sync.Mutex
	done chan struct{}
}

// NewSource replays samples. A speedup of zero delivers fixes back to back;
// otherwise gaps between recorded timestamps are slept, divided by speedup.
func NewSource(samples []geo.PositionSample, speedup float64) *Source {
	return &Source{samples: samples, speedup: speedup}
}

// Authorize implements navigation.LocationSource; a recorded trace needs no permission
func (s *Source) Authorize(ctx context.Context) error {
	if len(s.samples) == 0 {
		return fmt.Errorf("%w: %w", navigation.ErrPermissionDenied, ErrEmptyTrace)
	}
	return nil
}

// Subscribe implements navigation.LocationSource
func (s *Source) Subscribe(onSample func(geo.PositionSample)) (navigation.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			return nil, errors.New("trace already has an active subscriber")
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.done = done

	go s.replay(onSample, stop, done)

	var once sync.Once
	// Cancel may be called from within onSample, so it never waits on replay.
	return func() { once.Do(func() { close(stop) }) }, nil
}

// Done is closed once the current replay has delivered every fix or been cancelled
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Source) replay(onSample func(geo.PositionSample), stop, done chan struct{}) {
	defer close(done)

	for i, sample := range s.samples {
		if i > 0 && s.speedup > 0 {
			gap := time.Duration(sample.TimestampMs-s.samples[i-1].TimestampMs) * time.Millisecond
			if gap > 0 {
				timer := time.NewTimer(time.Duration(float64(gap) / s.speedup))
				select {
				case <-timer.C:
				case <-stop:
					timer.Stop()
					return
				}
			}
		}

		select {
		case <-stop:
			return
		default:
		}

		onSample(sample)
	}

	logging.Debugw(logging.EnsureLogger(context.Background()), "Trace: replay complete", "fixes", len(s.samples))
}
