package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dpup/convoy-nav/server/internal/clients/trace"
	"github.com/dpup/convoy-nav/server/internal/lib/camera"
	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
	"github.com/dpup/convoy-nav/server/internal/lib/telemetry"
	"github.com/dpup/convoy-nav/server/internal/services"
)

// ReplayInput describes one replay run
type ReplayInput struct {
	Samples     []geo.PositionSample
	Speedup     float64
	Origin      directions.Place
	Destination directions.Place

	Gateway        directions.Gateway
	InitialGateway directions.Gateway
	Telemetry      telemetry.Sink
	Options        services.Options

	Out io.Writer // live event log, optional
}

// TimedEvent is a guidance event with the wall time it was observed
type TimedEvent struct {
	Elapsed time.Duration
	Event   navigation.Event
}

// ReplayResult summarizes a finished replay
type ReplayResult struct {
	Events   []TimedEvent
	Cameras  int
	Snapshot services.Snapshot
	Route    *directions.Route
	Duration time.Duration
}

type replayListener struct {
	start   time.Time
	out     io.Writer
	arrived chan struct{}

	mu      sync.Mutex
	once    sync.Once
	events  []TimedEvent
	cameras int
}

func (l *replayListener) OnEvent(event navigation.Event) {
	elapsed := time.Since(l.start)

	l.mu.Lock()
	l.events = append(l.events, TimedEvent{Elapsed: elapsed, Event: event})
	l.mu.Unlock()

	if l.out != nil {
		fmt.Fprintf(l.out, "[%8s] %-20s step %-3d %s\n",
			elapsed.Truncate(time.Millisecond), event.Kind, event.StepIndex, event.Instruction)
	}
	if event.Kind == navigation.EventArrived {
		l.once.Do(func() { close(l.arrived) })
	}
}

func (l *replayListener) OnCamera(camera.Proposal) {
	l.mu.Lock()
	l.cameras++
	l.mu.Unlock()
}

// Replay runs the trace through a guidance service until arrival, the end of
// the trace or ctx cancellation. Cancellation still yields a result.
func Replay(ctx context.Context, in ReplayInput) (*ReplayResult, error) {
	source := trace.NewSource(in.Samples, in.Speedup)
	listener := &replayListener{
		start:   time.Now(),
		out:     in.Out,
		arrived: make(chan struct{}),
	}

	svc := services.NewGuidanceService(services.Dependencies{
		Source:         source,
		Gateway:        in.Gateway,
		InitialGateway: in.InitialGateway,
		Telemetry:      in.Telemetry,
		Listener:       listener,
	}, in.Options)

	if err := svc.Start(ctx, in.Origin, in.Destination); err != nil {
		return nil, fmt.Errorf("failed to start guidance: %w", err)
	}

	select {
	case <-listener.arrived:
	case <-source.Done():
	case <-ctx.Done():
	}

	// Let in-flight recalculations land and their events reach the listener
	// before reading the final state
	if ctx.Err() == nil {
		svc.Wait()
		svc.Flush()
	}

	result := &ReplayResult{
		Snapshot: svc.Snapshot(),
		Route:    svc.Route(),
	}
	svc.Stop()
	svc.Wait()

	listener.mu.Lock()
	result.Events = append([]TimedEvent(nil), listener.events...)
	result.Cameras = listener.cameras
	listener.mu.Unlock()
	result.Duration = time.Since(listener.start)

	return result, nil
}

// PrintSummary renders the replay outcome as tables
func PrintSummary(w io.Writer, result *ReplayResult) {
	events := table.NewWriter()
	events.SetOutputMirror(w)
	events.SetTitle("Guidance events")
	events.AppendHeader(table.Row{"#", "Elapsed", "Event", "Step", "Instruction"})
	for i, e := range result.Events {
		events.AppendRow(table.Row{i + 1, e.Elapsed.Truncate(time.Millisecond), e.Event.Kind, e.Event.StepIndex, e.Event.Instruction})
	}
	events.Render()

	snap := result.Snapshot
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetTitle("Final state")
	summary.AppendRows([]table.Row{
		{"State", snap.State},
		{"Step", fmt.Sprintf("%d / %d", snap.StepIndex+1, snap.StepCount)},
		{"Instruction", snap.Instruction},
		{"Arrived", snap.Arrived},
		{"Recalculations", snap.Recalculations},
		{"Provider", snap.Provider},
		{"Speed (km/h)", fmt.Sprintf("%.1f", snap.SpeedKmh)},
		{"Camera updates", result.Cameras},
		{"Replay time", result.Duration.Truncate(time.Millisecond)},
	})
	summary.Render()
}
