package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/dpup/convoy-nav/server/internal/lib/camera"
	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
	"github.com/dpup/convoy-nav/server/internal/lib/telemetry"
)

var (
	// ErrSessionActive is returned when starting a service that is still guiding
	ErrSessionActive = errors.New("guidance session already active")

	// ErrStopped is returned by Start when Stop interrupted it
	ErrStopped = errors.New("guidance stopped")
)

// Listener receives guidance output. Calls arrive on a single goroutine in
// emission order, so implementations may call back into the service.
type Listener interface {
	OnEvent(event navigation.Event)
	OnCamera(proposal camera.Proposal)
}

// ListenerFuncs adapts plain functions to Listener; nil fields are skipped
type ListenerFuncs struct {
	Event  func(navigation.Event)
	Camera func(camera.Proposal)
}

// OnEvent implements Listener
func (l ListenerFuncs) OnEvent(event navigation.Event) {
	if l.Event != nil {
		l.Event(event)
	}
}

// OnCamera implements Listener
func (l ListenerFuncs) OnCamera(proposal camera.Proposal) {
	if l.Camera != nil {
		l.Camera(proposal)
	}
}

// Options configures a GuidanceService
type Options struct {
	Navigation           navigation.Config
	Camera               camera.Settings
	Language             string
	RecalculationTimeout time.Duration
	TelemetryInterval    time.Duration
	TelemetryTimeout     time.Duration
	MissionID            string
	DriverID             string
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		Navigation:           navigation.DefaultConfig(),
		Camera:               camera.DefaultSettings(),
		Language:             "en",
		RecalculationTimeout: 20 * time.Second,
		TelemetryInterval:    telemetry.DefaultInterval,
		TelemetryTimeout:     5 * time.Second,
	}
}

// Dependencies are the collaborators a GuidanceService drives
type Dependencies struct {
	Source navigation.LocationSource

	// Gateway serves recalculations. InitialGateway, when set, serves the
	// first fetch of each run instead (typically a caching wrapper).
	Gateway        directions.Gateway
	InitialGateway directions.Gateway

	Telemetry telemetry.Sink // optional
	Listener  Listener       // optional
}

// Snapshot is a point-in-time copy of guidance state
type Snapshot struct {
	State                    navigation.State `json:"state"`
	StepIndex                int              `json:"step_index"`
	StepCount                int              `json:"step_count"`
	Instruction              string           `json:"instruction,omitempty"`
	RemainingDistanceMeters  float64          `json:"remaining_distance_meters"`
	RemainingDurationSeconds float64          `json:"remaining_duration_seconds"`
	SpeedKmh                 float64          `json:"speed_kmh"`
	Position                 *geo.Point       `json:"position,omitempty"`
	Heading                  *float64         `json:"heading,omitempty"`
	Arrived                  bool             `json:"arrived"`
	Following                bool             `json:"following"`
	Recalculations           int              `json:"recalculations"`
	Provider                 string           `json:"provider,omitempty"`
}

// GuidanceService hosts one navigation session at a time: it subscribes to
// a location source, feeds fixes through the session, runs recalculations in
// the background and records decimated telemetry.
//
// Every run is tagged with a generation. Stop bumps it, so fixes, route
// fetches and telemetry belonging to an earlier run are dropped.
type GuidanceService struct {
	deps   Dependencies
	opts   Options
	camera *camera.Controller

	mu           sync.Mutex
	generation   uint64
	running      bool
	phase        navigation.State
	session      *navigation.Session
	ctx          context.Context
	cancel       context.CancelFunc
	unsubscribe  navigation.CancelFunc
	decimator    *telemetry.Decimator
	out          *dispatcher
	lastActivity time.Time

	wg sync.WaitGroup
}

// NewGuidanceService creates an idle service
func NewGuidanceService(deps Dependencies, opts Options) *GuidanceService {
	if deps.InitialGateway == nil {
		deps.InitialGateway = deps.Gateway
	}
	if deps.Listener == nil {
		deps.Listener = ListenerFuncs{}
	}
	return &GuidanceService{
		deps:         deps,
		opts:         opts,
		camera:       camera.NewController(opts.Camera),
		phase:        navigation.StateIdle,
		lastActivity: time.Now(),
	}
}

// Start authorizes location access, fetches the initial route and begins
// guidance. Only permission and route failures are returned; once guiding,
// failures are absorbed.
func (s *GuidanceService) Start(ctx context.Context, origin, destination directions.Place) error {
	ctx = logging.EnsureLogger(ctx)

	s.mu.Lock()
	if s.running {
		if s.session == nil || s.session.State != navigation.StateArrived {
			s.mu.Unlock()
			return ErrSessionActive
		}
		s.stopLocked()
	}

	s.generation++
	gen := s.generation
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.phase = navigation.StateRouteLoading
	s.ctx = runCtx
	s.cancel = cancel
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if err := s.deps.Source.Authorize(ctx); err != nil {
		s.fail(gen)
		if !errors.Is(err, navigation.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", navigation.ErrPermissionDenied, err)
		}
		logging.Infow(ctx, "Guidance: location access denied", "error", err)
		return err
	}

	// The fetch ends when either the caller gives up or Stop is called
	fetchCtx, stopFetch := context.WithCancel(runCtx)
	defer stopFetch()
	defer context.AfterFunc(ctx, stopFetch)()

	route, err := s.deps.InitialGateway.FetchRoute(fetchCtx, directions.Request{
		Origin:      origin,
		Destination: destination,
		Mode:        directions.ModeDriving,
		Language:    s.opts.Language,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return ErrStopped
	}
	if err != nil {
		s.failLocked()
		if !errors.Is(err, directions.ErrRouteUnavailable) {
			err = &directions.UnavailableError{Err: err}
		}
		logging.Warnw(ctx, "Guidance: initial route unavailable", "destination", destination.String(), "error", err)
		return err
	}

	session, events := navigation.NewSession(route, destination, s.opts.Navigation)
	s.session = &session
	s.phase = session.State
	s.decimator = telemetry.NewDecimator(s.opts.TelemetryInterval)
	s.out = newDispatcher(s.deps.Listener, runCtx.Done())
	go s.out.run()

	unsubscribe, err := s.deps.Source.Subscribe(func(sample geo.PositionSample) {
		s.handleSample(gen, sample)
	})
	if err != nil {
		s.failLocked()
		return fmt.Errorf("%w: failed to subscribe to location updates: %w", navigation.ErrPermissionDenied, err)
	}
	s.unsubscribe = unsubscribe
	s.emit(events...)

	logging.Infow(ctx, "Guidance: started",
		"provider", route.Provider,
		"steps", len(route.Steps),
		"distance_m", route.TotalDistanceMeters,
		"mission_id", s.opts.MissionID,
		"driver_id", s.opts.DriverID)
	return nil
}

// Stop ends the current run: the location subscription and any background
// registration are cancelled and in-flight work is discarded. Safe to call
// repeatedly.
func (s *GuidanceService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// SetFollowing toggles camera follow mode. Engaging it proposes a camera
// position immediately when one is known.
func (s *GuidanceService) SetFollowing(following bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return
	}
	next := navigation.SetFollowing(*s.session, following)
	s.session = &next
	s.proposeCamera()
}

// RecenterNow re-engages following and snaps the camera to the latest fix
func (s *GuidanceService) RecenterNow() {
	s.SetFollowing(true)
}

// Snapshot returns the current guidance state
func (s *GuidanceService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return Snapshot{State: s.phase}
	}

	sess := s.session
	snap := Snapshot{
		State:          sess.State,
		StepIndex:      sess.CurrentStepIndex,
		Instruction:    sess.Instruction(),
		SpeedKmh:       sess.SmoothedSpeedKmh,
		Position:       sess.Position(),
		Heading:        sess.HeadingDegrees,
		Arrived:        sess.Arrived,
		Following:      sess.Following,
		Recalculations: sess.Recalculations,
	}
	if sess.Route != nil {
		snap.StepCount = len(sess.Route.Steps)
		snap.RemainingDistanceMeters = sess.Route.TotalDistanceMeters
		snap.RemainingDurationSeconds = sess.Route.TotalDurationSeconds
		snap.Provider = sess.Route.Provider
	}
	return snap
}

// Route returns the active route, or nil when not guiding
func (s *GuidanceService) Route() *directions.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	return s.session.Route
}

// LastActivity is when the service last started or received a fix
func (s *GuidanceService) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Wait blocks until background recalculations and telemetry writes finish
func (s *GuidanceService) Wait() {
	s.wg.Wait()
}

// Flush blocks until every event and camera proposal emitted so far has
// reached the listener, or the run has stopped. Must not be called from a
// listener callback.
func (s *GuidanceService) Flush() {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out != nil {
		out.flush()
	}
}

func (s *GuidanceService) handleSample(gen uint64, sample geo.PositionSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.session == nil {
		return
	}

	next, fx := navigation.Update(*s.session, sample)
	s.session = &next
	s.phase = next.State
	s.lastActivity = time.Now()

	s.emit(fx.Events...)
	s.proposeCamera()
	s.recordTelemetry(sample)

	if fx.Recalculation != nil {
		RecalculationsTotal.WithLabelValues("started").Inc()
		logging.Debugw(s.ctx, "Guidance: off route, recalculating",
			"lat", sample.Point.Latitude, "lng", sample.Point.Longitude, "attempt", next.Recalculations)

		s.wg.Add(1)
		go s.recalculate(s.ctx, gen, *fx.Recalculation)
	}
}

func (s *GuidanceService) recalculate(ctx context.Context, gen uint64, req navigation.RecalculationRequest) {
	defer s.wg.Done()
	defer recoverBackground(ctx, "Guidance recalculation")

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.RecalculationTimeout)
	route, err := s.deps.Gateway.FetchRoute(fetchCtx, directions.Request{
		Origin:      directions.PointPlace(req.Origin),
		Destination: req.Destination,
		Mode:        directions.ModeDriving,
		Language:    s.opts.Language,
	})
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.session == nil {
		RecalculationsTotal.WithLabelValues("discarded").Inc()
		logging.Debugw(ctx, "Guidance: discarding recalculation for stopped session")
		return
	}

	if err != nil {
		next := navigation.RecalculationFailed(*s.session)
		s.session = &next
		s.phase = next.State
		RecalculationsTotal.WithLabelValues("failed").Inc()
		logging.Warnw(ctx, "Guidance: recalculation failed, continuing on current route",
			"error", fmt.Errorf("%w: %w", navigation.ErrRecalculationFailed, err))
		return
	}

	next, events := navigation.ApplyRecalculation(*s.session, route)
	s.session = &next
	s.phase = next.State
	if len(events) == 0 {
		RecalculationsTotal.WithLabelValues("discarded").Inc()
		return
	}
	RecalculationsTotal.WithLabelValues("applied").Inc()
	s.emit(events...)
}

func (s *GuidanceService) recordTelemetry(sample geo.PositionSample) {
	if s.deps.Telemetry == nil || !s.decimator.Admit(sample.TimestampMs) {
		return
	}

	record := telemetry.Record{
		MissionID: s.opts.MissionID,
		DriverID:  s.opts.DriverID,
		Latitude:  sample.Point.Latitude,
		Longitude: sample.Point.Longitude,
		Speed:     s.session.SmoothedSpeedKmh,
		Timestamp: time.UnixMilli(sample.TimestampMs),
	}
	ctx := s.ctx
	sink := s.deps.Telemetry
	timeout := s.opts.TelemetryTimeout

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer recoverBackground(ctx, "Guidance telemetry")

		writeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := sink.Record(writeCtx, record); err != nil {
			TelemetryWritesTotal.WithLabelValues("failed").Inc()
			logging.Debugw(ctx, "Guidance: telemetry write failed", "error", err)
			return
		}
		TelemetryWritesTotal.WithLabelValues("ok").Inc()
	}()
}

func (s *GuidanceService) proposeCamera() {
	proposal, ok := s.camera.Propose(s.session.Following, s.session.Position(), s.session.HeadingDegrees)
	if ok && s.out != nil {
		s.out.push(outbound{camera: &proposal})
	}
}

func (s *GuidanceService) emit(events ...navigation.Event) {
	if s.out == nil {
		return
	}
	for i := range events {
		s.out.push(outbound{event: &events[i]})
	}
}

func (s *GuidanceService) stopLocked() {
	if !s.running {
		return
	}

	s.generation++
	s.running = false
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if tracker, ok := s.deps.Source.(navigation.BackgroundTracker); ok {
		tracker.StopBackgroundUpdates()
	}
	s.cancel()
	s.session = nil
	s.out = nil
	s.phase = navigation.StateIdle

	logging.Debugw(s.ctx, "Guidance: stopped")
}

func (s *GuidanceService) fail(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.failLocked()
	}
}

// failLocked discards the run after a start failure
func (s *GuidanceService) failLocked() {
	s.stopLocked()
	s.phase = navigation.StateFailed
}

func recoverBackground(ctx context.Context, name string) {
	if r := recover(); r != nil {
		err, _ := perrors.ParseStack(debug.Stack())
		skipFrames := 3
		numFrames := 5
		logging.Errorw(ctx, name+": recovered from panic",
			"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
	}
}

type outbound struct {
	event  *navigation.Event
	camera *camera.Proposal
}

// dispatcher delivers listener calls in order on its own goroutine so the
// service lock is never held while user code runs.
type dispatcher struct {
	listener Listener
	done     <-chan struct{}

	mu      sync.Mutex
	idle    *sync.Cond
	queue   []outbound
	pending int
	stopped bool
	wake    chan struct{}
}

func newDispatcher(listener Listener, done <-chan struct{}) *dispatcher {
	d := &dispatcher{
		listener: listener,
		done:     done,
		wake:     make(chan struct{}, 1),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) push(o outbound) {
	d.mu.Lock()
	d.queue = append(d.queue, o)
	d.pending++
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// flush waits for the queue to drain. Entries dropped by a stop count as
// drained.
func (d *dispatcher) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.pending > 0 && !d.stopped {
		d.idle.Wait()
	}
}

func (d *dispatcher) delivered() {
	d.mu.Lock()
	d.pending--
	if d.pending == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

func (d *dispatcher) finish() {
	d.mu.Lock()
	d.stopped = true
	d.queue = nil
	d.pending = 0
	d.idle.Broadcast()
	d.mu.Unlock()
}

func (d *dispatcher) run() {
	defer d.finish()
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, o := range batch {
			select {
			case <-d.done:
				return
			default:
			}
			if o.event != nil {
				d.listener.OnEvent(*o.event)
			}
			if o.camera != nil {
				d.listener.OnCamera(*o.camera)
			}
			d.delivered()
		}
	}
}
