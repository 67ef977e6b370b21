package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
)

// Entry is a registered guidance session and the source feeding it
type Entry struct {
	ID        uuid.UUID
	Service   *GuidanceService
	Source    navigation.LocationSource
	Listener  Listener
	MissionID string
	DriverID  string
	CreatedAt time.Time
}

// Registry tracks the guidance sessions hosted by this server
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry

	stopChan chan struct{}
	running  bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[uuid.UUID]*Entry),
		stopChan: make(chan struct{}),
	}
}

// Add registers a session under a new random ID
func (r *Registry) Add(entry Entry) *Entry {
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()

	r.mu.Lock()
	r.entries[entry.ID] = &entry
	r.mu.Unlock()

	ActiveSessions.Inc()
	return &entry
}

// Get looks up a session
func (r *Registry) Get(id uuid.UUID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// Remove stops and forgets a session, reporting whether it existed
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	entry.Service.Stop()
	if closer, ok := entry.Listener.(interface{ Close() }); ok {
		closer.Close()
	}
	ActiveSessions.Dec()
	return true
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StopAll stops and removes every session, then waits for their in-flight
// recalculations and telemetry writes so sinks can be closed afterwards.
func (r *Registry) StopAll() {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		r.Remove(entry.ID)
	}
	for _, entry := range entries {
		entry.Service.Wait()
	}
}

// Sweep removes sessions that have not started or received a fix within maxIdle
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.RLock()
	var idle []uuid.UUID
	for id, entry := range r.entries {
		if entry.Service.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range idle {
		if r.Remove(id) {
			removed++
		}
	}
	return removed
}

// StartSweeper periodically removes sessions idle for longer than maxIdle,
// covering devices that disappear without stopping their session.
func (r *Registry) StartSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	ctx = logging.EnsureLogger(ctx)
	logging.Infow(ctx, "Session sweeper: starting", "interval", interval, "max_idle", maxIdle)
	go r.sweepLoop(ctx, interval, maxIdle)
}

// StopSweeper stops the background sweeper
func (r *Registry) StopSweeper() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopChan)
}

func (r *Registry) sweepLoop(ctx context.Context, interval, maxIdle time.Duration) {
	defer recoverBackground(ctx, "Session sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Session sweeper: stopping due to context cancellation")
			return
		case <-r.stopChan:
			logging.Infow(ctx, "Session sweeper: stopping due to stop signal")
			return
		case <-ticker.C:
			if removed := r.Sweep(maxIdle); removed > 0 {
				logging.Infow(ctx, "Session sweeper: removed idle sessions", "removed", removed, "remaining", r.Len())
			}
		}
	}
}
