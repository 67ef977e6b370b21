// Package api exposes guidance sessions to mobile clients over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
	"github.com/dpup/convoy-nav/server/internal/lib/routekml"
	"github.com/dpup/convoy-nav/server/internal/services"
)

// Server routes API requests to registered guidance sessions
type Server struct {
	registry *services.Registry
	factory  *services.Factory
	auth     *Authenticator
	origins  []string
	mux      *http.ServeMux
}

// NewServer creates the API handler. A nil authenticator leaves the API open.
func NewServer(registry *services.Registry, factory *services.Factory, auth *Authenticator) *Server {
	s := &Server{
		registry: registry,
		factory:  factory,
		auth:     auth,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /nav/v1/sessions", s.handleStart)
	s.mux.HandleFunc("GET /nav/v1/sessions/{id}", s.withSession(s.handleSnapshot))
	s.mux.HandleFunc("DELETE /nav/v1/sessions/{id}", s.withSession(s.handleStop))
	s.mux.HandleFunc("POST /nav/v1/sessions/{id}/positions", s.withSession(s.handlePositions))
	s.mux.HandleFunc("POST /nav/v1/sessions/{id}/follow", s.withSession(s.handleFollow))
	s.mux.HandleFunc("POST /nav/v1/sessions/{id}/recenter", s.withSession(s.handleRecenter))
	s.mux.HandleFunc("GET /nav/v1/sessions/{id}/route.kml", s.withSession(s.handleRouteKML))
	s.mux.HandleFunc("GET /nav/v1/sessions/{id}/stream", s.withSession(s.handleStream))

	return s
}

// WithAllowedOrigins restricts browser and WebSocket origins. An empty list or
// "*" allows any origin.
func (s *Server) WithAllowedOrigins(origins []string) *Server {
	s.origins = origins
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(logging.EnsureLogger(r.Context()))
	if origin := r.Header.Get("Origin"); origin != "" && s.allowOrigin(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) allowOrigin(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// StartRequest opens a guidance session. Places are "lat,lng" or an address.
type StartRequest struct {
	Origin             string `json:"origin"`
	Destination        string `json:"destination"`
	MissionID          string `json:"mission_id"`
	DriverID           string `json:"driver_id"`
	LocationPermission *bool  `json:"location_permission,omitempty"`
}

// StartResponse identifies the new session
type StartResponse struct {
	ID       string            `json:"id"`
	Snapshot services.Snapshot `json:"snapshot"`
}

// PositionsRequest carries one or more fixes in recorded order
type PositionsRequest struct {
	Samples []geo.PositionSample `json:"samples"`
}

// FollowRequest toggles camera follow mode
type FollowRequest struct {
	Following bool `json:"following"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.FromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if claims != nil {
		req.DriverID = claims.DriverID
		req.MissionID = claims.MissionID
	}

	origin := directions.ParsePlace(req.Origin)
	destination := directions.ParsePlace(req.Destination)
	if origin.IsZero() || destination.IsZero() {
		writeError(w, http.StatusBadRequest, errors.New("origin and destination are required"))
		return
	}

	granted := req.LocationPermission == nil || *req.LocationPermission
	source := services.NewPushSource(granted)
	hub := newBroadcaster()
	svc := s.factory.New(source, hub, req.MissionID, req.DriverID)

	if err := svc.Start(r.Context(), origin, destination); err != nil {
		writeError(w, startErrorStatus(err), err)
		return
	}

	entry := s.registry.Add(services.Entry{
		Service:   svc,
		Source:    source,
		Listener:  hub,
		MissionID: req.MissionID,
		DriverID:  req.DriverID,
	})

	logging.Infow(r.Context(), "API: session started",
		"session_id", entry.ID, "mission_id", req.MissionID, "driver_id", req.DriverID)

	writeJSON(w, http.StatusCreated, StartResponse{ID: entry.ID.String(), Snapshot: svc.Snapshot()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, entry *services.Entry) {
	writeJSON(w, http.StatusOK, entry.Service.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, entry *services.Entry) {
	s.registry.Remove(entry.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request, entry *services.Entry) {
	var req PositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := pushSamples(entry, req.Samples); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrNotSubscribed) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusAccepted, entry.Service.Snapshot())
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request, entry *services.Entry) {
	var req FollowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	entry.Service.SetFollowing(req.Following)
	writeJSON(w, http.StatusOK, entry.Service.Snapshot())
}

func (s *Server) handleRecenter(w http.ResponseWriter, r *http.Request, entry *services.Entry) {
	entry.Service.RecenterNow()
	writeJSON(w, http.StatusOK, entry.Service.Snapshot())
}

func (s *Server) handleRouteKML(w http.ResponseWriter, r *http.Request, entry *services.Entry) {
	route := entry.Service.Route()
	if route == nil {
		writeError(w, http.StatusNotFound, errors.New("session has no active route"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.kml"`, entry.ID))
	if err := routekml.Write(w, "Session "+entry.ID.String(), route); err != nil {
		logging.Errorw(r.Context(), "API: failed to write KML", "session_id", entry.ID, "error", err)
	}
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, entry *services.Entry)

// withSession resolves {id} and, when authentication is enabled, checks the
// caller is the driver who started the session.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.FromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, errors.New("session not found"))
			return
		}

		entry, ok := s.registry.Get(id)
		if !ok || (claims != nil && claims.DriverID != entry.DriverID) {
			writeError(w, http.StatusNotFound, errors.New("session not found"))
			return
		}

		next(w, r, entry)
	}
}

func pushSamples(entry *services.Entry, samples []geo.PositionSample) error {
	source, ok := entry.Source.(*services.PushSource)
	if !ok {
		return errors.New("session does not accept pushed fixes")
	}

	for i, sample := range samples {
		if !geo.IsValid(sample.Point) {
			return fmt.Errorf("sample %d: invalid coordinates", i)
		}
		if sample.TimestampMs == 0 {
			sample.TimestampMs = time.Now().UnixMilli()
		}
		if err := source.Push(sample); err != nil {
			return err
		}
	}
	return nil
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, navigation.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, directions.ErrRouteUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode API response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
