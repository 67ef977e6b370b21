package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
	"github.com/dpup/convoy-nav/server/internal/services"
)

var (
	start       = geo.Point{Latitude: 48.850, Longitude: 2.340}
	firstAnchor = geo.Point{Latitude: 48.860, Longitude: 2.350}
	destination = geo.Point{Latitude: 48.865, Longitude: 2.360}
)

type stubGateway struct {
	route *directions.Route
	err   error
}

func (g *stubGateway) FetchRoute(ctx context.Context, req directions.Request) (*directions.Route, error) {
	return g.route, g.err
}

func testRoute() *directions.Route {
	return &directions.Route{
		Steps: []directions.RouteStep{
			{Instruction: "Head northeast on Rue de Rivoli", ManeuverKind: "depart", Path: []geo.Point{start, firstAnchor}},
			{Instruction: "Turn right onto Boulevard de Sebastopol", ManeuverKind: "turn", Path: []geo.Point{firstAnchor, destination}},
		},
		Overview:             []geo.Point{start, firstAnchor, destination},
		TotalDistanceMeters:  2113,
		TotalDurationSeconds: 421,
		Provider:             "google",
	}
}

func newTestServer(t *testing.T, gateway directions.Gateway, auth *Authenticator) (*httptest.Server, *services.Registry) {
	registry := services.NewRegistry()
	factory := &services.Factory{Gateway: gateway, Options: services.DefaultOptions()}

	srv := httptest.NewServer(NewServer(registry, factory, auth))
	t.Cleanup(func() {
		registry.StopAll()
		srv.Close()
	})
	return srv, registry
}

func doJSON(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func startSession(t *testing.T, baseURL, token string) StartResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/nav/v1/sessions", StartRequest{
		Origin:      "48.850,2.340",
		Destination: "48.865,2.360",
		MissionID:   "mission-7",
		DriverID:    "driver-3",
	}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[StartResponse](t, resp)
}

func TestServer_SessionLifecycle(t *testing.T) {
	srv, registry := newTestServer(t, &stubGateway{route: testRoute()}, nil)

	started := startSession(t, srv.URL, "")
	assert.Equal(t, navigation.StateGuiding, started.Snapshot.State)
	assert.Equal(t, "Head northeast on Rue de Rivoli", started.Snapshot.Instruction)
	assert.Equal(t, 1, registry.Len())

	base := srv.URL + "/nav/v1/sessions/" + started.ID

	resp := doJSON(t, http.MethodPost, base+"/positions", PositionsRequest{Samples: []geo.PositionSample{
		{Point: start, TimestampMs: 1_000},
		{Point: firstAnchor, TimestampMs: 6_000},
	}}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	snap := decode[services.Snapshot](t, resp)
	assert.Equal(t, 1, snap.StepIndex)
	assert.Equal(t, "Turn right onto Boulevard de Sebastopol", snap.Instruction)

	resp = doJSON(t, http.MethodPost, base+"/follow", FollowRequest{Following: false}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[services.Snapshot](t, resp).Following)

	resp = doJSON(t, http.MethodPost, base+"/recenter", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[services.Snapshot](t, resp).Following)

	resp = doJSON(t, http.MethodGet, base+"/route.kml", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	kml, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(kml), "Head northeast on Rue de Rivoli")

	resp = doJSON(t, http.MethodDelete, base, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, registry.Len())

	resp = doJSON(t, http.MethodGet, base, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_StartErrors(t *testing.T) {
	unavailable := &stubGateway{err: &directions.UnavailableError{Provider: "osrm", Err: errors.New("NoRoute")}}
	srv, registry := newTestServer(t, unavailable, nil)
	url := srv.URL + "/nav/v1/sessions"

	resp := doJSON(t, http.MethodPost, url, StartRequest{Origin: "48.85,2.34", Destination: "48.865,2.36"}, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, decode[errorResponse](t, resp).Error, "NoRoute")

	denied := false
	resp = doJSON(t, http.MethodPost, url, StartRequest{Origin: "48.85,2.34", Destination: "48.865,2.36", LocationPermission: &denied}, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, url, StartRequest{Origin: "48.85,2.34"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	assert.Equal(t, 0, registry.Len(), "Failed starts are not registered")
}

func TestServer_InvalidPositions(t *testing.T) {
	srv, _ := newTestServer(t, &stubGateway{route: testRoute()}, nil)
	started := startSession(t, srv.URL, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/nav/v1/sessions/"+started.ID+"/positions",
		PositionsRequest{Samples: []geo.PositionSample{{Point: geo.Point{Latitude: 123, Longitude: 2}}}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/nav/v1/sessions/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Authentication(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	srv, _ := newTestServer(t, &stubGateway{route: testRoute()}, auth)

	resp := doJSON(t, http.MethodPost, srv.URL+"/nav/v1/sessions",
		StartRequest{Origin: "48.85,2.34", Destination: "48.865,2.36"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	driverToken, err := auth.Issue(Claims{DriverID: "driver-3", MissionID: "mission-7"}, time.Hour)
	require.NoError(t, err)
	started := startSession(t, srv.URL, driverToken)

	resp = doJSON(t, http.MethodGet, srv.URL+"/nav/v1/sessions/"+started.ID, nil, driverToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	otherToken, err := auth.Issue(Claims{DriverID: "driver-9"}, time.Hour)
	require.NoError(t, err)
	resp = doJSON(t, http.MethodGet, srv.URL+"/nav/v1/sessions/"+started.ID, nil, otherToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "Sessions are private to their driver")

	forged, err := NewAuthenticator("other-secret").Issue(Claims{DriverID: "driver-3"}, time.Hour)
	require.NoError(t, err)
	resp = doJSON(t, http.MethodGet, srv.URL+"/nav/v1/sessions/"+started.ID, nil, forged)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := auth.Issue(Claims{DriverID: "driver-3"}, -time.Minute)
	require.NoError(t, err)
	resp = doJSON(t, http.MethodGet, srv.URL+"/nav/v1/sessions/"+started.ID, nil, expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type streamFrame struct {
	Type  string `json:"type"`
	Event *struct {
		Kind        navigation.EventKind `json:"kind"`
		StepIndex   int                  `json:"step_index"`
		Instruction string               `json:"instruction"`
	} `json:"event"`
	Snapshot *services.Snapshot `json:"snapshot"`
	Error    string             `json:"error"`
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(streamFrame) bool) streamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame streamFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func TestServer_Stream(t *testing.T) {
	srv, _ := newTestServer(t, &stubGateway{route: testRoute()}, nil)
	started := startSession(t, srv.URL, "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/nav/v1/sessions/" + started.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUntil(t, conn, func(f streamFrame) bool { return true })
	require.Equal(t, "snapshot", first.Type)
	assert.Equal(t, navigation.StateGuiding, first.Snapshot.State)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "position", Sample: &geo.PositionSample{Point: firstAnchor, TimestampMs: 1_000}}))
	frame := readUntil(t, conn, func(f streamFrame) bool { return f.Type == "event" })
	assert.Equal(t, navigation.EventInstructionChanged, frame.Event.Kind)
	assert.Equal(t, 1, frame.Event.StepIndex)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "teleport"}))
	frame = readUntil(t, conn, func(f streamFrame) bool { return f.Type == "error" })
	assert.Contains(t, frame.Error, "teleport")

	resp := doJSON(t, http.MethodDelete, srv.URL+"/nav/v1/sessions/"+started.ID, nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f streamFrame
		if err := conn.ReadJSON(&f); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
	}
}

func TestServer_AllowedOrigins(t *testing.T) {
	registry := services.NewRegistry()
	factory := &services.Factory{Gateway: &stubGateway{route: testRoute()}, Options: services.DefaultOptions()}
	handler := NewServer(registry, factory, nil).WithAllowedOrigins([]string{"https://dispatch.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/nav/v1/sessions", nil)
	req.Header.Set("Origin", "https://dispatch.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dispatch.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/nav/v1/sessions/"+"00000000-0000-0000-0000-000000000000", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
