package google

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

// MockHTTPDoer is a mock implementation of HTTPDoer
type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

// Helper function to load test fixture data
func loadTestFixture(t *testing.T, filename string) string {
	data, err := os.ReadFile("testdata/" + filename)
	require.NoError(t, err, "Failed to load test fixture %s", filename)
	return string(data)
}

// Helper function to create mock HTTP response
func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func testRequest() directions.Request {
	return directions.Request{
		Origin:      directions.PointPlace(geo.Point{Latitude: 48.85, Longitude: 2.34}),
		Destination: directions.ParsePlace("Boulevard de Sébastopol, Paris"),
		Mode:        directions.ModeDriving,
		Language:    "fr",
	}
}

func TestFetchRoute_Success(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		q := req.URL.Query()
		return req.URL.Path == "/maps/api/directions/json" &&
			q.Get("origin") == "48.850000,2.340000" &&
			q.Get("destination") == "Boulevard de Sébastopol, Paris" &&
			q.Get("mode") == "driving" &&
			q.Get("language") == "fr" &&
			q.Get("key") == "test-api-key"
	})).Return(createMockResponse(200, loadTestFixture(t, "paris_route.json")), nil)

	client := NewClientWithHTTPDoer("test-api-key", DefaultBaseURL, mockHTTP)
	resp, err := client.FetchRoute(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, 2113.0, resp.DistanceMeters)
	assert.Equal(t, 421.0, resp.DurationSeconds)
	assert.NotEmpty(t, resp.OverviewPolyline)
	require.Len(t, resp.Steps, 2)

	first := resp.Steps[0]
	assert.Equal(t, "Head northeast on Rue de Rivoli", first.Instruction)
	assert.Equal(t, "depart", first.ManeuverKind)
	assert.Equal(t, "1.3 km", first.DistanceText)
	assert.Equal(t, "4 mins", first.DurationText)

	second := resp.Steps[1]
	assert.Equal(t, "Turn right onto Boulevard de Sébastopol Destination will be on the left", second.Instruction)
	assert.Equal(t, "turn", second.ManeuverKind)
	assert.Equal(t, "right", second.ManeuverModifier)
	require.NotNil(t, second.EndLocation)
	assert.Equal(t, 48.865, second.EndLocation.Latitude)

	// The response decodes into a usable route
	route, err := directions.BuildRoute(resp, client.Name())
	require.NoError(t, err)
	assert.InDelta(t, 48.865, route.Destination().Latitude, 1e-5)
	assert.Len(t, route.Overview, 3)

	mockHTTP.AssertExpectations(t)
}

func TestFetchRoute_NoRoutes(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, `{"status": "ZERO_RESULTS", "routes": []}`), nil)

	client := NewClientWithHTTPDoer("test-api-key", DefaultBaseURL, mockHTTP)
	resp, err := client.FetchRoute(context.Background(), testRequest())

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "ZERO_RESULTS")
}

func TestFetchRoute_RequestDenied(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, `{"status": "REQUEST_DENIED", "error_message": "The provided API key is invalid.", "routes": []}`), nil)

	client := NewClientWithHTTPDoer("bad-key", DefaultBaseURL, mockHTTP)
	_, err := client.FetchRoute(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "The provided API key is invalid.")
}

func TestFetchRoute_RateLimitError(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(429, `{"error": {"message": "Quota exceeded"}}`), nil)

	client := NewClientWithHTTPDoer("test-api-key", DefaultBaseURL, mockHTTP)
	_, err := client.FetchRoute(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestFetchRoute_APIError(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(500, `backend unavailable`), nil)

	client := NewClientWithHTTPDoer("test-api-key", DefaultBaseURL, mockHTTP)
	_, err := client.FetchRoute(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error 500")
}

func TestFetchRoute_TransportError(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(nil, errors.New("connection refused"))

	client := NewClientWithHTTPDoer("test-api-key", DefaultBaseURL, mockHTTP)
	_, err := client.FetchRoute(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFetchRoute_MalformedJSON(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, `{"status": "OK", "routes": [`), nil)

	client := NewClientWithHTTPDoer("test-api-key", DefaultBaseURL, mockHTTP)
	_, err := client.FetchRoute(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestParseManeuver(t *testing.T) {
	tests := []struct {
		input    string
		kind     string
		modifier string
	}{
		{"turn-right", "turn", "right"},
		{"turn-slight-left", "turn", "slight left"},
		{"roundabout-left", "roundabout", "left"},
		{"merge", "merge", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			kind, modifier := parseManeuver(tt.input)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.modifier, modifier)
		})
	}
}
