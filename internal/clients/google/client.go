package google

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

// DefaultBaseURL is the Google Maps Platform endpoint
const DefaultBaseURL = "https://maps.googleapis.com"

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to the Google Directions API
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// NewClient creates a new Google Directions API client
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, DefaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom base URL and transport
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
	}
}

// Name implements directions.Provider
func (c *Client) Name() string {
	return "google"
}

// FetchRoute implements directions.Provider. Origins and destinations may be
// coordinates or addresses.
func (c *Client) FetchRoute(ctx context.Context, req directions.Request) (*directions.Response, error) {
	params := url.Values{}
	params.Set("origin", req.Origin.String())
	params.Set("destination", req.Destination.String())
	params.Set("mode", string(req.Mode))
	params.Set("language", req.Language)
	params.Set("key", c.apiKey)

	requestURL := fmt.Sprintf("%s/maps/api/directions/json?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response DirectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Status != "OK" {
		if response.ErrorMessage != "" {
			return nil, fmt.Errorf("directions status %s: %s", response.Status, response.ErrorMessage)
		}
		return nil, fmt.Errorf("directions status %s", response.Status)
	}
	if len(response.Routes) == 0 || len(response.Routes[0].Legs) == 0 {
		return nil, fmt.Errorf("no routes found in response")
	}

	return processRoute(response.Routes[0]), nil
}

// processRoute flattens the legs of a Google route into a single step list
func processRoute(route DirectionsRoute) *directions.Response {
	out := &directions.Response{
		OverviewPolyline: route.OverviewPolyline.Points,
	}

	for _, leg := range route.Legs {
		out.DistanceMeters += leg.Distance.Value
		out.DurationSeconds += leg.Duration.Value

		for _, step := range leg.Steps {
			kind, modifier := parseManeuver(step.Maneuver)
			if kind == "" {
				kind = "continue"
				if len(out.Steps) == 0 {
					kind = "depart"
				}
			}

			end := geo.Point{Latitude: step.EndLocation.Lat, Longitude: step.EndLocation.Lng}
			out.Steps = append(out.Steps, directions.StepResponse{
				Instruction:      extractTextFromHTML(step.HTMLInstructions),
				ManeuverKind:     kind,
				ManeuverModifier: modifier,
				DistanceText:     step.Distance.Text,
				DurationText:     step.Duration.Text,
				DistanceMeters:   step.Distance.Value,
				DurationSeconds:  step.Duration.Value,
				Polyline:         step.Polyline.Points,
				EndLocation:      &end,
			})
		}
	}

	return out
}

// parseManeuver splits Google maneuvers like "turn-slight-left" into kind "turn" and modifier "slight left"
func parseManeuver(maneuver string) (kind, modifier string) {
	if maneuver == "" {
		return "", ""
	}
	parts := strings.SplitN(maneuver, "-", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.ReplaceAll(parts[1], "-", " ")
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// extractTextFromHTML strips markup from Google's html_instructions
func extractTextFromHTML(htmlContent string) string {
	text := htmlTagPattern.ReplaceAllString(htmlContent, " ")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// DirectionsResponse represents the API response structure
type DirectionsResponse struct {
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Routes       []DirectionsRoute `json:"routes"`
}

// DirectionsRoute represents a single route in the response
type DirectionsRoute struct {
	Summary          string          `json:"summary"`
	OverviewPolyline EncodedPolyline `json:"overview_polyline"`
	Legs             []DirectionsLeg `json:"legs"`
}

// DirectionsLeg represents the part of a route between two waypoints
type DirectionsLeg struct {
	Distance TextValue        `json:"distance"`
	Duration TextValue        `json:"duration"`
	Steps    []DirectionsStep `json:"steps"`
}

// DirectionsStep represents a single maneuver
type DirectionsStep struct {
	HTMLInstructions string          `json:"html_instructions"`
	Distance         TextValue       `json:"distance"`
	Duration         TextValue       `json:"duration"`
	Polyline         EncodedPolyline `json:"polyline"`
	StartLocation    LatLng          `json:"start_location"`
	EndLocation      LatLng          `json:"end_location"`
	Maneuver         string          `json:"maneuver,omitempty"`
}

// TextValue pairs a display string with its numeric value
type TextValue struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"`
}

// EncodedPolyline wraps an encoded polyline string
type EncodedPolyline struct {
	Points string `json:"points"`
}

// LatLng is a coordinate as returned by the API
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
