package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/convoy-nav/server/internal/lib/directions"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
)

// DefaultBaseURL is the public OSRM demo server
const DefaultBaseURL = "https://router.project-osrm.org"

// ErrCoordinatesRequired is returned for address endpoints; OSRM does not geocode
var ErrCoordinatesRequired = errors.New("osrm requires coordinate endpoints")

// Client fetches routes from an OSRM server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an OSRM client for baseURL
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements directions.Provider
func (c *Client) Name() string {
	return "osrm"
}

// FetchRoute implements directions.Provider
func (c *Client) FetchRoute(ctx context.Context, req directions.Request) (*directions.Response, error) {
	if req.Origin.Point == nil || req.Destination.Point == nil {
		return nil, ErrCoordinatesRequired
	}
	src, dst := req.Origin.Point, req.Destination.Point

	profile := string(req.Mode)
	if profile == "" {
		profile = string(directions.ModeDriving)
	}

	requestURL := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=polyline&steps=true",
		c.baseURL, profile, src.Longitude, src.Latitude, dst.Longitude, dst.Latitude)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed routeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("OSRM returned %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("JSON decode failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Code != "Ok" {
		return nil, fmt.Errorf("OSRM returned %d: %s %s", resp.StatusCode, parsed.Code, parsed.Message)
	}
	if len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("no routes found in response")
	}

	return processRoute(parsed.Routes[0]), nil
}

func processRoute(route osrmRoute) *directions.Response {
	out := &directions.Response{
		OverviewPolyline: route.Geometry,
		DistanceMeters:   route.Distance,
		DurationSeconds:  route.Duration,
	}

	for _, leg := range route.Legs {
		for i, step := range leg.Steps {
			// A step ends where the next maneuver happens; the arrive step ends on itself
			end := step.Maneuver.point()
			if i+1 < len(leg.Steps) {
				end = leg.Steps[i+1].Maneuver.point()
			}
			out.Steps = append(out.Steps, directions.StepResponse{
				Instruction:      instructionText(step),
				ManeuverKind:     step.Maneuver.Type,
				ManeuverModifier: step.Maneuver.Modifier,
				DistanceMeters:   step.Distance,
				DurationSeconds:  step.Duration,
				DistanceText:     formatDistance(step.Distance),
				DurationText:     formatDuration(step.Duration),
				Polyline:         step.Geometry,
				EndLocation:      end,
			})
		}
	}

	return out
}

// instructionText builds a readable instruction since OSRM only returns maneuver codes
func instructionText(step osrmStep) string {
	m := step.Maneuver
	onto := ""
	if step.Name != "" {
		onto = " onto " + step.Name
	}

	switch m.Type {
	case "depart":
		if step.Name != "" {
			return "Head out on " + step.Name
		}
		return "Head out"
	case "arrive":
		return "You have arrived at your destination"
	case "roundabout", "rotary":
		if m.Exit > 0 {
			return fmt.Sprintf("At the roundabout, take exit %d%s", m.Exit, onto)
		}
		return "Enter the roundabout" + onto
	case "merge":
		return "Merge" + onto
	case "fork":
		return "Keep " + m.Modifier + " at the fork" + onto
	case "continue", "new name":
		return "Continue" + onto
	}

	if m.Type == "" {
		return "Continue" + onto
	}
	if m.Modifier == "" {
		return strings.ToUpper(m.Type[:1]) + m.Type[1:] + onto
	}
	if m.Modifier == "uturn" {
		return "Make a U-turn" + onto
	}
	return "Turn " + m.Modifier + onto
}

func formatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}

func formatDuration(seconds float64) string {
	minutes := int(seconds/60 + 0.5)
	if minutes <= 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d mins", minutes)
}

// OSRM response format
type routeResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Geometry string    `json:"geometry"`
	Legs     []osrmLeg `json:"legs"`
}

type osrmLeg struct {
	Steps []osrmStep `json:"steps"`
}

type osrmStep struct {
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Geometry string       `json:"geometry"`
	Name     string       `json:"name"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmManeuver struct {
	Type     string    `json:"type"`
	Modifier string    `json:"modifier,omitempty"`
	Exit     int       `json:"exit,omitempty"`
	Location []float64 `json:"location"`
}

func (m osrmManeuver) point() *geo.Point {
	if len(m.Location) != 2 {
		return nil
	}
	return &geo.Point{Latitude: m.Location[1], Longitude: m.Location[0]}
}
