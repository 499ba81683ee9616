package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/dave/hike/geo"
	"github.com/dave/hike/globals"
	"github.com/paulmach/orb/geojson"
)

// Router finds a path through all points in order.
type Router interface {
	Directions(ctx context.Context, profile globals.Profile, points []geo.Pos) (*Directions, error)
}

// Directions is a routed path. Distance is in metres and Duration in seconds. Ascent and Descent
// are only set when the service reported them.
type Directions struct {
	Line     geo.Line
	Distance float64
	Duration float64
	Ascent   *float64
	Descent  *float64
}

// Feature is the path as a GeoJSON LineString with the summary in its properties.
func (d *Directions) Feature() *geojson.Feature {
	f := geojson.NewFeature(d.Line.Orb())
	f.Properties["summary"] = map[string]float64{
		"distance": d.Distance,
		"duration": d.Duration,
	}
	if d.Ascent != nil {
		f.Properties["ascent"] = *d.Ascent
	}
	if d.Descent != nil {
		f.Properties["descent"] = *d.Descent
	}
	return f
}

const DefaultURL = "https://api.openrouteservice.org"

// Client uses the openrouteservice directions API.
type Client struct {
	URL  string
	Key  string
	HTTP *http.Client
}

func NewClient(url, key string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		URL:  strings.TrimSuffix(url, "/"),
		Key:  key,
		HTTP: &http.Client{Timeout: 30 * time.Second},
	}
}

type directionsRequest struct {
	Coordinates  [][2]float64 `json:"coordinates"`
	Elevation    bool         `json:"elevation"`
	Instructions bool         `json:"instructions"`
}

type directionsResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Ascent  *float64 `json:"ascent"`
			Descent *float64 `json:"descent"`
			Summary struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
		} `json:"properties"`
	} `json:"features"`
}

type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

func (c *Client) Directions(ctx context.Context, profile globals.Profile, points []geo.Pos) (*Directions, error) {
	req := directionsRequest{Elevation: true}
	for _, p := range points {
		req.Coordinates = append(req.Coordinates, [2]float64{p.Lon, p.Lat})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding directions request: %w", err)
	}
	url := fmt.Sprintf("%s/v2/directions/%s/geojson", c.URL, profile)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating directions request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/geo+json, application/json")
	if c.Key != "" {
		httpReq.Header.Set("Authorization", c.Key)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ServiceError{Kind: Unreachable, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Kind: Unreachable, Status: resp.StatusCode, Message: "reading response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		code, msg := parseError(b)
		if msg == "" {
			msg = resp.Status
		}
		return nil, &ServiceError{Kind: classify(resp.StatusCode, code), Status: resp.StatusCode, Message: msg}
	}

	var out directionsResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, &ServiceError{Kind: Unknown, Status: resp.StatusCode, Message: "invalid response", Err: err}
	}
	if len(out.Features) == 0 || len(out.Features[0].Geometry.Coordinates) == 0 {
		return nil, &ServiceError{Kind: NoRoute, Status: resp.StatusCode, Message: "response contained no route"}
	}
	f := out.Features[0]
	d := &Directions{
		Distance: f.Properties.Summary.Distance,
		Duration: f.Properties.Summary.Duration,
		Ascent:   f.Properties.Ascent,
		Descent:  f.Properties.Descent,
	}
	for _, c := range f.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		pos := geo.Pos{Lon: c[0], Lat: c[1]}
		if len(c) > 2 {
			pos.Ele = c[2]
		}
		d.Line = append(d.Line, pos)
	}
	return d, nil
}

// parseError reads both {"error":"text"} and {"error":{"code":2010,"message":"text"}} bodies.
func parseError(b []byte) (code int, message string) {
	var e errorResponse
	if err := json.Unmarshal(b, &e); err != nil || len(e.Error) == 0 {
		return 0, strings.TrimSpace(string(b))
	}
	var s string
	if err := json.Unmarshal(e.Error, &s); err == nil {
		return 0, s
	}
	var detail struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Error, &detail); err == nil {
		return detail.Code, detail.Message
	}
	return 0, string(e.Error)
}

// Straight joins the points with straight lines, split every Step km, and times the walk with
// the profile's pace. It needs no network.
type Straight struct {
	Step float64
}

var errTooFewPoints = errors.New("at least two points are needed")

func (s Straight) Directions(ctx context.Context, profile globals.Profile, points []geo.Pos) (*Directions, error) {
	if len(points) < 2 {
		return nil, &ServiceError{Kind: BadRequest, Message: errTooFewPoints.Error(), Err: errTooFewPoints}
	}
	step := s.Step
	if step <= 0 {
		step = 0.1
	}
	line := geo.Line{points[0]}
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		n := int(math.Ceil(a.Distance(b) / step))
		for j := 1; j < n; j++ {
			f := float64(j) / float64(n)
			line = append(line, geo.Pos{
				Lat: a.Lat + f*(b.Lat-a.Lat),
				Lon: a.Lon + f*(b.Lon-a.Lon),
				Ele: a.Ele + f*(b.Ele-a.Ele),
			})
		}
		if !b.Same(line.End()) {
			line = append(line, b)
		}
	}
	km := line.Length()
	return &Directions{
		Line:     line,
		Distance: km * 1000,
		Duration: km / profile.Speed() * 3600,
	}, nil
}
