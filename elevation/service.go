package elevation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dave/hike/geo"
	"github.com/tkrajina/go-elevations/geoelevations"
)

const DefaultURL = "https://api.open-elevation.com"

// HTTPService talks to an open-elevation compatible lookup endpoint.
type HTTPService struct {
	URL    string
	Client *http.Client
}

func NewHTTPService(url string) *HTTPService {
	if url == "" {
		url = DefaultURL
	}
	return &HTTPService{
		URL:    strings.TrimSuffix(url, "/"),
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lookupRequest struct {
	Locations []location `json:"locations"`
}

type lookupResponse struct {
	Results []struct {
		Elevation float64 `json:"elevation"`
	} `json:"results"`
}

func (s *HTTPService) Lookup(ctx context.Context, line geo.Line) ([]float64, error) {
	req := lookupRequest{Locations: make([]location, len(line))}
	for i, pos := range line {
		req.Locations[i] = location{Latitude: pos.Lat, Longitude: pos.Lon}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL+"/api/v1/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("requesting elevations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	elevations := make([]float64, len(out.Results))
	for i, r := range out.Results {
		elevations[i] = r.Elevation
	}
	return elevations, nil
}

// SRTMService reads elevations from SRTM tiles, downloading them on demand. Results are cached
// per position for the life of the service.
type SRTMService struct {
	client *http.Client
	srtm   *geoelevations.Srtm

	mu    sync.Mutex
	cache map[geo.Pos]float64
}

func NewSRTMService(client *http.Client) (*SRTMService, error) {
	if client == nil {
		client = http.DefaultClient
	}
	srtm, err := geoelevations.NewSrtm(client)
	if err != nil {
		return nil, fmt.Errorf("creating srtm client: %w", err)
	}
	return &SRTMService{client: client, srtm: srtm, cache: map[geo.Pos]float64{}}, nil
}

func (s *SRTMService) Lookup(ctx context.Context, line geo.Line) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elevations := make([]float64, len(line))
	for i, pos := range line {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := geo.Pos{Lat: pos.Lat, Lon: pos.Lon}
		if ele, found := s.cache[key]; found {
			elevations[i] = ele
			continue
		}
		ele, err := s.srtm.GetElevation(s.client, pos.Lat, pos.Lon)
		if err != nil {
			return nil, fmt.Errorf("getting elevation for %v,%v: %w", pos.Lat, pos.Lon, err)
		}
		s.cache[key] = ele
		elevations[i] = ele
	}
	return elevations, nil
}
