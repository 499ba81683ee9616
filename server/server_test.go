package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/dave/hike/geo"
	"github.com/dave/hike/globals"
	"github.com/dave/hike/gpx"
	"github.com/dave/hike/plan"
	"github.com/dave/hike/poi"
	"github.com/dave/hike/routing"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer() *Server {
	finder := poi.NewFinderFunc(func(q string) (overpass.Result, error) {
		if strings.Contains(q, "natural\"=\"peak") {
			return overpass.Result{}, errors.New("too many requests")
		}
		n := &overpass.Node{Lat: 46.03, Lon: 7.02}
		n.ID = 42
		n.Tags = map[string]string{"amenity": "shelter", "natural": "spring"}
		return overpass.Result{Nodes: map[int64]*overpass.Node{42: n}}, nil
	})
	return New(&plan.Planner{Router: routing.Straight{}}, finder, 1)
}

var waypoints = []plan.Waypoint{
	{Lat: 46.00, Lng: 7.00, Name: "Arolla"},
	{Lat: 46.02, Lng: 7.01},
	{Lat: 46.05, Lng: 7.03},
	{Lat: 46.07, Lng: 7.06, Name: "Zinal"},
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r *bytes.Reader
	switch b := body.(type) {
	case nil:
		r = bytes.NewReader(nil)
	case []byte:
		r = bytes.NewReader(b)
	default:
		j, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(j)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func assemble(t *testing.T, h http.Handler, stages int) *plan.Route {
	t.Helper()
	w := do(t, h, "POST", "/api/routes", plan.Request{Name: "Tour", Waypoints: waypoints, StageCount: stages})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var route plan.Route
	if err := json.Unmarshal(w.Body.Bytes(), &route); err != nil {
		t.Fatalf("decoding route: %v", err)
	}
	return &route
}

func TestHealth(t *testing.T) {
	w := do(t, testServer().Router(), "GET", "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestAssembleAndDivide(t *testing.T) {
	h := testServer().Router()
	route := assemble(t, h, 2)
	if len(route.Stages) != 2 || route.Stages[0].Line() == nil {
		t.Fatalf("expected 2 stages with geometry, got %+v", route.Stages)
	}

	w := do(t, h, "POST", "/api/routes/divide", divideRequest{Route: route, StageCount: 4})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var divided plan.Route
	if err := json.Unmarshal(w.Body.Bytes(), &divided); err != nil {
		t.Fatal(err)
	}
	if len(divided.Stages) != 4 || divided.Stages[3].Name != "Stage 4" {
		t.Errorf("expected 4 stages, got %d", len(divided.Stages))
	}
}

func TestAssembleErrors(t *testing.T) {
	h := testServer().Router()
	w := do(t, h, "POST", "/api/routes", plan.Request{Waypoints: waypoints[:1]})
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "at least two waypoints") {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, "POST", "/api/routes", []byte("{"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", w.Code)
	}
	w = do(t, h, "POST", "/api/routes/divide", divideRequest{StageCount: 2})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a route, got %d", w.Code)
	}
}

func TestPOIsPartial(t *testing.T) {
	h := testServer().Router()
	route := assemble(t, h, 1)
	w := do(t, h, "POST", "/api/routes/pois", poiRequest{Route: route})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp poiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Warning != "some POIs could not be loaded" {
		t.Errorf("expected warning, got %q", resp.Warning)
	}
	if len(resp.POIs[poi.Refuge]) != 1 || resp.POIs[poi.Refuge][0].Category != poi.Bivouac {
		t.Errorf("unexpected refuges %+v", resp.POIs[poi.Refuge])
	}
	if len(resp.POIs[poi.Water]) != 1 || resp.POIs[poi.Water][0].Category != poi.Spring {
		t.Errorf("unexpected water %+v", resp.POIs[poi.Water])
	}
	if peaks, ok := resp.POIs[poi.Peak]; !ok || len(peaks) != 0 {
		t.Errorf("expected empty peaks, got %+v", peaks)
	}
}

func TestProfilePNG(t *testing.T) {
	h := testServer().Router()
	route := assemble(t, h, 2)
	w := do(t, h, "POST", "/api/routes/profile.png?width=400&height=150", route)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected response %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 150 {
		t.Errorf("unexpected size %v", img.Bounds())
	}
}

func TestGPXExportImport(t *testing.T) {
	h := testServer().Router()
	route := assemble(t, h, 2)

	w := do(t, h, "POST", "/api/gpx/export", exportRequest{Route: route, Options: &gpx.Options{SplitStages: true, Waypoints: true}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Tour.gpx") {
		t.Errorf("unexpected content disposition %q", cd)
	}
	doc := w.Body.Bytes()

	req := httptest.NewRequest("POST", "/api/gpx/import?cap=10", bytes.NewReader(doc))
	req.Header.Set("Content-Type", "application/gpx+xml")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp importResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Result.Tracks) != 2 || len(resp.Waypoints) > 10 {
		t.Errorf("expected 2 tracks and at most 10 waypoints, got %d and %d", len(resp.Result.Tracks), len(resp.Waypoints))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "route.gpx")
	fw.Write(doc)
	mw.Close()
	req = httptest.NewRequest("POST", "/api/gpx/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for multipart upload, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGPXImportRejectsKML(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/gpx/import", strings.NewReader(`<kml><Document/></kml>`))
	rec := httptest.NewRecorder()
	testServer().Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "not a GPX document") {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{plan.ErrInsufficientWaypoints, 400},
		{&routing.ServiceError{Kind: routing.NoRoute}, 422},
		{&routing.ServiceError{Kind: routing.InvalidKey}, 502},
		{&routing.ServiceError{Kind: routing.Unreachable}, 503},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSessionCache(t *testing.T) {
	var calls int
	s := testServer()
	s.Planner.Router = routerCounter{&calls}
	h := s.Router()
	for i := 0; i < 2; i++ {
		j, _ := json.Marshal(plan.Request{Waypoints: waypoints, StageCount: 2})
		req := httptest.NewRequest("POST", "/api/routes", bytes.NewReader(j))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SessionHeader, "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Errorf("expected the second request to use the session cache, got %d routing calls", calls)
	}
}

func postSession(t *testing.T, h http.Handler, id string) {
	t.Helper()
	j, _ := json.Marshal(plan.Request{Waypoints: waypoints[:2]})
	req := httptest.NewRequest("POST", "/api/routes", bytes.NewReader(j))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SessionHeader, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSessionEviction(t *testing.T) {
	s := testServer()
	s.MaxSessions = 3
	clock := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	h := s.Router()

	for i := 0; i < 50; i++ {
		clock = clock.Add(time.Second)
		postSession(t, h, fmt.Sprintf("client-%d", i))
	}
	if n := s.Sessions(); n != 3 {
		t.Fatalf("expected 3 sessions, got %d", n)
	}
	for _, id := range []string{"client-47", "client-48", "client-49"} {
		if _, ok := s.caches[id]; !ok {
			t.Errorf("expected %s to be kept", id)
		}
	}

	// client-47 is used again, so client-48 is now the oldest
	clock = clock.Add(time.Second)
	postSession(t, h, "client-47")
	clock = clock.Add(time.Second)
	postSession(t, h, "client-50")
	if _, ok := s.caches["client-48"]; ok {
		t.Errorf("expected least recently used session to be dropped")
	}
	if _, ok := s.caches["client-47"]; !ok {
		t.Errorf("expected recently used session to be kept")
	}

	clock = clock.Add(s.SessionTTL + time.Minute)
	postSession(t, h, "late")
	if n := s.Sessions(); n != 1 {
		t.Errorf("expected expired sessions to be dropped, got %d", n)
	}
}

func TestProfileSizeLimit(t *testing.T) {
	h := testServer().Router()
	route := assemble(t, h, 1)
	for _, q := range []string{"width=100000&height=100000", "width=-1", "height=5000"} {
		w := do(t, h, "POST", "/api/routes/profile.png?"+q, route)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestGPXImportTooLarge(t *testing.T) {
	body := bytes.Repeat([]byte(" "), MaxUpload+1)
	req := httptest.NewRequest("POST", "/api/gpx/import", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	testServer().Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

type routerCounter struct {
	calls *int
}

func (r routerCounter) Directions(ctx context.Context, profile globals.Profile, points []geo.Pos) (*routing.Directions, error) {
	*r.calls++
	return routing.Straight{}.Directions(ctx, profile, points)
}
