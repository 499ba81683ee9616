package plan

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/geo"
	"github.com/dave/hike/globals"
	"github.com/dave/hike/routing"
)

type routerFunc func(ctx context.Context, profile globals.Profile, points []geo.Pos) (*routing.Directions, error)

func (f routerFunc) Directions(ctx context.Context, profile globals.Profile, points []geo.Pos) (*routing.Directions, error) {
	return f(ctx, profile, points)
}

// countingRouter wraps the straight router and counts requests.
func countingRouter(calls *int) routing.Router {
	return routerFunc(func(ctx context.Context, profile globals.Profile, points []geo.Pos) (*routing.Directions, error) {
		*calls++
		return routing.Straight{}.Directions(ctx, profile, points)
	})
}

// hills returns an elevation that rises and falls with latitude.
var hills = elevation.ServiceFunc(func(ctx context.Context, line geo.Line) ([]float64, error) {
	out := make([]float64, len(line))
	for i, pos := range line {
		out[i] = 1500 + 400*math.Sin(pos.Lat*300)
	}
	return out, nil
})

var alps = []Waypoint{
	{Lat: 46.00, Lng: 7.00, Name: "A"},
	{Lat: 46.02, Lng: 7.01, Name: "B"},
	{Lat: 46.05, Lng: 7.03, Name: "C"},
	{Lat: 46.07, Lng: 7.06, Name: "D"},
}

func TestBuildStageUsesRoutedDistance(t *testing.T) {
	router := routerFunc(func(ctx context.Context, profile globals.Profile, points []geo.Pos) (*routing.Directions, error) {
		if profile != globals.FootHiking {
			t.Errorf("unexpected profile %q", profile)
		}
		return &routing.Directions{
			Line:     geo.Line{points[0], points[len(points)-1]},
			Distance: 12345.678,
			Duration: 9000,
		}, nil
	})
	p := &Planner{Router: router, Elevation: hills}
	s, err := p.BuildStage(context.Background(), "Stage 1", alps[:2])
	if err != nil {
		t.Fatalf("BuildStage failed: %v", err)
	}
	if s.Distance != 12.35 {
		t.Errorf("expected 12.35 km, got %v", s.Distance)
	}
	if s.EstimatedTime != 150 {
		t.Errorf("expected 150 minutes, got %v", s.EstimatedTime)
	}
	if s.ElevationProfile[0].Distance != 0 {
		t.Errorf("profile should start at 0")
	}
	if s.StartPoint != alps[0] || s.EndPoint != alps[1] {
		t.Errorf("unexpected end points %v %v", s.StartPoint, s.EndPoint)
	}
}

func TestBuildStageInsufficientWaypoints(t *testing.T) {
	var calls int
	p := &Planner{Router: countingRouter(&calls)}
	if _, err := p.BuildStage(context.Background(), "x", alps[:1]); !errors.Is(err, ErrInsufficientWaypoints) {
		t.Errorf("expected ErrInsufficientWaypoints, got %v", err)
	}
	if calls != 0 {
		t.Errorf("router should not be called")
	}
}

func TestBuildStageSkipsElevationWhenRouterHasGains(t *testing.T) {
	ascent, descent := 321.4, 123.6
	router := routerFunc(func(ctx context.Context, profile globals.Profile, points []geo.Pos) (*routing.Directions, error) {
		return &routing.Directions{
			Line:     geo.Line{{Lat: 46, Lon: 7, Ele: 1000}, {Lat: 46.01, Lon: 7, Ele: 1100}},
			Distance: 1100,
			Duration: 600,
			Ascent:   &ascent,
			Descent:  &descent,
		}, nil
	})
	var lookups int
	svc := elevation.ServiceFunc(func(ctx context.Context, line geo.Line) ([]float64, error) {
		lookups++
		return make([]float64, len(line)), nil
	})
	p := &Planner{Router: router, Elevation: svc}
	s, err := p.BuildStage(context.Background(), "Stage 1", alps[:2])
	if err != nil {
		t.Fatalf("BuildStage failed: %v", err)
	}
	if lookups != 0 {
		t.Errorf("expected no elevation lookups, got %d", lookups)
	}
	if s.Ascent != 321 || s.Descent != 124 {
		t.Errorf("expected 321/124, got %d/%d", s.Ascent, s.Descent)
	}
	if s.ElevationProfile[1].Elevation != 1100 {
		t.Errorf("expected profile from routed geometry, got %v", s.ElevationProfile)
	}
}

func TestBuildStageElevationFailure(t *testing.T) {
	svc := elevation.ServiceFunc(func(ctx context.Context, line geo.Line) ([]float64, error) {
		return nil, errors.New("timeout")
	})
	p := &Planner{Router: routing.Straight{}, Elevation: svc}
	_, err := p.BuildStage(context.Background(), "Stage 3", alps[:2])
	if !errors.Is(err, elevation.ErrLookup) {
		t.Errorf("expected lookup error, got %v", err)
	}
	if UserMessage(err) != "Elevation data could not be loaded. Try again later." {
		t.Errorf("unexpected message %q", UserMessage(err))
	}
}

func TestWindows(t *testing.T) {
	tests := []struct {
		total, stages int
		want          []Span
	}{
		{2, 1, []Span{{0, 1}}},
		{4, 2, []Span{{0, 2}, {2, 3}}},
		{5, 2, []Span{{0, 3}, {3, 4}}},
		{6, 3, []Span{{0, 2}, {2, 4}, {4, 5}}},
		{5, 4, []Span{{0, 2}, {2, 4}}},
		{3, 2, []Span{{0, 2}}},
		{4, 0, []Span{{0, 3}}},
	}
	for _, tt := range tests {
		got := Windows(tt.total, tt.stages)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Windows(%d, %d) = %v, want %v", tt.total, tt.stages, got, tt.want)
		}
	}
}

func TestAssembleTwoStages(t *testing.T) {
	var calls int
	p := &Planner{Router: countingRouter(&calls), Elevation: hills}
	route, err := p.Assemble(context.Background(), Request{Name: "Haute Route", Waypoints: alps, StageCount: 2}, nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(route.Stages) != 2 || calls != 2 {
		t.Fatalf("expected 2 stages from 2 requests, got %d from %d", len(route.Stages), calls)
	}
	if route.Stages[0].EndPoint != route.Stages[1].StartPoint || route.Stages[1].StartPoint != alps[2] {
		t.Errorf("stages should share waypoint C")
	}
	sum := route.Stages[0].Distance + route.Stages[1].Distance
	if math.Abs(route.TotalDistance-sum) > 1e-9 {
		t.Errorf("expected total %v, got %v", sum, route.TotalDistance)
	}
	if route.TotalAscent != route.Stages[0].Ascent+route.Stages[1].Ascent {
		t.Errorf("total ascent is not the sum of the stages")
	}
	if route.Type != PointToPoint || route.Name != "Haute Route" {
		t.Errorf("unexpected route %q %q", route.Type, route.Name)
	}
	if len(route.Geometry.Features) != 2 {
		t.Errorf("expected 2 features, got %d", len(route.Geometry.Features))
	}
	min, max, _ := elevation.Range(route.Stages[0].ElevationProfile, route.Stages[1].ElevationProfile)
	if route.MinElevation != min || route.MaxElevation != max || min >= max {
		t.Errorf("unexpected elevation range %v..%v", route.MinElevation, route.MaxElevation)
	}
}

func TestAssembleLoopAndPlaceholders(t *testing.T) {
	p := &Planner{Router: routing.Straight{}}
	waypoints := []Waypoint{alps[0], {Name: "unplaced"}, alps[1], alps[2]}
	route, err := p.Assemble(context.Background(), Request{Waypoints: waypoints, Loop: true, StageCount: 1}, nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if route.Type != Loop {
		t.Errorf("expected loop, got %q", route.Type)
	}
	if route.End() != alps[0] {
		t.Errorf("loop should close on the first waypoint, got %v", route.End())
	}
	if waypoints[1].Name != "unplaced" || len(waypoints) != 4 {
		t.Errorf("input waypoints were modified")
	}

	_, err = p.Assemble(context.Background(), Request{Waypoints: []Waypoint{alps[0], {}}, StageCount: 1}, nil)
	if !errors.Is(err, ErrInsufficientWaypoints) {
		t.Errorf("expected ErrInsufficientWaypoints, got %v", err)
	}
}

func TestAssembleAbortsOnStageFailure(t *testing.T) {
	var calls int
	router := routerFunc(func(ctx context.Context, profile globals.Profile, points []geo.Pos) (*routing.Directions, error) {
		calls++
		if calls == 2 {
			return nil, &routing.ServiceError{Kind: routing.NoRoute, Status: 404, Message: "Could not find routable point"}
		}
		return routing.Straight{}.Directions(ctx, profile, points)
	})
	p := &Planner{Router: router}
	route, err := p.Assemble(context.Background(), Request{Waypoints: alps, StageCount: 3}, nil)
	if route != nil {
		t.Errorf("expected no route")
	}
	if !errors.Is(err, routing.ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected assembly to stop after the failed stage, got %d calls", calls)
	}
	if msg := UserMessage(err); msg == "" || msg[:8] == "Remote e" {
		t.Errorf("expected a no-route message, got %q", msg)
	}
}

func TestAssembleCache(t *testing.T) {
	var calls int
	p := &Planner{Router: countingRouter(&calls)}
	cache := NewCache()
	req := Request{Waypoints: alps, StageCount: 2}

	first, err := p.Assemble(context.Background(), req, cache)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	second, err := p.Assemble(context.Background(), req, cache)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected cached stages on second run, got %d calls", calls)
	}
	if first.ID != second.ID || first.Stages[1].ID != second.Stages[1].ID {
		t.Errorf("identical input should give identical IDs")
	}
	second.Stages[0].ElevationProfile[0].Elevation = 9999
	third, _ := p.Assemble(context.Background(), req, cache)
	if third.Stages[0].ElevationProfile[0].Elevation == 9999 {
		t.Errorf("cached stages must not alias returned routes")
	}

	moved := append([]Waypoint(nil), alps...)
	moved[3].Lat += 0.01
	if _, err := p.Assemble(context.Background(), Request{Waypoints: moved, StageCount: 2}, cache); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected cache to be dropped after waypoints changed, got %d calls", calls)
	}
	if cache.Len() != 2 {
		t.Errorf("expected 2 cached stages, got %d", cache.Len())
	}
}

func straightLine(n int) geo.Line {
	line := make(geo.Line, n)
	for i := range line {
		line[i] = geo.Pos{Lat: 45 + float64(i)*0.001, Lon: 6}
	}
	return line
}

func TestSplitThousandPoints(t *testing.T) {
	dist := straightLine(1000).Cumulative()
	spans := Split(dist, 5)
	if len(spans) != 5 {
		t.Fatalf("expected 5 spans, got %d", len(spans))
	}
	if spans[0].Start != 0 || spans[4].End != 999 {
		t.Errorf("spans do not cover the line: %v", spans)
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Start != spans[i-1].End {
			t.Errorf("span %d does not start where %d ended", i, i-1)
		}
	}
}

func TestSplitTieGoesEarlier(t *testing.T) {
	// target 1.5 sits between 1 and 2
	spans := Split([]float64{0, 1, 2, 3}, 2)
	if !reflect.DeepEqual(spans, []Span{{0, 1}, {1, 3}}) {
		t.Errorf("unexpected spans %v", spans)
	}
	// one long last segment leaves nothing for the third part
	spans = Split([]float64{0, 0.01, 0.02, 10}, 3)
	if !reflect.DeepEqual(spans, []Span{{0, 2}, {2, 3}}) {
		t.Errorf("unexpected spans %v", spans)
	}
}

func buildRoute(t *testing.T, p *Planner, stages int) *Route {
	t.Helper()
	route, err := p.Assemble(context.Background(), Request{Name: "Test", Waypoints: alps, StageCount: stages}, nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return route
}

func TestDivideCoverage(t *testing.T) {
	route := buildRoute(t, &Planner{Router: routing.Straight{}, Elevation: hills}, 1)
	line, _ := route.Line()
	for _, n := range []int{2, 3, 5, 8} {
		divided := Divide(route, n)
		if len(divided.Stages) != n {
			t.Fatalf("n=%d: expected %d stages, got %d", n, n, len(divided.Stages))
		}
		var sum float64
		var ascent int
		var covered geo.Line
		for _, s := range divided.Stages {
			sum += s.Distance
			ascent += s.Ascent
			covered = geo.MergeLines([]geo.Line{covered, s.Line()})
			if s.ElevationProfile[0].Distance != 0 {
				t.Errorf("n=%d: %s profile does not start at 0", n, s.Name)
			}
			if math.Abs(s.ElevationProfile[len(s.ElevationProfile)-1].Distance-s.Distance) > 0.01 {
				t.Errorf("n=%d: %s profile does not end at its distance", n, s.Name)
			}
		}
		if math.Abs(sum-line.Length()) > 0.01*float64(n) {
			t.Errorf("n=%d: stage distances sum to %v, line is %v", n, sum, line.Length())
		}
		if ascent != divided.TotalAscent {
			t.Errorf("n=%d: total ascent %d is not the sum %d", n, divided.TotalAscent, ascent)
		}
		if math.Abs(float64(divided.TotalAscent-route.TotalAscent)) > float64(n) {
			t.Errorf("n=%d: ascent changed from %d to %d", n, route.TotalAscent, divided.TotalAscent)
		}
		if len(covered) != len(line) || !covered.Start().Same(line.Start()) || !covered.End().Same(line.End()) {
			t.Errorf("n=%d: stages cover %d of %d points", n, len(covered), len(line))
		}
		if divided.Start() != route.Start() || divided.End() != route.End() {
			t.Errorf("n=%d: route end points changed", n)
		}
	}
	if len(route.Stages) != 1 {
		t.Errorf("input route was modified")
	}
}

func TestDivideNoop(t *testing.T) {
	route := buildRoute(t, &Planner{Router: routing.Straight{}}, 2)
	if Divide(route, 1) != route || Divide(route, 0) != route {
		t.Errorf("expected the same route for n <= 1")
	}
	empty := &Route{Stages: []Stage{{Name: "empty"}}}
	if Divide(empty, 3) != empty {
		t.Errorf("expected the same route for a route without geometry")
	}
}

func TestDivideProxyGains(t *testing.T) {
	route := buildRoute(t, &Planner{Router: routing.Straight{}}, 2)
	route.Stages[0].Ascent, route.Stages[0].Descent = 457, 120
	route.Stages[1].Ascent, route.Stages[1].Descent = 300, 611
	route.update()

	divided := Divide(route, 3)
	var ascent, descent, minutes int
	for _, s := range divided.Stages {
		ascent += s.Ascent
		descent += s.Descent
		minutes += s.EstimatedTime
	}
	if ascent != 757 || descent != 731 {
		t.Errorf("expected 757/731, got %d/%d", ascent, descent)
	}
	if minutes != route.Stages[0].EstimatedTime+route.Stages[1].EstimatedTime {
		t.Errorf("estimated time not preserved")
	}
}

func TestRestageMeasuresFlatRoute(t *testing.T) {
	route := buildRoute(t, &Planner{Router: routing.Straight{}}, 1)
	var lookups int
	svc := elevation.ServiceFunc(func(ctx context.Context, line geo.Line) ([]float64, error) {
		lookups++
		if len(line) > elevation.SummaryCap+1 {
			t.Errorf("too many points %d", len(line))
		}
		return hills(ctx, line)
	})
	p := &Planner{Router: routing.Straight{}, Elevation: svc}
	out, err := p.Restage(context.Background(), route, 3)
	if err != nil {
		t.Fatalf("Restage failed: %v", err)
	}
	if lookups != 3 {
		t.Errorf("expected one lookup per stage, got %d", lookups)
	}
	if out.TotalAscent == 0 {
		t.Errorf("expected measured ascent")
	}
	if out.MaxElevation <= out.MinElevation || out.MaxElevation < 1100 {
		t.Errorf("expected the measured profile in the route range, got %v..%v", out.MinElevation, out.MaxElevation)
	}
	for _, s := range out.Stages {
		ascent, descent := elevation.ProfileGains(s.ElevationProfile)
		if s.Ascent != int(math.Round(ascent)) || s.Descent != int(math.Round(descent)) {
			t.Errorf("%s: gains %d/%d disagree with profile %.0f/%.0f", s.Name, s.Ascent, s.Descent, ascent, descent)
		}
		lo, hi, _ := elevation.Range(s.ElevationProfile)
		if hi-lo < 1 {
			t.Errorf("%s: profile is flat", s.Name)
		}
		if s.ElevationProfile[0].Distance != 0 || math.Abs(s.ElevationProfile[len(s.ElevationProfile)-1].Distance-s.Distance) > 0.01 {
			t.Errorf("%s: profile should span 0..%v", s.Name, s.Distance)
		}
	}
}
