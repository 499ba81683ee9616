package plan

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/geo"
	"github.com/paulmach/orb/geojson"
)

// Split cuts a path with cumulative distances dist into n parts of equal length. Each boundary is
// the index whose distance is nearest the target (the earlier index on a tie) and the last part
// always ends on the last index. Parts with fewer than two points are left out.
func Split(dist []float64, n int) []Span {
	if len(dist) < 2 || n < 1 {
		return nil
	}
	last := len(dist) - 1
	stageLength := dist[last] / float64(n)
	var spans []Span
	start := 0
	for k := 0; k < n; k++ {
		end := nearest(dist, float64(k+1)*stageLength)
		if k == n-1 {
			end = last
		}
		if end-start < 1 {
			continue
		}
		spans = append(spans, Span{Start: start, End: end})
		start = end
	}
	return spans
}

func nearest(dist []float64, target float64) int {
	i := sort.SearchFloat64s(dist, target)
	if i == 0 {
		return 0
	}
	if i == len(dist) {
		return len(dist) - 1
	}
	if target-dist[i-1] <= dist[i]-target {
		return i - 1
	}
	return i
}

// Divide re-cuts the route into n stages of equal length without routing again. The input is not
// modified. n <= 1, or a route without at least two points, returns route itself.
func Divide(route *Route, n int) *Route {
	if route == nil || n <= 1 {
		return route
	}
	line, _ := route.Line()
	if len(line) < 2 {
		return route
	}
	dist := line.Cumulative()
	spans := Split(dist, n)
	if len(spans) == 0 {
		return route
	}
	total := dist[len(dist)-1]

	profile := route.ElevationProfile()
	measured := route.HasElevation()

	var minutes int
	for _, s := range route.Stages {
		minutes += s.EstimatedTime
	}

	stages := make([]Stage, len(spans))
	var usedAscent, usedDescent, usedMinutes int
	for i, sp := range spans {
		slice := append(geo.Line(nil), line[sp.Start:sp.End+1]...)
		from, to := dist[sp.Start], dist[sp.End]
		share := 0.0
		if total > 0 {
			share = (to - from) / total
		}
		lastStage := i == len(spans)-1

		s := Stage{
			Name:       fmt.Sprintf("Stage %d", i+1),
			StartPoint: boundaryWaypoint(route, slice.Start(), i == 0, false),
			EndPoint:   boundaryWaypoint(route, slice.End(), false, lastStage),
			Distance:   round2(to - from),
		}

		if measured {
			s.ElevationProfile = elevation.Window(profile, from, to)
			// snap the ends onto the slice
			first, end := &s.ElevationProfile[0], &s.ElevationProfile[len(s.ElevationProfile)-1]
			first.Lat, first.Lng = slice.Start().Lat, slice.Start().Lon
			end.Lat, end.Lng = slice.End().Lat, slice.End().Lon
			ascent, descent := elevation.ProfileGains(s.ElevationProfile)
			s.Ascent, s.Descent = int(math.Round(ascent)), int(math.Round(descent))
		} else {
			s.ElevationProfile = elevation.LocalProfile(slice)
			if lastStage {
				s.Ascent, s.Descent = route.TotalAscent-usedAscent, route.TotalDescent-usedDescent
			} else {
				s.Ascent = int(math.Round(float64(route.TotalAscent) * share))
				s.Descent = int(math.Round(float64(route.TotalDescent) * share))
			}
		}
		if lastStage {
			s.EstimatedTime = minutes - usedMinutes
		} else {
			s.EstimatedTime = int(math.Round(float64(minutes) * share))
		}
		usedAscent += s.Ascent
		usedDescent += s.Descent
		usedMinutes += s.EstimatedTime

		s.Geometry = geojson.NewFeature(slice.Orb())
		s.Geometry.Properties["name"] = s.Name
		s.Geometry.Properties["summary"] = map[string]float64{
			"distance": (to - from) * 1000,
			"duration": float64(s.EstimatedTime) * 60,
		}
		s.ID = stageID(&s)
		stages[i] = s
	}

	return newRoute(ID("divided", route.ID, n), route.Name, route.Type, route.Profile, stages)
}

// boundaryWaypoint reuses the route's own start and end waypoints and makes new ones for the
// points in between.
func boundaryWaypoint(route *Route, pos geo.Pos, first, last bool) Waypoint {
	switch {
	case first && len(route.Stages) > 0:
		return route.Start()
	case last && len(route.Stages) > 0:
		return route.End()
	}
	return Waypoint{
		ID:  WaypointID("boundary", 0, pos.Lat, pos.Lon),
		Lat: pos.Lat,
		Lng: pos.Lon,
	}
}

// Restage divides the route and, when the route had no elevation data and an elevation service
// is available, looks up a light profile for each new stage and takes its gains from that profile.
func (p *Planner) Restage(ctx context.Context, route *Route, n int) (*Route, error) {
	out := Divide(route, n)
	if out == route || route.HasElevation() || p.Elevation == nil {
		return out, nil
	}
	logln("Measuring elevation of", len(out.Stages), "stages")
	for i := range out.Stages {
		s := &out.Stages[i]
		profile, err := elevation.SummaryProfile(ctx, p.Elevation, s.Line())
		if err != nil {
			return nil, fmt.Errorf("measuring %s: %w", s.Name, err)
		}
		ascent, descent := elevation.ProfileGains(profile)
		s.ElevationProfile = profile
		s.Ascent, s.Descent = int(math.Round(ascent)), int(math.Round(descent))
	}
	out.update()
	return out, nil
}
