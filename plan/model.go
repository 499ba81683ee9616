package plan

import (
	"fmt"
	"strings"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/geo"
	"github.com/dave/hike/globals"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type ElevationPoint = elevation.Point

// Waypoint is a user supplied or imported position. A waypoint at 0,0 has not been placed yet.
type Waypoint struct {
	ID   string  `json:"id,omitempty"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Name string  `json:"name,omitempty"`
}

func (w Waypoint) Placeholder() bool {
	return w.Lat == 0 && w.Lng == 0
}

func (w Waypoint) Pos() geo.Pos {
	return geo.Pos{Lat: w.Lat, Lon: w.Lng}
}

// Positioned copies the waypoints, leaving out placeholders.
func Positioned(waypoints []Waypoint) []Waypoint {
	out := make([]Waypoint, 0, len(waypoints))
	for _, w := range waypoints {
		if w.Placeholder() {
			continue
		}
		out = append(out, w)
	}
	return out
}

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/dave/hike"))

// ID derives a stable identifier from its parts, so identical input always gets the same ID.
func ID(parts ...interface{}) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteString("|")
		}
		fmt.Fprint(&sb, p)
	}
	return uuid.NewSHA1(namespace, []byte(sb.String())).String()
}

func WaypointID(source string, index int, lat, lng float64) string {
	return ID("waypoint", source, index, lat, lng)
}

type RouteType string

const (
	PointToPoint RouteType = "point-to-point"
	Loop         RouteType = "loop"
)

type Stage struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	StartPoint       Waypoint         `json:"startPoint"`
	EndPoint         Waypoint         `json:"endPoint"`
	Distance         float64          `json:"distance"`      // km
	Ascent           int              `json:"ascent"`        // m
	Descent          int              `json:"descent"`       // m
	EstimatedTime    int              `json:"estimatedTime"` // minutes
	ElevationProfile []ElevationPoint `json:"elevationProfile"`
	Geometry         *geojson.Feature `json:"geometry"`
}

// Line is the stage geometry. Elevations are not carried by the geometry, see ElevationProfile.
func (s Stage) Line() geo.Line {
	if s.Geometry == nil {
		return nil
	}
	ls, ok := s.Geometry.Geometry.(orb.LineString)
	if !ok {
		return nil
	}
	return geo.FromOrb(ls)
}

func (s Stage) clone() Stage {
	out := s
	out.ElevationProfile = append([]ElevationPoint(nil), s.ElevationProfile...)
	if s.Geometry != nil {
		out.Geometry = geojson.NewFeature(orb.Clone(s.Geometry.Geometry))
		out.Geometry.Properties = s.Geometry.Properties.Clone()
	}
	return out
}

type Route struct {
	ID            string                     `json:"id"`
	Name          string                     `json:"name"`
	Type          RouteType                  `json:"type"`
	Profile       globals.Profile            `json:"profile,omitempty"`
	Stages        []Stage                    `json:"stages"`
	TotalDistance float64                    `json:"totalDistance"`
	TotalAscent   int                        `json:"totalAscent"`
	TotalDescent  int                        `json:"totalDescent"`
	MinElevation  float64                    `json:"minElevation"`
	MaxElevation  float64                    `json:"maxElevation"`
	Geometry      *geojson.FeatureCollection `json:"geometry"`
}

func newRoute(id, name string, typ RouteType, profile globals.Profile, stages []Stage) *Route {
	r := &Route{
		ID:      id,
		Name:    name,
		Type:    typ,
		Profile: profile,
		Stages:  stages,
	}
	r.update()
	return r
}

// update recomputes the totals and the combined geometry from the stages.
func (r *Route) update() {
	r.TotalDistance, r.TotalAscent, r.TotalDescent = 0, 0, 0
	profiles := make([][]ElevationPoint, 0, len(r.Stages))
	fc := geojson.NewFeatureCollection()
	for _, s := range r.Stages {
		r.TotalDistance += s.Distance
		r.TotalAscent += s.Ascent
		r.TotalDescent += s.Descent
		profiles = append(profiles, s.ElevationProfile)
		if s.Geometry != nil {
			fc.Append(s.Geometry)
		}
	}
	r.TotalDistance = round2(r.TotalDistance)
	r.MinElevation, r.MaxElevation, _ = elevation.Range(profiles...)
	r.Geometry = fc
}

// Line joins the stage geometries. starts holds the index in the line where each stage begins.
func (r *Route) Line() (line geo.Line, starts []int) {
	starts = make([]int, len(r.Stages))
	for i, s := range r.Stages {
		sl := s.Line()
		if len(sl) == 0 {
			starts[i] = max(len(line)-1, 0)
			continue
		}
		line = geo.MergeLines([]geo.Line{line, sl})
		starts[i] = len(line) - len(sl)
	}
	return line, starts
}

// ElevationProfile joins the stage profiles with distances measured from the route start.
func (r *Route) ElevationProfile() []ElevationPoint {
	line, starts := r.Line()
	dist := line.Cumulative()
	var out []ElevationPoint
	for i, s := range r.Stages {
		var offset float64
		if starts[i] < len(dist) {
			offset = dist[starts[i]]
		}
		for j, p := range s.ElevationProfile {
			p.Distance += offset
			if j == 0 && len(out) > 0 && out[len(out)-1].Distance >= p.Distance {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// HasElevation is true when any stage profile carries a non-zero elevation.
func (r *Route) HasElevation() bool {
	for _, s := range r.Stages {
		for _, p := range s.ElevationProfile {
			if p.Elevation != 0 {
				return true
			}
		}
	}
	return false
}

func (r *Route) Start() Waypoint {
	return r.Stages[0].StartPoint
}

func (r *Route) End() Waypoint {
	return r.Stages[len(r.Stages)-1].EndPoint
}

// Boundaries are the points where one stage ends and the next begins.
func (r *Route) Boundaries() []Waypoint {
	var out []Waypoint
	for i := 1; i < len(r.Stages); i++ {
		out = append(out, r.Stages[i].StartPoint)
	}
	return out
}
