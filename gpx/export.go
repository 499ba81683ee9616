package gpx

import (
	"fmt"
	"io"
	"os"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/geo"
	"github.com/dave/hike/globals"
	"github.com/dave/hike/plan"
	"github.com/dave/hike/poi"
	gpxgo "github.com/tkrajina/gpxgo/gpx"
)

type Options struct {
	Waypoints   bool `json:"waypoints"`
	Refuges     bool `json:"refuges"`
	WaterPoints bool `json:"waterPoints"`
	SplitStages bool `json:"splitStages"`
	Elevation   bool `json:"elevation"`
}

func DefaultOptions() Options {
	return Options{Waypoints: true, Refuges: true, WaterPoints: true, Elevation: true}
}

// Symbols used for exported waypoints.
const (
	SymbolStart    = "Flag, Green"
	SymbolEnd      = "Flag, Red"
	SymbolBoundary = "Flag, Blue"
	SymbolRefuge   = "Lodge"
	SymbolWater    = "Drinking Water"
	SymbolPeak     = "Summit"
)

func Save(fpath string, route *plan.Route, pois []poi.POI, opts Options) error {
	f, err := os.Create(fpath)
	if err != nil {
		return fmt.Errorf("creating gpx file %q: %w", fpath, err)
	}
	defer f.Close()
	if err := Export(f, route, pois, opts); err != nil {
		return err
	}
	return f.Close()
}

// Export writes route as a GPX 1.1 document.
func Export(w io.Writer, route *plan.Route, pois []poi.POI, opts Options) error {
	b, err := Encode(route, pois, opts).ToXml(gpxgo.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return fmt.Errorf("encoding gpx: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing gpx: %w", err)
	}
	return nil
}

func Encode(route *plan.Route, pois []poi.POI, opts Options) *gpxgo.GPX {
	g := &gpxgo.GPX{
		Version:     "1.1",
		Creator:     "hike " + globals.VERSION,
		Name:        route.Name,
		Description: summary(route.TotalDistance, route.TotalAscent, route.TotalDescent),
	}

	if opts.SplitStages {
		for _, s := range route.Stages {
			t := gpxgo.GPXTrack{
				Name:        s.Name,
				Description: summary(s.Distance, s.Ascent, s.Descent),
				Type:        string(route.Type),
			}
			t.Segments = []gpxgo.GPXTrackSegment{{Points: trackPoints(s.Line(), s.ElevationProfile, opts.Elevation)}}
			g.Tracks = append(g.Tracks, t)
		}
	} else if len(route.Stages) > 0 {
		line, _ := route.Line()
		t := gpxgo.GPXTrack{
			Name:        route.Name,
			Description: summary(route.TotalDistance, route.TotalAscent, route.TotalDescent),
			Type:        string(route.Type),
		}
		t.Segments = []gpxgo.GPXTrackSegment{{Points: trackPoints(line, route.ElevationProfile(), opts.Elevation)}}
		g.Tracks = append(g.Tracks, t)
	}

	if opts.Waypoints && len(route.Stages) > 0 {
		start, end := route.Start(), route.End()
		g.Waypoints = append(g.Waypoints, marker(start, "Start", SymbolStart, route.Stages[0].ElevationProfile, 0, opts.Elevation))
		for i, b := range route.Boundaries() {
			prev := route.Stages[i]
			g.Waypoints = append(g.Waypoints, marker(b, fmt.Sprintf("End of %s", prev.Name), SymbolBoundary, prev.ElevationProfile, -1, opts.Elevation))
		}
		last := route.Stages[len(route.Stages)-1]
		g.Waypoints = append(g.Waypoints, marker(end, "End", SymbolEnd, last.ElevationProfile, -1, opts.Elevation))
	}

	for _, p := range pois {
		var sym string
		switch {
		case p.Kind == poi.Refuge && opts.Refuges:
			sym = SymbolRefuge
		case p.Kind == poi.Water && opts.WaterPoints:
			sym = SymbolWater
		case p.Kind == poi.Peak && opts.Waypoints:
			sym = SymbolPeak
		default:
			continue
		}
		pt := gpxgo.GPXPoint{
			Point:       gpxgo.Point{Latitude: p.Lat, Longitude: p.Lng},
			Name:        p.Name,
			Description: p.Category.String(),
			Symbol:      sym,
			Type:        string(p.Category),
		}
		if opts.Elevation && p.Elevation != nil {
			pt.Elevation = *gpxgo.NewNullableFloat64(*p.Elevation)
		}
		g.Waypoints = append(g.Waypoints, pt)
	}
	return g
}

func summary(km float64, ascent, descent int) string {
	return fmt.Sprintf("%.2f km, +%d m, -%d m", km, ascent, descent)
}

// trackPoints interpolates elevations for the line from profile, whose distances are measured
// along the same line.
func trackPoints(line geo.Line, profile []plan.ElevationPoint, withElevation bool) []gpxgo.GPXPoint {
	dist := line.Cumulative()
	points := make([]gpxgo.GPXPoint, len(line))
	for i, pos := range line {
		points[i] = gpxgo.GPXPoint{Point: gpxgo.Point{Latitude: pos.Lat, Longitude: pos.Lon}}
		if withElevation && len(profile) > 0 {
			points[i].Elevation = *gpxgo.NewNullableFloat64(elevation.At(profile, dist[i]).Elevation)
		}
	}
	return points
}

// marker makes a waypoint. at is the profile distance for the elevation, or -1 for the end of the
// profile.
func marker(w plan.Waypoint, fallback, symbol string, profile []plan.ElevationPoint, at float64, withElevation bool) gpxgo.GPXPoint {
	name := w.Name
	if name == "" {
		name = fallback
	} else if fallback != "" {
		name = fallback + ": " + name
	}
	pt := gpxgo.GPXPoint{
		Point:  gpxgo.Point{Latitude: w.Lat, Longitude: w.Lng},
		Name:   name,
		Symbol: symbol,
	}
	if withElevation && len(profile) > 0 {
		if at < 0 {
			at = profile[len(profile)-1].Distance
		}
		pt.Elevation = *gpxgo.NewNullableFloat64(elevation.At(profile, at).Elevation)
	}
	return pt
}
