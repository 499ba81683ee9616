package plan

import (
	"context"
	"fmt"
	"math"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/geo"
	"github.com/dave/hike/globals"
	"github.com/dave/hike/routing"
)

// Planner builds routes. Elevation may be nil, in which case profiles come from the elevations in
// the routed geometry.
type Planner struct {
	Router    routing.Router
	Elevation elevation.Service
	Profile   globals.Profile
}

func (p *Planner) profile() globals.Profile {
	if p.Profile == "" {
		return globals.FootHiking
	}
	return p.Profile
}

// BuildStage routes through all points in one request and measures the result.
func (p *Planner) BuildStage(ctx context.Context, name string, points []Waypoint) (*Stage, error) {
	if len(points) < 2 {
		return nil, ErrInsufficientWaypoints
	}
	positions := make([]geo.Pos, len(points))
	for i, w := range points {
		positions[i] = w.Pos()
	}

	d, err := p.Router.Directions(ctx, p.profile(), positions)
	if err != nil {
		return nil, fmt.Errorf("routing %s: %w", name, err)
	}
	line := d.Line
	if len(line) == 1 {
		line = geo.Line{line[0], line[0]}
	}
	if len(line) == 0 {
		line = geo.Line{positions[0], positions[len(positions)-1]}
	}

	var profile []ElevationPoint
	var ascent, descent float64
	switch {
	case d.Ascent != nil && d.Descent != nil:
		debugfln("%s: gains supplied by router", name)
		ascent, descent = *d.Ascent, *d.Descent
		profile = elevation.LocalProfile(line)
	case p.Elevation == nil:
		ascent, descent = elevation.Gains(lineElevations(line))
		profile = elevation.LocalProfile(line)
	default:
		profile, err = elevation.BuildProfile(ctx, p.Elevation, line)
		if err != nil {
			return nil, fmt.Errorf("elevation profile for %s: %w", name, err)
		}
		ascent, descent = elevation.ProfileGains(profile)
	}

	d.Line = line
	feature := d.Feature()
	feature.Properties["name"] = name

	start, end := points[0], points[len(points)-1]
	s := &Stage{
		Name:             name,
		StartPoint:       start,
		EndPoint:         end,
		Distance:         round2(d.Distance / 1000),
		Ascent:           int(math.Round(ascent)),
		Descent:          int(math.Round(descent)),
		EstimatedTime:    int(math.Round(d.Duration / 60)),
		ElevationProfile: profile,
		Geometry:         feature,
	}
	s.ID = stageID(s)
	return s, nil
}

func stageID(s *Stage) string {
	return ID("stage", s.Name, s.StartPoint.Lat, s.StartPoint.Lng, s.EndPoint.Lat, s.EndPoint.Lng, s.Distance)
}

func lineElevations(line geo.Line) []float64 {
	out := make([]float64, len(line))
	for i, pos := range line {
		out[i] = pos.Ele
	}
	return out
}
