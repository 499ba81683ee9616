package elevation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dave/hike/geo"
)

const (
	// ProfileCap is the maximum number of points sent to the service when a full profile is needed.
	ProfileCap = 200
	// SummaryCap is the maximum number of points sent when only ascent and descent are needed.
	SummaryCap = 100
)

var ErrLookup = errors.New("elevation lookup failed")

// LookupError is returned when the elevation service fails. It matches ErrLookup with errors.Is.
type LookupError struct {
	Points int
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("looking up %d elevations: %v", e.Points, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

func (e *LookupError) Is(target error) bool { return target == ErrLookup }

// Service returns one elevation in metres for each Pos in line, in the same order.
type Service interface {
	Lookup(ctx context.Context, line geo.Line) ([]float64, error)
}

type ServiceFunc func(ctx context.Context, line geo.Line) ([]float64, error)

func (f ServiceFunc) Lookup(ctx context.Context, line geo.Line) ([]float64, error) {
	return f(ctx, line)
}

// Point is one sample of an elevation profile. Distance is km from the start of the path.
type Point struct {
	Distance  float64 `json:"distance"`
	Elevation float64 `json:"elevation"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

func (p Point) Pos() geo.Pos {
	return geo.Pos{Lat: p.Lat, Lon: p.Lng, Ele: p.Elevation}
}

// Sample returns the indexes of the points kept when n points are reduced to at most cap (plus
// the last point). The stride is ceil(n/cap), the first index is always kept and the last index
// is appended if the stride skipped it.
func Sample(n, cap int) []int {
	if n <= 0 {
		return nil
	}
	stride := 1
	if cap > 0 && n > cap {
		stride = int(math.Ceil(float64(n) / float64(cap)))
	}
	indexes := make([]int, 0, n/stride+2)
	for i := 0; i < n; i += stride {
		indexes = append(indexes, i)
	}
	if indexes[len(indexes)-1] != n-1 {
		indexes = append(indexes, n-1)
	}
	return indexes
}

func Downsample(line geo.Line, cap int) geo.Line {
	indexes := Sample(len(line), cap)
	out := make(geo.Line, len(indexes))
	for i, idx := range indexes {
		out[i] = line[idx]
	}
	return out
}

// Gains sums the positive deltas into ascent and the negative deltas into descent. Nothing is
// rounded.
func Gains(elevations []float64) (ascent, descent float64) {
	for i := 1; i < len(elevations); i++ {
		delta := elevations[i] - elevations[i-1]
		if delta > 0 {
			ascent += delta
		} else {
			descent -= delta
		}
	}
	return ascent, descent
}

func ProfileGains(profile []Point) (ascent, descent float64) {
	return Gains(Elevations(profile))
}

func Elevations(profile []Point) []float64 {
	out := make([]float64, len(profile))
	for i, p := range profile {
		out[i] = p.Elevation
	}
	return out
}

// BuildProfile downsamples line to ProfileCap points and looks up their elevations in one
// request. Distances are measured along the full line.
func BuildProfile(ctx context.Context, svc Service, line geo.Line) ([]Point, error) {
	return buildProfile(ctx, svc, line, ProfileCap)
}

// SummaryProfile is BuildProfile with SummaryCap points.
func SummaryProfile(ctx context.Context, svc Service, line geo.Line) ([]Point, error) {
	return buildProfile(ctx, svc, line, SummaryCap)
}

// Summary is the lighter path: SummaryCap points, ascent and descent only.
func Summary(ctx context.Context, svc Service, line geo.Line) (ascent, descent float64, err error) {
	profile, err := SummaryProfile(ctx, svc, line)
	if err != nil {
		return 0, 0, err
	}
	ascent, descent = ProfileGains(profile)
	return ascent, descent, nil
}

func buildProfile(ctx context.Context, svc Service, line geo.Line, cap int) ([]Point, error) {
	elevations, err := lookup(ctx, svc, Downsample(line, cap))
	if err != nil {
		return nil, err
	}
	indexes := Sample(len(line), cap)
	dist := line.Cumulative()
	profile := make([]Point, len(indexes))
	for i, idx := range indexes {
		profile[i] = Point{
			Distance:  dist[idx],
			Elevation: elevations[i],
			Lat:       line[idx].Lat,
			Lng:       line[idx].Lon,
		}
	}
	return profile, nil
}

// LocalProfile builds a profile from the elevations already carried by line, without any lookup.
func LocalProfile(line geo.Line) []Point {
	dist := line.Cumulative()
	indexes := Sample(len(line), ProfileCap)
	profile := make([]Point, len(indexes))
	for i, idx := range indexes {
		profile[i] = Point{
			Distance:  dist[idx],
			Elevation: line[idx].Ele,
			Lat:       line[idx].Lat,
			Lng:       line[idx].Lon,
		}
	}
	return profile
}

func lookup(ctx context.Context, svc Service, line geo.Line) ([]float64, error) {
	if len(line) == 0 {
		return nil, nil
	}
	elevations, err := svc.Lookup(ctx, line)
	if err != nil {
		return nil, &LookupError{Points: len(line), Err: err}
	}
	if len(elevations) != len(line) {
		return nil, &LookupError{Points: len(line), Err: fmt.Errorf("service returned %d results", len(elevations))}
	}
	return elevations, nil
}

// Window cuts the part of profile between from and to (km) and shifts it so it starts at 0.
// The ends are interpolated, so the gains of consecutive windows add up to the gains of the
// whole profile.
func Window(profile []Point, from, to float64) []Point {
	if len(profile) == 0 || to < from {
		return nil
	}
	out := []Point{shift(At(profile, from), from)}
	for _, p := range profile {
		if p.Distance > from && p.Distance < to {
			out = append(out, shift(p, from))
		}
	}
	if to > from {
		out = append(out, shift(At(profile, to), from))
	}
	return out
}

func shift(p Point, by float64) Point {
	p.Distance -= by
	if p.Distance < 0 {
		p.Distance = 0
	}
	return p
}

// At interpolates the profile linearly at distance d. Outside the profile the nearest end is
// returned with Distance set to d.
func At(profile []Point, d float64) Point {
	if len(profile) == 0 {
		return Point{Distance: d}
	}
	if d <= profile[0].Distance {
		p := profile[0]
		p.Distance = d
		return p
	}
	for i := 1; i < len(profile); i++ {
		a, b := profile[i-1], profile[i]
		if d > b.Distance {
			continue
		}
		span := b.Distance - a.Distance
		if span <= 0 {
			return Point{Distance: d, Elevation: b.Elevation, Lat: b.Lat, Lng: b.Lng}
		}
		f := (d - a.Distance) / span
		return Point{
			Distance:  d,
			Elevation: a.Elevation + f*(b.Elevation-a.Elevation),
			Lat:       a.Lat + f*(b.Lat-a.Lat),
			Lng:       a.Lng + f*(b.Lng-a.Lng),
		}
	}
	p := profile[len(profile)-1]
	p.Distance = d
	return p
}

// Range returns the lowest and highest elevation in any of the profiles. ok is false when there
// are no points.
func Range(profiles ...[]Point) (min, max float64, ok bool) {
	for _, profile := range profiles {
		for _, p := range profile {
			if !ok {
				min, max, ok = p.Elevation, p.Elevation, true
				continue
			}
			if p.Elevation < min {
				min = p.Elevation
			}
			if p.Elevation > max {
				max = p.Elevation
			}
		}
	}
	return min, max, ok
}
