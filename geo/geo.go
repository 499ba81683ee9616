package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the mean earth radius in km used by Distance.
const EarthRadius = 6371.0

type Line []Pos

func (l Line) Length() float64 {
	var total float64
	for i, pos := range l {
		if i == 0 {
			continue
		}
		total += l[i-1].Distance(pos)
	}
	return total
}

// Cumulative returns the distance in km from the start of the line to each Pos. The first
// entry is always 0.
func (l Line) Cumulative() []float64 {
	dist := make([]float64, len(l))
	for i := 1; i < len(l); i++ {
		dist[i] = dist[i-1] + l[i-1].Distance(l[i])
	}
	return dist
}

// Start is the first Pos in the line
func (l Line) Start() Pos {
	return l[0]
}

// End is the last Pos in the line
func (l Line) End() Pos {
	return l[len(l)-1]
}

// HasElevation is true if any Pos in the line carries a non-zero elevation.
func (l Line) HasElevation() bool {
	for _, pos := range l {
		if pos.Ele != 0 {
			return true
		}
	}
	return false
}

// Orb drops the elevations and converts to an orb line string ([lon, lat] points).
func (l Line) Orb() orb.LineString {
	ls := make(orb.LineString, len(l))
	for i, pos := range l {
		ls[i] = orb.Point{pos.Lon, pos.Lat}
	}
	return ls
}

func FromOrb(ls orb.LineString) Line {
	line := make(Line, len(ls))
	for i, p := range ls {
		line[i] = Pos{Lat: p.Lat(), Lon: p.Lon()}
	}
	return line
}

func (l Line) Bounds() Bounds {
	if len(l) == 0 {
		return Bounds{}
	}
	return boundsFromOrb(l.Orb().Bound())
}

// MergeLines joins lines end to end. When a line starts where the previous one finished
// the shared Pos is only kept once.
func MergeLines(lines []Line) Line {
	var totalLen int
	for _, s := range lines {
		totalLen += len(s)
	}
	tmp := make(Line, 0, totalLen)
	for _, s := range lines {
		if len(s) == 0 {
			continue
		}
		if len(tmp) > 0 && tmp.End().Same(s.Start()) {
			s = s[1:]
		}
		tmp = append(tmp, s...)
	}
	return tmp
}

type Pos struct {
	Lat, Lon, Ele float64
}

// Same compares the horizontal position only.
func (p1 Pos) Same(p2 Pos) bool {
	return p1.Lat == p2.Lat && p1.Lon == p2.Lon
}

// Distance in km to another location (only considering lat and lon), using the haversine
// formula.
func (p1 Pos) Distance(p2 Pos) float64 {
	return Distance(p1.Lat, p1.Lon, p2.Lat, p2.Lon)
}

// Distance in km between two lat/lon pairs in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	radLat1 := lat1 * math.Pi / 180
	radLat2 := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(radLat1)*math.Cos(radLat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// Bounds is a lat/lon bounding box.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLng float64 `json:"minLng"`
	MaxLng float64 `json:"maxLng"`
}

func (b Bounds) Orb() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLng, b.MinLat}, Max: orb.Point{b.MaxLng, b.MaxLat}}
}

// Pad grows the box by deg degrees on every side.
func (b Bounds) Pad(deg float64) Bounds {
	return boundsFromOrb(b.Orb().Pad(deg))
}

func boundsFromOrb(b orb.Bound) Bounds {
	return Bounds{MinLat: b.Min.Lat(), MaxLat: b.Max.Lat(), MinLng: b.Min.Lon(), MaxLng: b.Max.Lon()}
}
