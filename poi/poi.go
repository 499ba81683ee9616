package poi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/dave/hike/geo"
)

const DefaultURL = "https://overpass-api.de/api/interpreter"

// ErrPartial is returned alongside the results when some kinds could not be loaded.
var ErrPartial = errors.New("some POIs could not be loaded")

type Kind string

const (
	Refuge Kind = "refuge"
	Water  Kind = "water"
	Peak   Kind = "peak"
)

var KINDS = []Kind{Refuge, Water, Peak}

type Category string

const (
	StaffedRefuge   Category = "staffed-refuge"
	UnstaffedRefuge Category = "unstaffed-refuge"
	Bivouac         Category = "bivouac"
	DrinkingWater   Category = "drinking-water"
	Spring          Category = "spring"
	Summit          Category = "peak"
)

func (c Category) String() string {
	switch c {
	case StaffedRefuge:
		return "Staffed refuge"
	case UnstaffedRefuge:
		return "Unstaffed refuge"
	case Bivouac:
		return "Bivouac"
	case DrinkingWater:
		return "Drinking water"
	case Spring:
		return "Spring"
	case Summit:
		return "Peak"
	}
	return string(c)
}

type POI struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Kind       Kind              `json:"kind"`
	Category   Category          `json:"category"`
	Lat        float64           `json:"lat"`
	Lng        float64           `json:"lng"`
	Elevation  *float64          `json:"elevation,omitempty"`
	Prominence *float64          `json:"prominence,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// Categorize maps OSM tags to a category.
func Categorize(kind Kind, tags map[string]string) Category {
	switch kind {
	case Water:
		if tags["natural"] == "spring" {
			return Spring
		}
		return DrinkingWater
	case Peak:
		return Summit
	}
	switch {
	case tags["tourism"] == "alpine_hut" && tags["operator"] != "":
		return StaffedRefuge
	case tags["amenity"] == "shelter":
		return Bivouac
	}
	return UnstaffedRefuge
}

// Around is the box containing line grown by radiusKm on every side.
func Around(line geo.Line, radiusKm float64) geo.Bounds {
	return line.Bounds().Pad(radiusKm / 111)
}

// Query is the Overpass QL for one kind of POI inside b.
func Query(kind Kind, b geo.Bounds) string {
	var filters []string
	switch kind {
	case Refuge:
		filters = []string{`["tourism"="alpine_hut"]`, `["tourism"="wilderness_hut"]`, `["amenity"="shelter"]`}
	case Water:
		filters = []string{`["amenity"="drinking_water"]`, `["amenity"="water_point"]`, `["natural"="spring"]`}
	case Peak:
		filters = []string{`["natural"="peak"]`}
	}
	bbox := fmt.Sprintf("(%f,%f,%f,%f)", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
	var sb strings.Builder
	sb.WriteString("[out:json][timeout:25];(")
	for _, f := range filters {
		sb.WriteString("node" + f + bbox + ";")
	}
	sb.WriteString(");out body;")
	return sb.String()
}

type Finder struct {
	query func(string) (overpass.Result, error)
}

func NewFinder(endpoint string, client *http.Client) *Finder {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	c := overpass.NewWithSettings(endpoint, 1, client)
	return &Finder{query: c.Query}
}

// NewFinderFunc uses query in place of a real Overpass server.
func NewFinderFunc(query func(string) (overpass.Result, error)) *Finder {
	return &Finder{query: query}
}

// Find loads the POIs of one kind inside b, ordered by OSM node id.
func (f *Finder) Find(ctx context.Context, kind Kind, b geo.Bounds) ([]POI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := f.query(Query(kind, b))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", kind, err)
	}
	nodes := make([]*overpass.Node, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	pois := make([]POI, len(nodes))
	for i, n := range nodes {
		pois[i] = fromNode(kind, n)
	}
	return pois, nil
}

func fromNode(kind Kind, n *overpass.Node) POI {
	tags := n.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	p := POI{
		ID:       fmt.Sprintf("node/%d", n.ID),
		Name:     tags["name"],
		Kind:     kind,
		Category: Categorize(kind, tags),
		Lat:      n.Lat,
		Lng:      n.Lon,
		Tags:     tags,
	}
	if p.Name == "" {
		p.Name = p.Category.String()
	}
	p.Elevation = parseMetres(tags["ele"])
	if kind == Peak {
		p.Prominence = parseMetres(tags["prominence"])
	}
	return p
}

func parseMetres(s string) *float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "m"))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &f
}

// Collect loads every kind concurrently. A kind that fails gets an empty list and the error
// returned is ErrPartial; the other kinds are still returned.
func (f *Finder) Collect(ctx context.Context, b geo.Bounds, kinds ...Kind) (map[Kind][]POI, error) {
	if len(kinds) == 0 {
		kinds = KINDS
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		out  = make(map[Kind][]POI, len(kinds))
	)
	for _, kind := range kinds {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			pois, err := f.Find(ctx, kind, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				pois = []POI{}
			}
			out[kind] = pois
		}(kind)
	}
	wg.Wait()
	if len(errs) > 0 {
		return out, fmt.Errorf("%w: %w", ErrPartial, errors.Join(errs...))
	}
	return out, nil
}

// All flattens the result of Collect in KINDS order.
func All(m map[Kind][]POI) []POI {
	var out []POI
	for _, kind := range KINDS {
		out = append(out, m[kind]...)
	}
	return out
}
