package gpx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dave/hike/geo"
	"github.com/dave/hike/plan"
	gpxgo "github.com/tkrajina/gpxgo/gpx"
	"golang.org/x/net/html"
)

var (
	ErrMalformed = errors.New("gpx document is not well-formed xml")
	ErrNotGPX    = errors.New("document root is not <gpx>")
)

// DefaultCap is the number of points a track is simplified to.
const DefaultCap = 20

type Metadata struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Creator     string `json:"creator,omitempty"`
}

// Path is a track (all segments flattened) or a route.
type Path struct {
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Points      []plan.Waypoint `json:"points"`
	Elevations  []float64       `json:"elevations,omitempty"`
	Bounds      *geo.Bounds     `json:"bounds,omitempty"`
}

type Result struct {
	Metadata  *Metadata       `json:"metadata,omitempty"`
	Waypoints []plan.Waypoint `json:"waypoints"`
	Tracks    []Path          `json:"tracks"`
	Routes    []Path          `json:"routes"`
}

func (r *Result) Empty() bool {
	return len(r.Waypoints) == 0 && len(r.Tracks) == 0 && len(r.Routes) == 0
}

// ToWaypoints picks the points to plan with: the first route if there is one, else the first
// track simplified to cap points, else the standalone waypoints.
func (r *Result) ToWaypoints(cap int) []plan.Waypoint {
	switch {
	case len(r.Routes) > 0:
		return append([]plan.Waypoint(nil), r.Routes[0].Points...)
	case len(r.Tracks) > 0:
		return append([]plan.Waypoint(nil), Simplify(r.Tracks[0].Points, cap)...)
	}
	return append([]plan.Waypoint(nil), r.Waypoints...)
}

// Simplify keeps the first and last point and samples the rest at a stride of len/cap, returning
// at most cap points. Input with cap points or fewer is returned unchanged.
func Simplify[T any](points []T, cap int) []T {
	if cap <= 0 {
		cap = DefaultCap
	}
	if cap < 2 {
		cap = 2
	}
	if len(points) <= cap {
		return points
	}
	stride := len(points) / cap
	out := make([]T, 0, cap)
	out = append(out, points[0])
	for i := stride; i < len(points)-1 && len(out) < cap-1; i += stride {
		out = append(out, points[i])
	}
	return append(out, points[len(points)-1])
}

func ParseFile(fpath string) (*Result, error) {
	b, err := os.ReadFile(fpath)
	if err != nil {
		return nil, fmt.Errorf("reading gpx %q: %w", fpath, err)
	}
	return ParseBytes(b)
}

func Parse(r io.Reader) (*Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading gpx: %w", err)
	}
	return ParseBytes(b)
}

func ParseBytes(b []byte) (*Result, error) {
	if err := check(b); err != nil {
		return nil, err
	}
	g, err := gpxgo.ParseBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	res := &Result{Waypoints: []plan.Waypoint{}, Tracks: []Path{}, Routes: []Path{}}
	if g.Name != "" || g.Description != "" || g.AuthorName != "" {
		res.Metadata = &Metadata{
			Name:        g.Name,
			Description: cleanText(g.Description),
			Author:      g.AuthorName,
			Creator:     g.Creator,
		}
	}

	for i := range g.Waypoints {
		res.Waypoints = append(res.Waypoints, waypoint(&g.Waypoints[i], "wpt", i))
	}
	for ti := range g.Tracks {
		t := &g.Tracks[ti]
		var points []*gpxgo.GPXPoint
		for si := range t.Segments {
			for pi := range t.Segments[si].Points {
				points = append(points, &t.Segments[si].Points[pi])
			}
		}
		res.Tracks = append(res.Tracks, path(t.Name, t.Description, fmt.Sprintf("trk%d", ti), points))
	}
	for ri := range g.Routes {
		r := &g.Routes[ri]
		points := make([]*gpxgo.GPXPoint, len(r.Points))
		for pi := range r.Points {
			points[pi] = &r.Points[pi]
		}
		res.Routes = append(res.Routes, path(r.Name, r.Description, fmt.Sprintf("rte%d", ri), points))
	}
	return res, nil
}

// check rejects documents that are not well-formed or whose root is not <gpx>, before any
// extraction is attempted.
func check(b []byte) error {
	d := xml.NewDecoder(bytes.NewReader(b))
	var root bool
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if se, ok := tok.(xml.StartElement); ok && !root {
			if se.Name.Local != "gpx" {
				return fmt.Errorf("%w: found <%s>", ErrNotGPX, se.Name.Local)
			}
			root = true
		}
	}
	if !root {
		return fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return nil
}

func waypoint(p *gpxgo.GPXPoint, source string, index int) plan.Waypoint {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = fmt.Sprintf("Point %d", index+1)
	}
	return plan.Waypoint{
		ID:   plan.WaypointID(source, index, p.Latitude, p.Longitude),
		Lat:  p.Latitude,
		Lng:  p.Longitude,
		Name: name,
	}
}

func path(name, desc, source string, points []*gpxgo.GPXPoint) Path {
	out := Path{
		Name:        strings.TrimSpace(name),
		Description: cleanText(desc),
		Points:      make([]plan.Waypoint, len(points)),
	}
	line := make(geo.Line, len(points))
	var hasEle bool
	elevations := make([]float64, len(points))
	for i, p := range points {
		out.Points[i] = waypoint(p, source, i)
		line[i] = geo.Pos{Lat: p.Latitude, Lon: p.Longitude}
		if p.Elevation.NotNull() {
			hasEle = true
			elevations[i] = p.Elevation.Value()
		}
	}
	if hasEle {
		out.Elevations = elevations
	}
	if len(line) > 0 {
		b := line.Bounds()
		out.Bounds = &b
	}
	return out
}

// cleanText flattens html found in descriptions to plain text.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	var sb strings.Builder
	for _, n := range doc.Nodes {
		textOf(n, &sb)
	}
	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func textOf(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "br":
			sb.WriteString("\n")
		case "p", "div", "li", "tr", "h1", "h2", "h3":
			defer sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		textOf(c, sb)
	}
}
