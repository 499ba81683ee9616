package kml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/geo"
	"github.com/dave/hike/plan"
	"github.com/dave/hike/poi"
)

const Namespace = "http://www.opengis.net/kml/2.2"

func Load(fpath string) (Root, error) {
	b, err := os.ReadFile(fpath)
	if err != nil {
		return Root{}, fmt.Errorf("reading kml %q: %w", fpath, err)
	}
	return Decode(bytes.NewBuffer(b))
}

func Decode(reader io.Reader) (Root, error) {
	var r Root
	if err := xml.NewDecoder(reader).Decode(&r); err != nil {
		return Root{}, fmt.Errorf("decoding kml: %w", err)
	}
	return r, nil
}

type Root struct {
	Xmlns    string   `xml:"xmlns,attr"`
	Document Document `xml:"Document"`
}

func (r Root) Encode(w io.Writer) error {
	wrapper := struct {
		Root
		XMLName struct{} `xml:"kml"`
	}{Root: r}
	bw, err := xml.MarshalIndent(wrapper, "", "\t")
	if err != nil {
		return fmt.Errorf("marshaling kml: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header+string(bw)); err != nil {
		return fmt.Errorf("writing kml: %w", err)
	}
	return nil
}

func (r Root) Save(fpath string) error {
	var buf bytes.Buffer
	if err := r.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(fpath, buf.Bytes(), 0666); err != nil {
		return fmt.Errorf("writing kml file %q: %w", fpath, err)
	}
	return nil
}

type Document struct {
	Name        string    `xml:"name"`
	Description string    `xml:"description"`
	Visibility  int       `xml:"visibility"`
	Open        int       `xml:"open"`
	Styles      []*Style  `xml:"Style"`
	Folders     []*Folder `xml:"Folder"`
}

type Style struct {
	Id        string    `xml:"id,attr,omitempty"`
	LineStyle LineStyle `xml:"LineStyle"`
}

type LineStyle struct {
	Color string  `xml:"color"`
	Width float64 `xml:"width,omitempty"`
}

type Folder struct {
	Name        string       `xml:"name"`
	Description string       `xml:"description"`
	Visibility  int          `xml:"visibility"`
	Open        int          `xml:"open"`
	Placemarks  []*Placemark `xml:"Placemark"`
	Folders     []*Folder    `xml:"Folder"`
}

type Placemark struct {
	Name          string         `xml:"name"`
	Description   string         `xml:"description"`
	Visibility    int            `xml:"visibility"`
	Open          int            `xml:"open"`
	StyleUrl      string         `xml:"styleUrl,omitempty"`
	Point         *Point         `xml:"Point,omitempty"`
	LineString    *LineString    `xml:"LineString,omitempty"`
	MultiGeometry *MultiGeometry `xml:"MultiGeometry,omitempty"`
	Style         *Style         `xml:"Style,omitempty"`
}

type Point struct {
	Coordinates string `xml:"coordinates"`
}

func (p Point) Pos() geo.Pos {
	return parsePos(strings.TrimSpace(p.Coordinates))
}

type LineString struct {
	Extrude      bool   `xml:"extrude"`
	Tessellate   bool   `xml:"tessellate"`
	AltitudeMode string `xml:"altitudeMode"`
	Coordinates  string `xml:"coordinates"`
}

type MultiGeometry struct {
	LineString *LineString `xml:"LineString,omitempty"`
}

func (l LineString) Line() geo.Line {
	var line geo.Line
	for _, csv := range strings.Fields(l.Coordinates) {
		line = append(line, parsePos(csv))
	}
	return line
}

// parsePos reads "lon,lat[,ele]".
func parsePos(csv string) geo.Pos {
	var p geo.Pos
	parts := strings.Split(csv, ",")
	if len(parts) > 0 {
		p.Lon, _ = strconv.ParseFloat(parts[0], 64)
	}
	if len(parts) > 1 {
		p.Lat, _ = strconv.ParseFloat(parts[1], 64)
	}
	if len(parts) > 2 {
		p.Ele, _ = strconv.ParseFloat(parts[2], 64)
	}
	return p
}

func LineCoordinates(line geo.Line) string {
	var sb strings.Builder
	for i, pos := range line {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(PosCoordinates(pos))
	}
	return sb.String()
}

func PosCoordinates(pos geo.Pos) string {
	return fmt.Sprintf("%v,%v,%v", pos.Lon, pos.Lat, pos.Ele)
}

// Placemarks lists every placemark in the document, depth first.
func (r Root) Placemarks() []*Placemark {
	var out []*Placemark
	var walk func(folders []*Folder)
	walk = func(folders []*Folder) {
		for _, f := range folders {
			out = append(out, f.Placemarks...)
			walk(f.Folders)
		}
	}
	walk(r.Document.Folders)
	return out
}

// Waypoints reads a KML file as a waypoint source: the first line string if there is one, else
// every point placemark.
func (r Root) Waypoints() []plan.Waypoint {
	placemarks := r.Placemarks()
	for _, pm := range placemarks {
		ls := pm.LineString
		if ls == nil && pm.MultiGeometry != nil {
			ls = pm.MultiGeometry.LineString
		}
		if ls == nil {
			continue
		}
		line := ls.Line()
		out := make([]plan.Waypoint, len(line))
		for i, pos := range line {
			out[i] = plan.Waypoint{ID: plan.WaypointID("kml-line", i, pos.Lat, pos.Lon), Lat: pos.Lat, Lng: pos.Lon}
		}
		return out
	}
	var out []plan.Waypoint
	for i, pm := range placemarks {
		if pm.Point == nil {
			continue
		}
		pos := pm.Point.Pos()
		out = append(out, plan.Waypoint{ID: plan.WaypointID("kml-point", i, pos.Lat, pos.Lon), Lat: pos.Lat, Lng: pos.Lon, Name: pm.Name})
	}
	return out
}

var Colors = []struct{ Name, Color string }{
	{"red", "961400FF"},
	{"blue", "96FF7800"},
	{"green", "9678FF00"},
	{"orange", "961478FF"},
	{"purple", "96FF7878"},
	{"cyan", "96F0FF14"},
	{"brown", "96143C96"},
	{"dark_green", "96008C14"},
}

// FromRoute builds a document with a folder of stage lines and a folder of points.
func FromRoute(route *plan.Route, pois []poi.POI) Root {
	var styles []*Style
	for _, c := range Colors {
		styles = append(styles, &Style{Id: c.Name, LineStyle: LineStyle{Color: c.Color, Width: 4}})
	}

	stagesFolder := &Folder{Name: "Stages", Visibility: 1, Open: 1}
	for i, s := range route.Stages {
		line := s.Line()
		dist := line.Cumulative()
		for j := range line {
			if len(s.ElevationProfile) > 0 {
				line[j].Ele = elevation.At(s.ElevationProfile, dist[j]).Elevation
			}
		}
		stagesFolder.Placemarks = append(stagesFolder.Placemarks, &Placemark{
			Name:        s.Name,
			Description: fmt.Sprintf("%.2f km, +%d m, -%d m, %d min", s.Distance, s.Ascent, s.Descent, s.EstimatedTime),
			Visibility:  1,
			StyleUrl:    "#" + Colors[i%len(Colors)].Name,
			LineString: &LineString{
				Tessellate:   true,
				AltitudeMode: "clampToGround",
				Coordinates:  LineCoordinates(line),
			},
		})
	}

	pointsFolder := &Folder{Name: "Points", Visibility: 1}
	point := func(name, desc string, lat, lng float64) {
		pointsFolder.Placemarks = append(pointsFolder.Placemarks, &Placemark{
			Name:        name,
			Description: desc,
			Visibility:  1,
			Point:       &Point{Coordinates: PosCoordinates(geo.Pos{Lat: lat, Lon: lng})},
		})
	}
	if len(route.Stages) > 0 {
		point("Start", route.Start().Name, route.Start().Lat, route.Start().Lng)
		for i, b := range route.Boundaries() {
			point(fmt.Sprintf("End of %s", route.Stages[i].Name), b.Name, b.Lat, b.Lng)
		}
		point("End", route.End().Name, route.End().Lat, route.End().Lng)
	}
	for _, p := range pois {
		point(p.Name, p.Category.String(), p.Lat, p.Lng)
	}

	return Root{
		Xmlns: Namespace,
		Document: Document{
			Name:        route.Name,
			Description: fmt.Sprintf("%.2f km, +%d m, -%d m", route.TotalDistance, route.TotalAscent, route.TotalDescent),
			Visibility:  1,
			Open:        1,
			Styles:      styles,
			Folders:     []*Folder{stagesFolder, pointsFolder},
		},
	}
}
