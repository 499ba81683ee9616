package profile

import (
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"

	"github.com/dave/hike/plan"
	"github.com/fogleman/gg"
)

const (
	Width  = 1000
	Height = 300

	marginLeft   = 60
	marginRight  = 20
	marginTop    = 24
	marginBottom = 30
)

var ErrNoProfile = errors.New("route has no elevation profile")

// yRange is the elevation span of the chart: at least 50 m, padded by a tenth on each side.
func yRange(lo, hi float64) (min, max float64) {
	if hi-lo < 50 {
		mid := (hi + lo) / 2
		lo, hi = mid-25, mid+25
	}
	pad := (hi - lo) * 0.1
	return lo - pad, hi + pad
}

// Render draws the elevation profile of the route with a marker at each stage boundary.
func Render(route *plan.Route, width, height int) (*gg.Context, error) {
	if width <= 0 {
		width = Width
	}
	if height <= 0 {
		height = Height
	}
	points := route.ElevationProfile()
	if len(points) < 2 {
		return nil, ErrNoProfile
	}
	total := points[len(points)-1].Distance
	if total <= 0 {
		return nil, ErrNoProfile
	}
	min, max := yRange(route.MinElevation, route.MaxElevation)

	plotW := float64(width - marginLeft - marginRight)
	plotH := float64(height - marginTop - marginBottom)
	x := func(km float64) float64 { return marginLeft + km/total*plotW }
	y := func(m float64) float64 { return marginTop + (max-m)/(max-min)*plotH }
	base := y(min)

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.MoveTo(x(0), base)
	for _, p := range points {
		dc.LineTo(x(p.Distance), y(p.Elevation))
	}
	dc.LineTo(x(total), base)
	dc.ClosePath()
	dc.SetRGBA(0.2, 0.5, 0.2, 0.35)
	dc.Fill()

	dc.SetLineWidth(2)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	dc.SetRGB(0.1, 0.35, 0.1)
	for i, p := range points {
		if i == 0 {
			dc.MoveTo(x(p.Distance), y(p.Elevation))
			continue
		}
		dc.LineTo(x(p.Distance), y(p.Elevation))
	}
	dc.Stroke()

	// stage boundaries
	line, starts := route.Line()
	dist := line.Cumulative()
	dc.SetLineWidth(1)
	dc.SetDash(4, 4)
	dc.SetRGB(0.3, 0.3, 0.6)
	for i, s := range route.Stages {
		from := 0.0
		if starts[i] < len(dist) {
			from = dist[starts[i]]
		}
		if i > 0 {
			dc.DrawLine(x(from), marginTop, x(from), base)
			dc.Stroke()
		}
		dc.DrawStringAnchored(s.Name, x(from)+4, marginTop-6, 0, 0)
	}
	dc.SetDash()

	// axes
	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1)
	dc.DrawLine(marginLeft, marginTop, marginLeft, base)
	dc.DrawLine(marginLeft, base, marginLeft+plotW, base)
	dc.Stroke()
	dc.DrawStringAnchored("0 km", x(0), base+14, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.1f km", total), x(total), base+14, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.0f m", route.MaxElevation), marginLeft-6, y(route.MaxElevation), 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.0f m", route.MinElevation), marginLeft-6, y(route.MinElevation), 1, 0.5)

	return dc, nil
}

func Encode(w io.Writer, route *plan.Route, width, height int) error {
	dc, err := Render(route, width, height)
	if err != nil {
		return err
	}
	if err := png.Encode(w, dc.Image()); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

func Save(fpath string, route *plan.Route, width, height int) error {
	file, err := os.Create(fpath)
	if err != nil {
		return fmt.Errorf("creating %q: %w", fpath, err)
	}
	defer file.Close()
	return Encode(file, route, width, height)
}
