package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dave/hike/config"
	"github.com/dave/hike/elevation"
	"github.com/dave/hike/globals"
	"github.com/dave/hike/gpx"
	"github.com/dave/hike/kml"
	"github.com/dave/hike/plan"
	"github.com/dave/hike/poi"
	"github.com/dave/hike/profile"
	"github.com/dave/hike/routing"
	"github.com/dave/hike/server"
)

func main() {
	if err := Main(); err != nil {
		log.Fatalf("%v", err)
	}
}

func Main() error {

	waypoints := flag.String("waypoints", "", "gpx or kml file with the waypoints to plan through")
	stages := flag.Int("stages", 1, "number of stages")
	loop := flag.Bool("loop", false, "return to the first waypoint")
	prof := flag.String("profile", "", "routing profile (foot-hiking, foot-walking, cycling-mountain)")
	output := flag.String("output", "./route.gpx", "output file (.gpx, .kml, .png or .json)")
	name := flag.String("name", "", "route name")
	pois := flag.Bool("pois", false, "look up refuges, water and peaks along the route")
	radius := flag.Float64("radius", 0, "POI search radius in km")
	split := flag.Bool("split", false, "one gpx track per stage")
	ele := flag.Bool("ele", false, "lookup elevations from SRTM tiles instead of the elevation service")
	serve := flag.Bool("serve", false, "run the http api")
	env := flag.String("env", ".env", "env file")
	version := flag.Bool("version", false, "show version")
	flag.BoolVar(&globals.LOG, "log", true, "log progress")
	flag.BoolVar(&globals.DEBUG, "debug", false, "debug logging")
	flag.Parse()

	if *version {
		fmt.Println(globals.VERSION)
		return nil
	}

	cfg, err := config.Load(*env)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *prof != "" {
		cfg.Profile = globals.Profile(*prof)
		if !cfg.Profile.Valid() {
			return fmt.Errorf("unknown profile %q", *prof)
		}
	}
	if *radius > 0 {
		cfg.RadiusKm = *radius
	}

	planner, err := newPlanner(cfg, *ele)
	if err != nil {
		return err
	}
	finder := poi.NewFinder(cfg.OverpassURL, nil)

	if *serve {
		logf("Listening on %s\n", cfg.Addr)
		return server.New(planner, finder, cfg.RadiusKm).Run(cfg.Addr)
	}

	if *waypoints == "" {
		return errors.New("-waypoints is required unless -serve is set")
	}
	points, err := loadWaypoints(*waypoints)
	if err != nil {
		return fmt.Errorf("loading waypoints: %w", err)
	}
	logf("Loaded %d waypoints from %s\n", len(points), *waypoints)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	route, err := planner.Assemble(ctx, plan.Request{
		Name:       *name,
		Waypoints:  points,
		Loop:       *loop,
		StageCount: *stages,
	}, nil)
	if err != nil {
		return fmt.Errorf("assembling route: %s: %w", plan.UserMessage(err), err)
	}
	if len(route.Stages) < *stages {
		if route, err = planner.Restage(ctx, route, *stages); err != nil {
			return fmt.Errorf("dividing route: %w", err)
		}
	}
	for _, s := range route.Stages {
		logf("%s: %.2f km, +%d m -%d m, %d min\n", s.Name, s.Distance, s.Ascent, s.Descent, s.EstimatedTime)
	}
	logf("Total: %.2f km, +%d m -%d m\n", route.TotalDistance, route.TotalAscent, route.TotalDescent)

	var found []poi.POI
	if *pois {
		line, _ := route.Line()
		m, err := finder.Collect(ctx, poi.Around(line, cfg.RadiusKm))
		if err != nil {
			if !errors.Is(err, poi.ErrPartial) {
				return fmt.Errorf("finding pois: %w", err)
			}
			logln("Warning:", err)
		}
		found = poi.All(m)
		logf("Found %d POIs\n", len(found))
	}

	if err := save(*output, route, found, *split); err != nil {
		return fmt.Errorf("saving %q: %w", *output, err)
	}
	logln("Saved", *output)
	return nil
}

func newPlanner(cfg config.Config, srtm bool) (*plan.Planner, error) {
	p := &plan.Planner{Profile: cfg.Profile}
	if cfg.RoutingKey != "" {
		p.Router = routing.NewClient(cfg.RoutingURL, cfg.RoutingKey)
	} else {
		logln("No ORS_API_KEY set, joining waypoints with straight lines")
		p.Router = routing.Straight{}
	}
	if srtm {
		svc, err := elevation.NewSRTMService(http.DefaultClient)
		if err != nil {
			return nil, fmt.Errorf("creating srtm client: %w", err)
		}
		p.Elevation = svc
	} else {
		p.Elevation = elevation.NewHTTPService(cfg.ElevationURL)
	}
	return p, nil
}

func loadWaypoints(fpath string) ([]plan.Waypoint, error) {
	switch strings.ToLower(filepath.Ext(fpath)) {
	case ".kml":
		root, err := kml.Load(fpath)
		if err != nil {
			return nil, err
		}
		return root.Waypoints(), nil
	default:
		res, err := gpx.ParseFile(fpath)
		if err != nil {
			return nil, err
		}
		if res.Empty() {
			return nil, fmt.Errorf("%q has no waypoints, tracks or routes", fpath)
		}
		return res.ToWaypoints(gpx.DefaultCap), nil
	}
}

func save(fpath string, route *plan.Route, pois []poi.POI, split bool) error {
	switch strings.ToLower(filepath.Ext(fpath)) {
	case ".kml":
		return kml.FromRoute(route, pois).Save(fpath)
	case ".png":
		return profile.Save(fpath, route, 0, 0)
	case ".json":
		b, err := json.MarshalIndent(route, "", "\t")
		if err != nil {
			return err
		}
		return os.WriteFile(fpath, b, 0666)
	default:
		opts := gpx.DefaultOptions()
		opts.SplitStages = split
		return gpx.Save(fpath, route, pois, opts)
	}
}

func logln(a ...interface{}) {
	if globals.LOG {
		fmt.Println(a...)
	}
}

func logf(format string, a ...interface{}) {
	if globals.LOG {
		fmt.Printf(format, a...)
	}
}
