package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/globals"
	"github.com/dave/hike/poi"
	"github.com/dave/hike/routing"
	"github.com/joho/godotenv"
)

// Config holds the service endpoints and keys, read from the environment.
type Config struct {
	RoutingURL   string
	RoutingKey   string
	ElevationURL string
	OverpassURL  string
	Profile      globals.Profile
	Addr         string
	RadiusKm     float64
}

// Load reads the given .env files (".env" when none are given) into the environment and then
// reads the config. Missing files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("loading %q: %w", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	c := Config{
		RoutingURL:   getEnvOrDefault("ORS_URL", routing.DefaultURL),
		RoutingKey:   os.Getenv("ORS_API_KEY"),
		ElevationURL: getEnvOrDefault("ELEVATION_URL", elevation.DefaultURL),
		OverpassURL:  getEnvOrDefault("OVERPASS_URL", poi.DefaultURL),
		Profile:      globals.Profile(getEnvOrDefault("HIKE_PROFILE", string(globals.FootHiking))),
		Addr:         getEnvOrDefault("HIKE_ADDR", ":8080"),
		RadiusKm:     2,
	}
	if !c.Profile.Valid() {
		return Config{}, fmt.Errorf("unknown profile %q", c.Profile)
	}
	if s := os.Getenv("HIKE_POI_RADIUS_KM"); s != "" {
		r, err := strconv.ParseFloat(s, 64)
		if err != nil || r < 0 {
			return Config{}, fmt.Errorf("invalid HIKE_POI_RADIUS_KM %q", s)
		}
		c.RadiusKm = r
	}
	return c, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
