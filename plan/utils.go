package plan

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/globals"
	"github.com/dave/hike/routing"
)

var ErrInsufficientWaypoints = errors.New("at least two positioned waypoints are required")

// UserMessage turns an error from the planner into text that can be shown to a hiker.
func UserMessage(err error) string {
	var se *routing.ServiceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientWaypoints):
		return "Add at least two waypoints on the map to plan a route."
	case errors.As(err, &se):
		return se.UserMessage()
	case errors.Is(err, elevation.ErrLookup):
		return "Elevation data could not be loaded. Try again later."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request took too long. Try again with fewer waypoints."
	}
	return "Remote error: " + err.Error()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
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

func debugfln(format string, a ...interface{}) {
	if globals.DEBUG {
		fmt.Printf(format+"\n", a...)
	}
}
