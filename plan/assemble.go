package plan

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/dave/hike/globals"
)

type Request struct {
	Name       string     `json:"name"`
	Waypoints  []Waypoint `json:"waypoints"`
	Loop       bool       `json:"loop"`
	StageCount int        `json:"stageCount"`
}

// Span is an inclusive range of indexes.
type Span struct {
	Start, End int
}

// Windows partitions total points into stageCount overlapping windows of ceil(total/stageCount)
// points each. Every window starts on the last point of the previous one. Windows that would hold
// fewer than two points are dropped.
func Windows(total, stageCount int) []Span {
	if stageCount < 1 {
		stageCount = 1
	}
	pointsPerStage := int(math.Ceil(float64(total) / float64(stageCount)))
	var spans []Span
	for k := 0; k < stageCount; k++ {
		start := k * pointsPerStage
		end := start + pointsPerStage
		if end > total-1 {
			end = total - 1
		}
		if end-start < 1 {
			continue
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}

// Assemble builds a complete route. Stages are built one after another and any failure aborts
// the whole route. cache may be nil.
func (p *Planner) Assemble(ctx context.Context, req Request, cache *Cache) (*Route, error) {
	waypoints := Positioned(req.Waypoints)
	if len(waypoints) < 2 {
		return nil, ErrInsufficientWaypoints
	}

	cache.validate(p.profile(), waypoints)

	typ := PointToPoint
	if req.Loop {
		typ = Loop
		waypoints = append(waypoints, waypoints[0])
	}

	windows := Windows(len(waypoints), req.StageCount)
	logf("Assembling %d waypoints into %d stages\n", len(waypoints), len(windows))

	stages := make([]Stage, 0, len(windows))
	for i, w := range windows {
		name := fmt.Sprintf("Stage %d", i+1)
		points := waypoints[w.Start : w.End+1]
		key := legKey(p.profile(), points)
		if s, ok := cache.get(key); ok {
			debugfln("%s: cached", name)
			s.Name = name
			s.ID = stageID(&s)
			if s.Geometry != nil {
				s.Geometry.Properties["name"] = name
			}
			stages = append(stages, s)
			continue
		}
		logf("Building %s from %d waypoints\n", name, len(points))
		s, err := p.BuildStage(ctx, name, points)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", name, err)
		}
		cache.put(key, *s)
		stages = append(stages, *s)
	}

	name := req.Name
	if name == "" {
		name = "Hiking route"
	}
	id := ID("route", p.profile(), waypointsKey(waypoints), req.Loop, req.StageCount)
	return newRoute(id, name, typ, p.profile(), stages), nil
}

func waypointsKey(waypoints []Waypoint) string {
	var sb strings.Builder
	for _, w := range waypoints {
		fmt.Fprintf(&sb, "%v,%v;", w.Lat, w.Lng)
	}
	return sb.String()
}

func legKey(profile globals.Profile, points []Waypoint) string {
	return string(profile) + "|" + waypointsKey(points)
}

// Cache keeps built stages keyed by profile and leg. It is emptied whenever it is used with a
// different profile or waypoint set than last time. A nil *Cache is valid and caches nothing.
type Cache struct {
	mu        sync.Mutex
	signature string
	stages    map[string]Stage
}

func NewCache() *Cache {
	return &Cache{stages: map[string]Stage{}}
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stages)
}

func (c *Cache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signature = ""
	c.stages = map[string]Stage{}
}

func (c *Cache) validate(profile globals.Profile, waypoints []Waypoint) {
	if c == nil {
		return
	}
	signature := legKey(profile, waypoints)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signature != signature {
		if c.signature != "" {
			debugfln("cache: waypoints or profile changed, dropping %d stages", len(c.stages))
		}
		c.signature = signature
		c.stages = map[string]Stage{}
	}
}

func (c *Cache) get(key string) (Stage, bool) {
	if c == nil {
		return Stage{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stages[key]
	if !ok {
		return Stage{}, false
	}
	return s.clone(), true
}

func (c *Cache) put(key string, s Stage) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stages == nil {
		c.stages = map[string]Stage{}
	}
	c.stages[key] = s.clone()
}
