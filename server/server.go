package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dave/hike/elevation"
	"github.com/dave/hike/globals"
	"github.com/dave/hike/gpx"
	"github.com/dave/hike/plan"
	"github.com/dave/hike/poi"
	"github.com/dave/hike/profile"
	"github.com/dave/hike/routing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SessionHeader names the header that selects a per-client leg cache.
const SessionHeader = "X-Session-ID"

const (
	DefaultMaxSessions = 256
	DefaultSessionTTL  = 30 * time.Minute

	// MaxUpload limits the size of an imported GPX document.
	MaxUpload = 16 << 20
	// MaxImageSize limits each side of a rendered profile.
	MaxImageSize = 4000
)

type Server struct {
	Planner  *plan.Planner
	POI      *poi.Finder
	RadiusKm float64

	// MaxSessions and SessionTTL bound the leg caches kept for clients. A cache unused for
	// SessionTTL is dropped, and the least recently used one goes when MaxSessions is reached.
	MaxSessions int
	SessionTTL  time.Duration

	now    func() time.Time
	mu     sync.Mutex
	caches map[string]*session
}

type session struct {
	cache *plan.Cache
	used  time.Time
}

func New(planner *plan.Planner, finder *poi.Finder, radiusKm float64) *Server {
	return &Server{
		Planner:     planner,
		POI:         finder,
		RadiusKm:    radiusKm,
		MaxSessions: DefaultMaxSessions,
		SessionTTL:  DefaultSessionTTL,
		now:         time.Now,
		caches:      map[string]*session{},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", SessionHeader}
	r.Use(cors.New(config))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": globals.VERSION})
	})

	api := r.Group("/api")
	api.POST("/routes", s.handleAssemble)
	api.POST("/routes/divide", s.handleDivide)
	api.POST("/routes/pois", s.handlePOIs)
	api.POST("/routes/profile.png", s.handleProfile)
	api.POST("/gpx/import", s.handleImport)
	api.POST("/gpx/export", s.handleExport)
	return r
}

func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *Server) cache(c *gin.Context) *plan.Cache {
	id := c.GetHeader(SessionHeader)
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if sess, ok := s.caches[id]; ok && (s.SessionTTL <= 0 || now.Sub(sess.used) <= s.SessionTTL) {
		sess.used = now
		return sess.cache
	}
	s.evict(now)
	sess := &session{cache: plan.NewCache(), used: now}
	s.caches[id] = sess
	return sess.cache
}

// evict drops expired sessions, then the least recently used ones until there is room for one
// more. s.mu must be held.
func (s *Server) evict(now time.Time) {
	for id, sess := range s.caches {
		if s.SessionTTL > 0 && now.Sub(sess.used) > s.SessionTTL {
			sess.cache.Reset()
			delete(s.caches, id)
		}
	}
	for s.MaxSessions > 0 && len(s.caches) >= s.MaxSessions {
		var oldest string
		for id, sess := range s.caches {
			if oldest == "" || sess.used.Before(s.caches[oldest].used) {
				oldest = id
			}
		}
		s.caches[oldest].cache.Reset()
		delete(s.caches, oldest)
	}
}

// Sessions is the number of leg caches currently held.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.caches)
}

func (s *Server) handleAssemble(c *gin.Context) {
	var req plan.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.StageCount < 1 {
		req.StageCount = 1
	}
	route, err := s.Planner.Assemble(c.Request.Context(), req, s.cache(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, route)
}

type divideRequest struct {
	Route      *plan.Route `json:"route"`
	StageCount int         `json:"stageCount"`
}

func (s *Server) handleDivide(c *gin.Context) {
	var req divideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !validRoute(c, req.Route) {
		return
	}
	route, err := s.Planner.Restage(c.Request.Context(), req.Route, req.StageCount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, route)
}

type poiRequest struct {
	Route    *plan.Route `json:"route"`
	RadiusKm float64     `json:"radiusKm"`
	Kinds    []poi.Kind  `json:"kinds"`
}

type poiResponse struct {
	POIs    map[poi.Kind][]poi.POI `json:"pois"`
	Warning string                 `json:"warning,omitempty"`
}

func (s *Server) handlePOIs(c *gin.Context) {
	var req poiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !validRoute(c, req.Route) {
		return
	}
	if s.POI == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "POI lookup is not configured"})
		return
	}
	radius := req.RadiusKm
	if radius <= 0 {
		radius = s.RadiusKm
	}
	line, _ := req.Route.Line()
	pois, err := s.POI.Collect(c.Request.Context(), poi.Around(line, radius), req.Kinds...)
	resp := poiResponse{POIs: pois}
	if err != nil {
		if !errors.Is(err, poi.ErrPartial) {
			fail(c, err)
			return
		}
		resp.Warning = poi.ErrPartial.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProfile(c *gin.Context) {
	var route plan.Route
	if err := c.ShouldBindJSON(&route); err != nil {
		badRequest(c, err)
		return
	}
	if !validRoute(c, &route) {
		return
	}
	width, _ := strconv.Atoi(c.DefaultQuery("width", "0"))
	height, _ := strconv.Atoi(c.DefaultQuery("height", "0"))
	if width < 0 || height < 0 || width > MaxImageSize || height > MaxImageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("width and height must be between 0 and %d", MaxImageSize)})
		return
	}
	var buf bytes.Buffer
	if err := profile.Encode(&buf, &route, width, height); err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

type importResponse struct {
	Result    *gpx.Result     `json:"result"`
	Waypoints []plan.Waypoint `json:"waypoints"`
}

// handleImport accepts the document either as a multipart "file" field or as the raw body.
func (s *Server) handleImport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUpload)
	var r io.Reader = c.Request.Body
	if c.ContentType() == "multipart/form-data" {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, err)
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, err)
			return
		}
		defer f.Close()
		r = f
	}
	res, err := gpx.Parse(r)
	if err != nil {
		fail(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("cap", strconv.Itoa(gpx.DefaultCap)))
	c.JSON(http.StatusOK, importResponse{Result: res, Waypoints: res.ToWaypoints(limit)})
}

type exportRequest struct {
	Route   *plan.Route  `json:"route"`
	POIs    []poi.POI    `json:"pois"`
	Options *gpx.Options `json:"options"`
}

func (s *Server) handleExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !validRoute(c, req.Route) {
		return
	}
	opts := gpx.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	var buf bytes.Buffer
	if err := gpx.Export(&buf, req.Route, req.POIs, opts); err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename(req.Route.Name)))
	c.Data(http.StatusOK, "application/gpx+xml", buf.Bytes())
}

func validRoute(c *gin.Context, route *plan.Route) bool {
	if route == nil || len(route.Stages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a route with at least one stage is required"})
		return false
	}
	return true
}

func filename(name string) string {
	out := []rune{}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "route.gpx"
	}
	return string(out) + ".gpx"
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
}

func fail(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(Status(err), gin.H{"error": Message(err)})
}

// Status is the http status for an error from the planner.
func Status(err error) int {
	var se *routing.ServiceError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, plan.ErrInsufficientWaypoints),
		errors.Is(err, gpx.ErrMalformed),
		errors.Is(err, gpx.ErrNotGPX):
		return http.StatusBadRequest
	case errors.Is(err, profile.ErrNoProfile):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		switch se.Kind {
		case routing.BadRequest, routing.NoRoute:
			return http.StatusUnprocessableEntity
		case routing.Unreachable:
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case errors.Is(err, elevation.ErrLookup):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Message is the text shown to the user for an error.
func Message(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return "This file is too large to import."
	case errors.Is(err, gpx.ErrNotGPX):
		return "This file is not a GPX document."
	case errors.Is(err, gpx.ErrMalformed):
		return "This GPX file is damaged and could not be read."
	case errors.Is(err, profile.ErrNoProfile):
		return "This route has no elevation profile to draw."
	}
	return plan.UserMessage(err)
}
