// Package debugapi exposes a small read-only Gin HTTP surface for
// operational introspection — the ring, in-flight requests, and the
// pending handoff queue. It never mutates cluster state; all mutation
// happens over the TCP wire protocol in internal/transport.
package debugapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dynamokv/internal/ring"
	"dynamokv/internal/wire"
)

// Handoff is the subset of handoff.Manager the debug API reads from.
type Handoff interface {
	Len() int
	Snapshot() map[string][]wire.StoreFile
}

// OngoingLister is the subset of coordinator.Coordinator the debug API
// reads from.
type OngoingLister interface {
	OngoingCount() int
}

// Server wraps a Gin engine serving the debug endpoints.
type Server struct {
	engine   *gin.Engine
	selfHost string
	ring     *ring.Ring
	handoff  Handoff
	ongoing  OngoingLister
	started  time.Time
}

// New builds the debug server for selfHost. ongoing/handoff may be nil
// if a particular node wiring doesn't have one wired up yet — handlers
// degrade gracefully.
func New(selfHost string, r *ring.Ring, ho Handoff, oc OngoingLister) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(hostLogger(selfHost), hostRecovery(selfHost))

	s := &Server{engine: engine, selfHost: selfHost, ring: r, handoff: ho, ongoing: oc, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/ring", s.handleRing)
	s.engine.GET("/ongoing-requests", s.handleOngoing)
	s.engine.GET("/handoff-queue", s.handleHandoffQueue)
}

// Run blocks serving on addr.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"host":   s.selfHost,
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleRing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"members": s.ring.Members(),
	})
}

func (s *Server) handleOngoing(c *gin.Context) {
	count := 0
	if s.ongoing != nil {
		count = s.ongoing.OngoingCount()
	}
	c.JSON(http.StatusOK, gin.H{"ongoing_requests": count})
}

func (s *Server) handleHandoffQueue(c *gin.Context) {
	if s.handoff == nil {
		c.JSON(http.StatusOK, gin.H{"queued": 0, "by_host": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queued":  s.handoff.Len(),
		"by_host": s.handoff.Snapshot(),
	})
}
