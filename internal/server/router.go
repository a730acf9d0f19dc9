package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vidforge/devsup/internal/metrics"
	"github.com/vidforge/devsup/internal/supervisor"
)

// Router exposes the supervisor over HTTP for the dashboard to poll.
// Endpoints (all read-only):
//
//	GET {basePath}/status         all services
//	GET {basePath}/status?name=x  one service
//	GET /healthz                  liveness of this server
//	GET /metrics                  Prometheus metrics
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a Router. basePath may be empty or start with '/';
// no trailing slash.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "message": "devsup supervisor is running"})
	})
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusOK, r.sup.Status())
		return
	}
	spec, ok := r.sup.Registry().Find(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown service: " + name})
		return
	}
	c.JSON(http.StatusOK, r.sup.StatusOf(&spec))
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) *http.Server {
	r := NewRouter(sup, basePath)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func sanitizeBase(basePath string) string {
	if basePath == "" {
		return ""
	}
	if basePath[0] != '/' {
		basePath = "/" + basePath
	}
	for len(basePath) > 1 && basePath[len(basePath)-1] == '/' {
		basePath = basePath[:len(basePath)-1]
	}
	return basePath
}
