// Package server exposes the cadence engine over HTTP. Every request
// is scoped to an organization via the X-Org-ID header.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/instance"
	"github.com/tablelift/cadence/internal/logging"
	"github.com/tablelift/cadence/internal/sequences"
	"github.com/tablelift/cadence/internal/tasks"
)

const orgHeader = "X-Org-ID"

// Options configures the HTTP server.
type Options struct {
	Addr string

	// DefaultOrg is used when a request carries no X-Org-ID header.
	// Empty means the header is required.
	DefaultOrg string
}

// Server wires the service layer to HTTP routes.
type Server struct {
	opts        Options
	templates   *sequences.Store
	instances   *instance.Service
	tasks       *tasks.Service
	restaurants *db.RestaurantRepository
	logger      zerolog.Logger

	http *http.Server
}

// New creates a Server. Call Run to start serving.
func New(
	opts Options,
	templates *sequences.Store,
	instances *instance.Service,
	taskService *tasks.Service,
	restaurants *db.RestaurantRepository,
) *Server {
	s := &Server{
		opts:        opts,
		templates:   templates,
		instances:   instances,
		tasks:       taskService,
		restaurants: restaurants,
		logger:      logging.Component("server"),
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1", s.requireOrg())

	tpl := api.Group("/templates")
	tpl.POST("", s.createTemplate)
	tpl.GET("", s.listTemplates)
	tpl.GET("/:id", s.getTemplate)
	tpl.PATCH("/:id", s.updateTemplate)
	tpl.DELETE("/:id", s.deleteTemplate)
	tpl.POST("/:id/steps", s.addStep)
	tpl.PATCH("/:id/steps/:stepID", s.updateStep)
	tpl.DELETE("/:id/steps/:stepID", s.deleteStep)
	tpl.PUT("/:id/reorder", s.reorderSteps)

	seq := api.Group("/sequences")
	seq.POST("", s.startSequence)
	seq.GET("/:id", s.getSequence)
	seq.GET("/:id/tasks", s.listSequenceTasks)
	seq.POST("/:id/pause", s.pauseSequence)
	seq.POST("/:id/resume", s.resumeSequence)
	seq.POST("/:id/cancel", s.cancelSequence)

	tk := api.Group("/tasks")
	tk.POST("", s.createTask)
	tk.GET("/:id", s.getTask)
	tk.POST("/:id/complete", s.completeTask)
	tk.POST("/:id/cancel", s.cancelTask)
	tk.DELETE("/:id", s.deleteTask)

	rst := api.Group("/restaurants")
	rst.POST("", s.createRestaurant)
	rst.GET("/:id", s.getRestaurant)
	rst.GET("/:id/tasks", s.listRestaurantTasks)
	rst.GET("/:id/sequences", s.listRestaurantSequences)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("http server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) requireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := c.GetHeader(orgHeader)
		if org == "" {
			org = s.opts.DefaultOrg
		}
		if org == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing " + orgHeader + " header"})
			return
		}
		c.Set("org", org)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func orgID(c *gin.Context) string {
	return c.GetString("org")
}
