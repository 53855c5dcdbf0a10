// Package server exposes the page store over HTTP: page and artifact reads,
// location management, invalidation, update triggers and a websocket event
// stream. Every handler touches store state through the event loop.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/smileynet/vizcache/internal/events"
	"github.com/smileynet/vizcache/internal/logging"
	"github.com/smileynet/vizcache/internal/pipeline"
	"github.com/smileynet/vizcache/internal/viewmodel"
)

// Runner executes fn on the event loop and waits for it. *loop.Loop satisfies it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// Options configures the server.
type Options struct {
	AllowedOrigins []string
	GlobalLabel    string
	Logger         *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	store    *viewmodel.Store
	run      Runner
	bus      *events.Bus
	opts     Options
	logger   *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// New builds the API for store. bus is the store's event bus.
func New(store *viewmodel.Store, run Runner, opts Options) *Server {
	s := &Server{
		store:  store,
		run:    run,
		bus:    store.Bus(),
		opts:   opts,
		logger: logging.For(opts.Logger, logging.ChannelHTTP),
	}
	if s.opts.GlobalLabel == "" {
		s.opts.GlobalLabel = "Global"
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
			MaxAge:       12 * time.Hour,
		}))
	}

	api := r.Group("/api")
	api.GET("/health", s.health)
	api.GET("/pages", s.listPages)
	api.GET("/pages/:location", s.getPage)
	api.GET("/artifacts/:location/:object/image", s.getImage)
	api.GET("/artifacts/:location/:object/text", s.getText)
	api.GET("/artifacts/:location/:object/label", s.getLabel)
	api.GET("/locations", s.getLocations)
	api.PUT("/locations", s.putLocations)
	api.DELETE("/locations/:location", s.deleteLocation)
	api.PUT("/current", s.putCurrent)
	api.POST("/invalidate", s.invalidate)
	api.POST("/update", s.update)
	api.GET("/events", s.streamEvents)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// onLoop runs fn on the event loop, answering 503 when the loop is gone.
func (s *Server) onLoop(c *gin.Context, fn func()) bool {
	if err := s.run.Do(c.Request.Context(), fn); err != nil {
		s.logger.Warn("event loop unavailable", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event loop unavailable"})
		return false
	}
	return true
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// queueJSON is the processing queue snapshot reported by health.
type queueJSON struct {
	State     pipeline.State `json:"state"`
	Current   string         `json:"current,omitempty"`
	Pending   int            `json:"pending"`
	InFlight  int            `json:"in_flight"`
	Abandoned int            `json:"abandoned"`
	Paused    bool           `json:"paused"`
}

func (s *Server) health(c *gin.Context) {
	var busy, updating bool
	var queue queueJSON
	if !s.onLoop(c, func() {
		busy = s.store.Busy()
		updating = s.store.IsUpdating()
		q := s.store.Queue()
		queue = queueJSON{
			State:     q.State(),
			Pending:   len(q.Pending()),
			InFlight:  q.InFlight(),
			Abandoned: q.Abandoned(),
			Paused:    q.IsPaused(),
		}
		if p := q.Current(); p != nil {
			queue.Current = p.Location
		}
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "busy": busy, "updating": updating, "queue": queue})
}
