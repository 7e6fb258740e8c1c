// Package api implements the HTTP serving loop: a gin router in front of the
// action queue plus health, metrics and process introspection probes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/openinbox/inboxd/internal/config"
	"github.com/openinbox/inboxd/internal/metrics"
	"github.com/openinbox/inboxd/internal/storage"
	"github.com/openinbox/inboxd/pkg/logger"
)

// ErrBind marks a failure to bind the configured port. Matched with
// errors.Is.
var ErrBind = errors.New("bind failed")

// Server owns the blocking accept-and-dispatch loop.
type Server struct {
	port          int
	engine        *gin.Engine
	log           *logger.Logger
	settings      config.APISettings
	shutdownGrace time.Duration
}

// New builds the router and middleware chain. Nothing binds until Run.
func New(port int, store storage.ActionStore, settings config.APISettings, prod bool, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("api")
	}
	if prod {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(RequestLogger(log))
	engine.Use(metrics.Handler())
	engine.Use(RateLimit(rate.NewLimiter(rate.Limit(settings.RateLimit), settings.RateBurst)))

	s := &Server{
		port:          port,
		engine:        engine,
		log:           log,
		settings:      settings,
		shutdownGrace: settings.ShutdownGrace.Std(),
	}

	h := newHandler(store)
	engine.GET("/health", h.health)
	engine.GET("/metrics", metrics.Exposer())
	engine.GET("/sys/stats", h.sysStats)

	scoped := engine.Group("/actions", NamespaceAuth())
	scoped.POST("", h.createAction)
	scoped.GET("", h.listActions)
	scoped.GET("/:id", h.getAction)
	scoped.POST("/:id/retry", h.retryAction)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run binds the configured port and blocks serving requests until the
// listener fails or ctx is cancelled. Cancellation triggers a graceful
// shutdown and Run returns nil once in-flight requests drain.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, addr, err)
	}

	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.settings.ReadTimeout.Std(),
		WriteTimeout: s.settings.WriteTimeout.Std(),
		IdleTimeout:  s.settings.IdleTimeout.Std(),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-runCtx.Done()
		grace := s.shutdownGrace
		if grace <= 0 {
			grace = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("server shutdown")
		}
	}()

	s.log.WithField("addr", addr).Info("serving loop listening")
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return err
}
