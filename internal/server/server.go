// Package server exposes a case session over HTTP: JSON control endpoints
// and a server-sent event stream of the session's events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/rescale/ventsim/internal/constants"
	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/export"
	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/pipeline"
)

// Config holds server configuration.
type Config struct {
	Bind string
	Port int
	// RunRate limits stage run requests per second. Zero uses
	// constants.RunRequestRate.
	RunRate float64
	// KeepAlive is the idle interval of event stream comments. Zero uses
	// constants.SSEKeepAlive.
	KeepAlive time.Duration
}

// Options are the session objects the server drives.
type Options struct {
	Controller *pipeline.Controller
	EventBus   *events.EventBus
	// Store receives exports. Nil disables POST /api/export.
	Store export.Store
	// ObjectKey maps an archive name to the key it is stored under.
	ObjectKey func(name string) string
	Logger    *logging.Logger
}

// Server wraps the HTTP server and router.
type Server struct {
	cfg       Config
	ctrl      *pipeline.Controller
	bus       *events.EventBus
	store     export.Store
	objectKey func(string) string
	limiter   *rate.Limiter
	logger    *logging.Logger
	router    *chi.Mux
}

// New returns an initialized server.
func New(cfg Config, opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("server requires a controller")
	}
	if cfg.Bind == "" {
		cfg.Bind = constants.DefaultBindAddress
	}
	if cfg.RunRate <= 0 {
		cfg.RunRate = constants.RunRequestRate
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = constants.SSEKeepAlive
	}
	objectKey := opts.ObjectKey
	if objectKey == nil {
		objectKey = func(name string) string { return name }
	}

	s := &Server{
		cfg:       cfg,
		ctrl:      opts.Controller,
		bus:       opts.EventBus,
		store:     opts.Store,
		objectKey: objectKey,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RunRate), 1),
		logger:    logging.OrNop(opts.Logger).Component("server"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(s.accessLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/parameters", s.handleGetParameters)
		r.Put("/parameters", s.handlePutParameters)
		r.Put("/geometry", s.handlePutGeometry)
		r.Delete("/geometry", s.handleDeleteGeometry)
		r.Get("/stages/{stage}", s.handleReadiness)
		r.With(s.rateLimited).Post("/stages/{stage}/run", s.handleRun)
		r.Put("/cut-plane", s.handleCutPlane)
		r.Post("/export", s.handleExport)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Router returns the underlying router, useful for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the access logger.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("remote", r.RemoteAddr).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("too many run requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Bind, fmt.Sprint(s.cfg.Port))
}

// Start serves until ctx is done, then shuts down gracefully. Event streams
// end when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("Server stopped")
	return nil
}
