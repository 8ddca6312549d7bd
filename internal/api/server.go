// Package api serves the gateway's HTTP interface: session status, capture
// listing, capture schedule changes, the stored images and Prometheus
// metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chaz8081/capture-gateway/internal/capture"
	"github.com/chaz8081/capture-gateway/internal/session"
	"github.com/chaz8081/capture-gateway/internal/settings"
)

// Gateway is the session as seen by the API.
type Gateway interface {
	Snapshot() session.Snapshot
	Settings() settings.Command
	SubmitConfig(cmd settings.Command) error
}

// CaptureLister lists stored captures newest first.
type CaptureLister interface {
	ListCaptures(ctx context.Context, limit, offset int) ([]*capture.Record, int64, error)
}

// Options configures the optional parts of the server.
type Options struct {
	// ImageDir is served under ImagePrefix when set.
	ImageDir string
	// ImagePrefix is the URL path images are served from, e.g. "/imgs".
	ImagePrefix string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// RESTServer represents the REST API server
type RESTServer struct {
	gateway  Gateway
	captures CaptureLister
	opts     Options
	router   chi.Router
	server   *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(gw Gateway, captures CaptureLister, opts Options) *RESTServer {
	if opts.ImagePrefix == "" {
		opts.ImagePrefix = "/imgs"
	}
	opts.ImagePrefix = "/" + strings.Trim(opts.ImagePrefix, "/")

	s := &RESTServer{
		gateway:  gw,
		captures: captures,
		opts:     opts,
		router:   chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Total-Count"},
		MaxAge:         300,
	}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.HandleStatus)
		r.Get("/captures", s.HandleListCaptures)
		r.Get("/settings", s.HandleGetSettings)
		r.Post("/settings", s.HandleUpdateSettings)
	})

	if s.opts.ImageDir != "" {
		prefix := s.opts.ImagePrefix + "/"
		s.router.Handle(prefix+"*", http.StripPrefix(prefix, http.FileServer(http.Dir(s.opts.ImageDir))))
	}

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	slog.Info("[API] listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
