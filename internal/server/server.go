// Package server is the HTTP surface of rtdbuild: webhook and manual build
// triggers, the build status and resolver API, documentation serving and
// Prometheus metrics.
package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/orchestrator"
	"git.home.luguber.info/inful/rtdbuild/internal/serve"
	"git.home.luguber.info/inful/rtdbuild/internal/server/middleware"
)

const maxPayload = 5 << 20

// Store is the read side the API needs.
type Store interface {
	GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error)
	GetBuild(ctx context.Context, id string) (*models.Build, error)
	ListBuilds(ctx context.Context, projectID int64, limit int) ([]*models.Build, error)
	ListBuildEvents(ctx context.Context, buildID string) ([]models.BuildEvent, error)
	Ping(ctx context.Context) error
}

// Jobs exposes queued build jobs.
type Jobs interface {
	JobSnapshot(id string) (*orchestrator.Job, bool)
	Length() int
}

// Deps wires the server. Hosts and Gatherer are optional.
type Deps struct {
	HTTP     config.HTTPConfig
	Store    Store
	Trigger  *orchestrator.Trigger
	Jobs     Jobs
	Resolver *serve.Resolver
	Hosts    *serve.Hosts
	Gatherer prom.Gatherer
	Logger   *slog.Logger
}

// Server represents the HTTP server.
type Server struct {
	deps   Deps
	router *chi.Mux
	server *http.Server
	errs   *errors.HTTPErrorAdapter
}

// New builds the router. Start binds the listener.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		router: chi.NewRouter(),
		errs:   errors.NewHTTPErrorAdapter(deps.Logger),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              deps.HTTP.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Chain(s.deps.Logger, s.errs))
	s.router.Use(s.hostRouting)

	s.router.Get("/health", s.handleHealth)

	s.router.Post("/github", s.handleGitHub)
	s.router.Post("/bitbucket", s.handleBitbucket)
	s.router.Post("/build/{project}", s.handleBuildProject)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/builds/{id}", s.handleGetBuild)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/projects/{slug}/builds", s.handleListBuilds)
		r.Get("/projects/{slug}/versions", s.handleListVersions)
		r.Get("/resolve", s.handleResolve)
		r.Get("/version_compare/{project}/{version}", s.handleVersionCompare)
	})

	s.router.Get("/docs/{project}", s.handleDocs)
	s.router.Get("/docs/{project}/*", s.handleDocs)

	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", metrics.HTTPHandler(s.deps.Gatherer))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener and serves in the background. Bind errors are
// returned immediately.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return errors.WrapError(err, errors.CategoryNetwork, "failed to bind HTTP listener").
			WithContext("addr", s.server.Addr).
			Build()
	}
	s.server.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }
	slog.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", logfields.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// user is the authenticated username set by the fronting proxy.
func (s *Server) user(r *http.Request) string {
	if s.deps.HTTP.TrustedUserHeader == "" {
		return ""
	}
	return r.Header.Get(s.deps.HTTP.TrustedUserHeader)
}
