package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/common"
	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/health"
	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/oauth"
	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/proxy"
	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/session"
	"github.com/wrale/discogs-device-broker/internal/deviceflow"
	"github.com/wrale/discogs-device-broker/internal/search"
	"github.com/wrale/discogs-device-broker/internal/templates"
)

type server struct {
	cfg        Config
	router     *chi.Mux
	flow       deviceflow.Flow
	search     *search.Proxy
	templates  *templates.Templates
	clientAuth *common.ClientAuth
	checks     map[string]health.Checker
	logger     *slog.Logger
}

func newServer(cfg Config, flow deviceflow.Flow, searchProxy *search.Proxy, checks map[string]health.Checker, logger *slog.Logger) (*server, error) {
	tmpls, err := templates.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	srv := &server{
		cfg:        cfg,
		router:     chi.NewRouter(),
		flow:       flow,
		search:     searchProxy,
		templates:  tmpls,
		clientAuth: common.NewClientAuth(cfg.ClientToken, cfg.AllowUnauthClient),
		checks:     checks,
		logger:     logger,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(cfg.RequestTimeout))

	srv.routes()

	return srv, nil
}

func (s *server) routes() {
	healthHandler := health.New(s.checks, s.clientAuth.Posture()).
		WithVersion(Version).
		WithLogger(s.logger)
	s.router.Method(http.MethodGet, "/health", healthHandler)
	s.router.Method(http.MethodGet, "/v1/health", healthHandler)

	sessions := session.New(session.Config{Flow: s.flow, Logger: s.logger})
	s.router.Route("/v1/device/session", func(r chi.Router) {
		r.Use(s.clientAuth.Middleware)
		r.Post("/start", sessions.Start)
		r.Get("/status", sessions.Status)
		r.Post("/finalize", sessions.Finalize)
	})

	pages := oauth.New(oauth.Config{Flow: s.flow, Templates: s.templates, Logger: s.logger})
	s.router.Get("/v1/discogs/oauth/link", pages.Link)
	s.router.Get("/v1/discogs/oauth/callback", pages.Callback)

	s.router.Method(http.MethodPost, "/v1/discogs/proxy/search",
		proxy.New(proxy.Config{Searcher: s.search, Logger: s.logger}))

	s.router.NotFound(common.NotFound)
	s.router.MethodNotAllowed(common.NotFound)
}

