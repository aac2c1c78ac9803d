// Package web provides the HTTP server and handlers for the warehouse map UI.
package web

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/geomap/internal/config"
	"github.com/JonMunkholm/geomap/internal/core"
	"github.com/JonMunkholm/geomap/internal/observability"
	"github.com/JonMunkholm/geomap/internal/session"
	"github.com/JonMunkholm/geomap/internal/web/templates"
	webmw "github.com/JonMunkholm/geomap/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed static
var staticFiles embed.FS

// Deps are the long-lived services the handlers share.
type Deps struct {
	Sessions *session.Store
	Limiter  *core.UploadLimiter
	Metrics  *observability.Metrics

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// Server is the HTTP server for the map tool.
type Server struct {
	cfg      *config.Config
	sessions *session.Store
	limiter  *core.UploadLimiter
	metrics  *observability.Metrics
	loader   core.Loader
	router   *chi.Mux
	server   *http.Server
	rate     *rateLimiter
	draining atomic.Bool
}

// NewServer creates a Server with its middleware and routes in place.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Limiter == nil {
		deps.Limiter = core.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetricsForTesting(nil)
	}
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = promhttp.Handler()
	}

	s := &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes(deps.MetricsHandler)
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders(s.cfg))

	if s.cfg.Rate.Enabled {
		s.rate = newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(s.rate.middleware(s))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(metrics http.Handler) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Handle("/metrics", metrics)

	// Pages
	s.router.Get("/", s.handleIndex)
	s.router.Post("/upload", s.handleUpload)
	s.router.Get("/map/{sessionID}", s.handleMapPage)
	s.router.Post("/map/{sessionID}/colors", s.handleUpdateColors)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/load", s.handleLoadAPI)
		r.Get("/map/{sessionID}", s.handleMapJSON)
		r.Put("/map/{sessionID}/palette", s.handleSetPaletteAPI)
		r.Get("/map/{sessionID}/geojson", s.handleGeoJSON)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown marks the server not ready, waits for in-flight uploads and
// stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	if s.rate != nil {
		s.rate.stop()
	}

	if err := s.limiter.WaitForDrain(ctx); err != nil {
		slog.Warn("uploads still in flight at shutdown", "active", s.limiter.ActiveCount(), "error", err)
	}

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ServeHTTP lets the server be used directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
// The CSP admits the Leaflet CDN and the configured tile host.
func securityHeaders(cfg *config.Config) func(http.Handler) http.Handler {
	csp := contentSecurityPolicy(cfg.Map.TileURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if cfg.Security.EnableCSP {
				h.Set("Content-Security-Policy", csp)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func contentSecurityPolicy(tileURL string) string {
	cdn := leafletOrigin()
	img := []string{"'self'", "data:", cdn}
	if origin := tileOrigin(tileURL); origin != "" {
		img = append(img, origin)
	}

	return strings.Join([]string{
		"default-src 'self'",
		"script-src 'self' " + cdn,
		"style-src 'self' 'unsafe-inline' " + cdn,
		"img-src " + strings.Join(img, " "),
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")
}

func leafletOrigin() string {
	u, err := url.Parse(templates.LeafletJS)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// tileOrigin turns a tile template such as https://{s}.tile.example.org/{z}/{x}/{y}.png
// into a CSP source, mapping the {s} subdomain placeholder to a wildcard.
func tileOrigin(tileURL string) string {
	tileURL = strings.ReplaceAll(tileURL, "{s}", "*")
	scheme, rest, ok := strings.Cut(tileURL, "://")
	if !ok || rest == "" {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	if host == "" {
		return ""
	}
	return scheme + "://" + host
}
