package http

import (
	"WordsToLink-Backend/internal/auth"
	_ "embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

//go:embed docs/openapi.json
var openAPISpec []byte

// Options configures the HTTP surface.
type Options struct {
	BaseURL        string
	AllowedOrigins []string
	Version        string
}

// Server wires handlers to routes.
type Server struct {
	linksHandler    *LinksHandler
	redirectHandler *RedirectHandler
	healthHandler   *HealthHandler
	authMiddleware  *auth.Middleware
	allowedOrigins  []string
	log             *zap.Logger
}

func NewServer(
	links LinkManager,
	redirects Redirecter,
	storage Pinger,
	processor StatsProvider,
	authMiddleware *auth.Middleware,
	log *zap.Logger,
	opts Options,
) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		linksHandler:    NewLinksHandler(links, log, opts.BaseURL),
		redirectHandler: NewRedirectHandler(redirects, log),
		healthHandler:   NewHealthHandler(storage, processor, log, opts.Version),
		authMiddleware:  authMiddleware,
		allowedOrigins:  opts.AllowedOrigins,
		log:             log,
	}
}

// SetupRoutes builds the router. Anything outside /api and the probes is a
// candidate short link.
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.healthHandler.Health)
	r.Get("/ready", s.healthHandler.Ready)
	r.Get("/metrics", s.healthHandler.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/docs/openapi.json", serveOpenAPI)
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/api/docs/openapi.json")))

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware.RequireAuth)

			r.Post("/identifiers", s.linksHandler.ClaimIdentifier)

			r.Route("/links", func(r chi.Router) {
				r.Post("/", s.linksHandler.CreateLink)
				r.Get("/", s.linksHandler.ListLinks)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.linksHandler.GetLink)
					r.Patch("/", s.linksHandler.UpdateLink)
					r.Post("/activate", s.linksHandler.ActivateLink)
					r.Post("/deactivate", s.linksHandler.DeactivateLink)
					r.Get("/analytics", s.linksHandler.GetAnalytics)
				})
			})
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, s.log, http.StatusNotFound, "Not found")
		})
	})

	r.Get("/*", s.redirectHandler.HandleRedirect)

	return r
}

func serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(openAPISpec)
}

// requestLogger logs one line per request. Client addresses are left out.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
