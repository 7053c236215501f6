package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/studykb/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/studykb/internal/api/middlewares"
	"github.com/markdave123-py/studykb/internal/logger"
	"github.com/markdave123-py/studykb/internal/metrics"
	"github.com/markdave123-py/studykb/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

// RouterConfig carries what the router needs beyond the service.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Log            logger.Logger
}

// NewRouter wires all routes. Everything under /api requires a bearer token
// when a JWT secret is configured.
func NewRouter(svc *services.KnowledgeService, rc RouterConfig) http.Handler {
	if rc.Log == nil {
		rc.Log = logger.NewNop()
	}
	if len(rc.AllowedOrigins) == 0 {
		rc.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8888"}
	}
	docHandler := handlers.NewDocumentHandler(svc, rc.Log)
	chatHandler := handlers.NewChatHandler(svc, rc.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(rc.Metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rc.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Method(http.MethodGet, "/metrics", rc.Metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// API routes
	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(60 * time.Second))
		if rc.JWTSecret != "" {
			api.Use(appMiddleware.JWTMiddleware(rc.JWTSecret))
		} else {
			rc.Log.Warn("JWT_SECRET not set; API is unauthenticated")
		}

		api.Post("/documents/upload", docHandler.UploadDocument)
		api.Get("/documents/{id}", docHandler.GetDocument)
		api.Get("/documents/{id}/status", docHandler.GetStatus)
		api.Post("/documents/{id}/ingest", docHandler.Ingest)
		api.Delete("/documents/{id}", docHandler.DeleteDocument)
		api.Post("/chat/query", chatHandler.Query)
	})

	return r
}

func NewServer(addr string, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.Named("http"),
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", logger.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
