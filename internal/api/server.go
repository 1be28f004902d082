package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dgallion1/rtfbridge/internal/config"
	"github.com/dgallion1/rtfbridge/internal/metrics"
	"github.com/dgallion1/rtfbridge/internal/pipeline"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for rtfbridge.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	metrics      *metrics.Metrics
	pools        *pool.Manager
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. m and pools may be nil.
func NewServer(orch *pipeline.Orchestrator, m *metrics.Metrics, pools *pool.Manager, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		metrics:      m,
		pools:        pools,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/convert", s.handleConvert)
		r.Post("/api/import", s.handleImport)

		r.Post("/api/jobs", s.handleSubmitJob)
		r.Get("/api/jobs/{jobID}", s.handleGetJob)
		r.Delete("/api/jobs/{jobID}", s.handleCancelJob)

		r.Get("/api/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
