// Package server exposes the HTTP surface: OAuth flows, connector and
// ingestion administration, MCP tool management, the chat endpoints, and
// the progress websocket.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/korahq/kora/internal/admin"
	"github.com/korahq/kora/internal/connector"
	"github.com/korahq/kora/internal/health"
	"github.com/korahq/kora/internal/ingest"
	"github.com/korahq/kora/internal/observe"
	"github.com/korahq/kora/internal/pipeline"
	"github.com/korahq/kora/internal/progress"
	"github.com/korahq/kora/internal/registry"
	"github.com/korahq/kora/internal/toolreg"
	"github.com/korahq/kora/pkg/ai"
	"github.com/korahq/kora/pkg/store"
)

// Options wires the server to the rest of the system. Registry and
// Pipeline are required for the chat endpoints; the remaining services may
// be nil, which disables their routes.
type Options struct {
	Registry   *registry.Registry
	Pipeline   *pipeline.Pipeline
	Connectors *connector.Service
	Ingest     *ingest.Orchestrator
	Tools      *toolreg.Registry
	Admin      *admin.Coordinator
	Bus        *progress.Bus
	Health     *health.Handler
	Metrics    *observe.Metrics

	CORSAllowedOrigins []string
	Log                *slog.Logger
}

// Server is the HTTP layer. Construct with New; the zero value is not
// usable.
type Server struct {
	opts   Options
	log    *slog.Logger
	router chi.Router
}

// New builds the router with all middleware and routes installed.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Health == nil {
		opts.Health = health.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	s := &Server{opts: opts, log: opts.Log}

	r := chi.NewRouter()
	r.Use(observe.Middleware(opts.Metrics))
	if len(opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Workspace-ID", "X-User-ID"},
			AllowCredentials: true,
		}))
	}

	r.Get("/healthz", opts.Health.Healthz)
	r.Get("/readyz", opts.Health.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if opts.Connectors != nil {
		r.Post("/oauth/start", s.handleOAuthStart)
		r.Get("/oauth/callback/{app}", s.handleOAuthCallback)
		r.Post("/oauth/create-provider", s.handleCreateProvider)
	}

	r.Route("/admin", func(r chi.Router) {
		if opts.Connectors != nil {
			r.Post("/service-account", s.handleServiceAccount)
		}
		if opts.Ingest != nil {
			if opts.Connectors != nil {
				r.Post("/ingest-more-users", s.handleIngestMoreUsers)
				r.Post("/slack/ingest-channels", s.handleSlackIngestChannels)
			}
			r.Post("/ingestion/{id}/cancel", s.handleCancelIngestion)
			r.Get("/ingestion/{id}", s.handleIngestionProgress)
		}
		if opts.Admin != nil {
			r.Post("/delete-user-data", s.handleDeleteUserData)
		}
		if opts.Tools != nil {
			r.Post("/connector/{id}/tools", s.handleUpdateToolsStatus)
			if opts.Connectors != nil {
				r.Post("/connector/{id}/tools/refresh", s.handleRefreshTools)
			}
		}
	})

	if opts.Bus != nil {
		r.Get("/ws/progress/{connectorId}", s.handleProgressSocket)
	}

	if opts.Pipeline != nil {
		r.Route("/chat", func(r chi.Router) {
			r.Post("/answer", s.handleChatAnswer)
			r.Post("/title", s.handleChatTitle)
			r.Post("/follow-ups", s.handleFollowUps)
		})
		r.Get("/models", s.handleListModels)
	}

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// workspaceID resolves the calling workspace. Authentication lives in
// front of this service; the gateway forwards tenant identity in headers.
func workspaceID(r *http.Request) string {
	if id := r.Header.Get("X-Workspace-ID"); id != "" {
		return id
	}
	return "default"
}

func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain sentinels onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrIngestionAlreadyRunning),
		errors.Is(err, store.ErrGlobalProviderExists):
		status = http.StatusConflict
	case errors.Is(err, ingest.ErrInvalidDateRange),
		errors.Is(err, ai.ErrInvalidModel):
		status = http.StatusBadRequest
	case errors.Is(err, ai.ErrNoProviderConfigured):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
