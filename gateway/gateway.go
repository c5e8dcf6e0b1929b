// Package gateway exposes the canonical HTTP surface and routes each
// endpoint to the configured provider. It owns the pieces that sit in front
// of the adapter: in-band command interception, SSE framing, dialog log and
// metrics retrieval, and the retention trigger.
package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuber-it/heinzel-ki/command"
	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/costs"
	"github.com/cuber-it/heinzel-ki/ingest"
	"github.com/cuber-it/heinzel-ki/provider"
)

type (
	// Server wires the provider and its supporting stores into an HTTP
	// handler.
	Server struct {
		provider  provider.Provider
		sessions  *command.SessionStore
		store     *costs.Store
		files     *ingest.Processor
		retention config.Retention
		logDir    string
	}

	// Option configures a Server.
	Option func(*Server)
)

// WithCostStore attaches the metrics store backing /metrics and
// /retention/run.
func WithCostStore(s *costs.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithRetention sets the retention policy applied by /retention/run.
func WithRetention(r config.Retention) Option {
	return func(srv *Server) { srv.retention = r }
}

// WithLogDir sets the dialog log directory read by /logs and swept by
// /retention/run.
func WithLogDir(dir string) Option {
	return func(srv *Server) { srv.logDir = dir }
}

// WithIngest attaches the file processor behind /files/ingest.
func WithIngest(p *ingest.Processor) Option {
	return func(srv *Server) { srv.files = p }
}

// New builds a gateway server for the provider.
func New(p provider.Provider, opts ...Option) *Server {
	srv := &Server{
		provider:  p,
		sessions:  command.NewSessionStore(command.MaxSessions),
		retention: config.DefaultRetention(),
		logDir:    "/data",
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Routes builds the HTTP route table. Extra middleware (typically the clue
// request logger) runs after the built-in recoverer.
func (s *Server) Routes(mw ...func(http.Handler) http.Handler) http.Handler {
	return s.routes(mw...)
}

func (s *Server) routes(extra ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range extra {
		r.Use(mw)
	}

	// Lifecycle and introspection.
	r.Post("/connect", s.handleConnect)
	r.Post("/disconnect", s.handleDisconnect)
	r.Post("/reset", s.handleReset)
	r.Get("/health", s.handleHealth)
	r.Get("/capabilities", s.handleCapabilities)
	r.Get("/status", s.handleStatus)

	// Tier 1: core.
	r.Get("/models", s.handleModels)
	r.Get("/models/{model_id}", s.handleModelDetail)
	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)
	r.Post("/tokens/count", s.handleTokenCount)

	// Tier 2: extended.
	r.Post("/embeddings", s.handleEmbeddings)
	r.Post("/batches", s.handleCreateBatch)
	r.Get("/batches", s.handleListBatches)
	r.Get("/batches/{batch_id}", s.handleGetBatch)
	r.Post("/batches/{batch_id}/cancel", s.handleCancelBatch)
	r.Get("/batches/{batch_id}/results", s.handleBatchResults)

	// Tier 3: specialized.
	r.Post("/moderations", s.handleModerations)
	r.Post("/audio/transcriptions", s.handleAudioTranscriptions)
	r.Post("/audio/translations", s.handleAudioTranslations)
	r.Post("/audio/speech", s.handleAudioSpeech)
	r.Post("/images/generations", s.handleImageGenerations)
	r.Post("/images/edits", s.handleImageEdits)
	r.Post("/images/variations", s.handleImageVariations)

	// Operations: logging control, retention, logs, metrics, ingestion.
	r.Post("/logging/enable", s.handleLoggingEnable)
	r.Post("/logging/disable", s.handleLoggingDisable)
	r.Get("/logging/status", s.handleLoggingStatus)
	r.Post("/retention/run", s.handleRetentionRun)
	r.Get("/logs", s.handleLogs)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/summary", s.handleMetricsSummary)
	r.Get("/metrics/rate-limits", s.handleRateLimits)
	r.Post("/files/ingest", s.handleFileIngest)

	return r
}
