// Package server exposes the question-answering pipeline over HTTP and
// WebSocket: the voice/text query endpoints, a raw search endpoint for
// evaluation, regulation browsing, and admin inspection.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seaworthyhq/bvrag/pkg/graph"
	"github.com/seaworthyhq/bvrag/pkg/lexical"
	"github.com/seaworthyhq/bvrag/pkg/memory"
	"github.com/seaworthyhq/bvrag/pkg/observability"
	"github.com/seaworthyhq/bvrag/pkg/pipeline"
	"github.com/seaworthyhq/bvrag/pkg/retrieve"
	"github.com/seaworthyhq/bvrag/pkg/utility"
)

// QueryPipeline is the orchestrator behind the query endpoints.
type QueryPipeline interface {
	TextQuery(ctx context.Context, req pipeline.TextRequest) (*pipeline.Response, error)
	VoiceQuery(ctx context.Context, req pipeline.VoiceRequest) (*pipeline.Response, error)
}

// SearchBackend serves the raw search endpoint, bypassing the LLM.
type SearchBackend interface {
	Retrieve(ctx context.Context, req retrieve.Request) (*retrieve.Result, error)
}

// RegulationStore reads regulation records and corpus counts from the
// lexical store.
type RegulationStore interface {
	GetRegulation(ctx context.Context, docID string) (*lexical.Regulation, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// GraphBrowser reads the reference graph around a regulation.
type GraphBrowser interface {
	GetCrossReferences(ctx context.Context, docID string) (*graph.CrossReferences, error)
	GetChildren(ctx context.Context, docID string) ([]graph.Node, error)
}

// SessionInspector backs the admin session endpoints.
type SessionInspector interface {
	GetSession(ctx context.Context, sessionID string) (*memory.Session, error)
	SessionCount(ctx context.Context) (int64, error)
}

// UtilityReporter backs the admin utility-stats endpoint.
type UtilityReporter interface {
	Stats(ctx context.Context) ([]utility.CategoryStats, error)
}

// VectorInfo reports vector index health for the admin stats endpoint.
type VectorInfo interface {
	Info(ctx context.Context) (map[string]interface{}, error)
}

// KnowledgeReloader rebuilds the practical-knowledge index atomically.
type KnowledgeReloader interface {
	Reload() error
	Len() int
}

// Synthesizer backs the standalone TTS endpoint.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Deps are the collaborators the server routes requests to. Pipeline is
// required; the rest may be nil, in which case the corresponding endpoints
// answer 503.
type Deps struct {
	Pipeline  QueryPipeline
	Retriever SearchBackend
	Lexical   RegulationStore
	Graph     GraphBrowser
	Sessions  SessionInspector
	Utilities UtilityReporter
	Vector    VectorInfo
	Knowledge KnowledgeReloader
	TTS       Synthesizer
	Metrics   *observability.Metrics
}

// Config holds the listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	deps       Deps
	config     Config
	httpServer *http.Server
}

func New(deps Deps, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Generation plus TTS can take a while on long answers.
		cfg.WriteTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{deps: deps, config: cfg}
}

// Handler builds the chi router with the full route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(observability.HTTPMiddleware(s.deps.Metrics))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", observability.MetricsHandler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/voice", func(r chi.Router) {
			r.Post("/text-query", s.handleTextQuery)
			r.Post("/query", s.handleVoiceQuery)
			r.Post("/tts", s.handleTTS)
			r.Get("/ws/{session_id}", s.handleWebSocket)
		})

		r.Post("/search", s.handleSearch)
		r.Get("/regulation/{doc_id}", s.handleRegulation)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/session/{session_id}", s.handleSessionInspect)
			r.Get("/utility-stats", s.handleUtilityStats)
			r.Get("/llm-usage", s.handleLLMUsage)
			r.Post("/reload-knowledge", s.handleReloadKnowledge)
		})
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	slog.Info("HTTP server starting", "addr", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
