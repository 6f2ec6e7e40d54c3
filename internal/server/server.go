// Package server implements the HTTP transport layer for the chat
// gateway: route mounting, middleware, and the SSE wire format for
// /chat/completions and /compare/completions.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/orchestrator"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/storage"
	"github.com/chatgate/chatgate/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// AnalyticsRecorder accepts fire-and-forget analytics events without
// blocking the request path. internal/worker.AnalyticsRecorder satisfies
// this.
type AnalyticsRecorder interface {
	Record(e *core.AnalyticsEvent)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *router.Router
	Store        storage.Store // used for CRUD + costs + analytics reads
	Analytics    AnalyticsRecorder

	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)

	AllowedOrigins []string // nil/empty = no CORS headers emitted
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(s.cors)
	}
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/health", s.handleHealth)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Post("/chat/completions", s.handleChatCompletion)
	r.Post("/compare/completions", s.handleCompareCompletion)

	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", s.handleCreateConversation)
		r.Get("/", s.handleListConversations)
		r.Get("/{id}", s.handleGetConversation)
		r.Get("/{id}/messages", s.handleListMessages)
		r.Put("/{id}/system-prompt", s.handleUpdateSystemPrompt)
		r.Delete("/{id}", s.handleDeleteConversation)
	})

	r.Get("/costs/summary", s.handleCostsSummary)

	r.Post("/analytics/event", s.handleAnalyticsEvent)
	r.Get("/analytics/summary", s.handleAnalyticsSummary)

	return r
}

type server struct {
	deps Deps
}

func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				next.ServeHTTP(w, r)
				return
			}
			m.ActiveTurns.Inc()
			defer m.ActiveTurns.Dec()
			next.ServeHTTP(w, r)
		})
	}
}

func tracingMiddleware(tracer trace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
