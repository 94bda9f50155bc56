package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askcsv/askcsv/internal/assistant"
	"github.com/askcsv/askcsv/internal/auth"
	"github.com/askcsv/askcsv/internal/config"
	"github.com/askcsv/askcsv/internal/dataset"
	"github.com/askcsv/askcsv/internal/nl2sql"
	"github.com/askcsv/askcsv/internal/observability"
	"github.com/askcsv/askcsv/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// Pipeline is the question-to-answer service the handlers drive.
type Pipeline interface {
	Load(ctx context.Context, src dataset.Source) (dataset.LoadResult, error)
	Schema(ctx context.Context) ([]dataset.ColumnSchema, error)
	Generate(ctx context.Context, question string) (nl2sql.Candidate, error)
	Refine(ctx context.Context, rc assistant.RefinementContext) (nl2sql.Candidate, error)
	Execute(ctx context.Context, sqlText string) (dataset.ResultSet, error)
	Summarize(ctx context.Context, question, resultText string) (string, error)
}

var _ Pipeline = (*assistant.Service)(nil)

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Pipeline
	// Objects is nil when dataset import from object storage is disabled.
	Objects storage.ObjectSource
}

type routeHandler func(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request)

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", observability.Mask(err.Error()), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := []struct {
		pattern string
		handle  routeHandler
	}{
		{"POST /v1/dataset", handleUpload},
		{"POST /v1/dataset/import", handleImport},
		{"GET /v1/dataset/objects", handleListObjects},
		{"GET /v1/schema", handleSchema},
		{"POST /v1/query/generate", handleGenerate},
		{"POST /v1/query/refine", handleRefine},
		{"POST /v1/query", handleRunQuery},
		{"POST /v1/answer", handleAnswer},
	}

	protected := http.NewServeMux()
	for _, route := range routes {
		handle := route.handle
		protected.HandleFunc(route.pattern, func(w http.ResponseWriter, r *http.Request) {
			handle(deps, cfg, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, route := range routes {
		mux.Handle(route.pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		CORSMiddleware(cfg.CORS.AllowedOrigins),
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func requireRole(r *http.Request, role string) error {
	return auth.RequireRole(r, role)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
