package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/askcsv/askcsv/internal/assistant"
	"github.com/askcsv/askcsv/internal/auth"
	"github.com/askcsv/askcsv/internal/config"
	"github.com/askcsv/askcsv/internal/dataset"
	"github.com/askcsv/askcsv/internal/nl2sql"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("askcsv-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	if body["service"] != "askcsv-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg, err := config.Load("askcsv-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dial postgres://askcsv:hunter2@db:5432/askcsv: connection refused")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "hunter2") {
		t.Fatalf("readiness error leaked credentials: %s", rr.Body.String())
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg, err := config.Load("askcsv-api", mapLookup(map[string]string{
		"ASKCSV_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("k1:analyst:query_reader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	pipeline := &fakePipeline{schema: []dataset.ColumnSchema{{Name: "id", Type: "BIGINT"}}}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Pipeline:       pipeline,
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body = %s", authResp.Code, authResp.Body.String())
	}

	body := decodeJSON(t, authResp)
	if body["table"] != dataset.TableName {
		t.Fatalf("table = %v", body["table"])
	}
	schema, ok := body["schema"].([]any)
	if !ok || len(schema) != 1 {
		t.Fatalf("schema = %#v", body["schema"])
	}
	column := schema[0].(map[string]any)
	if column["column_name"] != "id" || column["type"] != "BIGINT" {
		t.Fatalf("column = %#v", column)
	}
}

func TestUploadRequiresDatasetWriterRole(t *testing.T) {
	cfg, err := config.Load("askcsv-api", mapLookup(map[string]string{
		"ASKCSV_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("k1:analyst:query_reader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	pipeline := &fakePipeline{}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Pipeline:       pipeline,
	})

	req := newUploadRequest(t, "data.csv", "id\n1\n")
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if pipeline.loadCount() != 0 {
		t.Fatalf("load calls = %d", pipeline.loadCount())
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg, err := config.Load("askcsv-api", mapLookup(map[string]string{
		"ASKCSV_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{Pipeline: &fakePipeline{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if decodeJSON(t, rr)["error_code"] != "AUTH_MIDDLEWARE_MISSING" {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCORSPreflightAndOriginEcho(t *testing.T) {
	cfg, err := config.Load("askcsv-api", mapLookup(map[string]string{
		"ASKCSV_CORS_ALLOWED_ORIGINS": "https://app.example.com, https://admin.example.com",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{Pipeline: &fakePipeline{}})

	preflight := httptest.NewRequest(http.MethodOptions, "/v1/query", nil)
	preflight.Header.Set("Origin", "https://app.example.com")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, preflight)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow origin = %q", got)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost) {
		t.Fatalf("allow methods = %q", rr.Header().Get("Access-Control-Allow-Methods"))
	}

	other := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	other.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, other)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestCORSDefaultAllowsAnyOrigin(t *testing.T) {
	cfg, err := config.Load("askcsv-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestPipelineNotConfigured(t *testing.T) {
	cfg, err := config.Load("askcsv-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query/generate", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v (body = %s)", err, rr.Body.String())
	}
	return body
}

type fakePipeline struct {
	mu sync.Mutex

	loadResult dataset.LoadResult
	loadErr    error
	loads      []dataset.Source
	loadBodies []string

	schema    []dataset.ColumnSchema
	schemaErr error

	candidate   nl2sql.Candidate
	generateErr error
	questions   []string
	refinements []assistant.RefinementContext

	result     dataset.ResultSet
	executeErr error
	executed   []string

	answer       string
	summarizeErr error
	summarized   []string
}

func (f *fakePipeline) Load(_ context.Context, src dataset.Source) (dataset.LoadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, err := io.ReadAll(src.Body)
	if err != nil {
		return dataset.LoadResult{}, err
	}
	f.loads = append(f.loads, src)
	f.loadBodies = append(f.loadBodies, string(body))
	if f.loadErr != nil {
		return dataset.LoadResult{}, f.loadErr
	}
	return f.loadResult, nil
}

func (f *fakePipeline) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakePipeline) Schema(_ context.Context) ([]dataset.ColumnSchema, error) {
	if f.schemaErr != nil {
		return nil, f.schemaErr
	}
	return f.schema, nil
}

func (f *fakePipeline) Generate(_ context.Context, question string) (nl2sql.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question)
	if f.generateErr != nil {
		return nl2sql.Candidate{}, f.generateErr
	}
	return f.candidate, nil
}

func (f *fakePipeline) Refine(_ context.Context, rc assistant.RefinementContext) (nl2sql.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refinements = append(f.refinements, rc)
	if f.generateErr != nil {
		return nl2sql.Candidate{}, f.generateErr
	}
	return f.candidate, nil
}

func (f *fakePipeline) Execute(_ context.Context, sqlText string) (dataset.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, sqlText)
	if f.executeErr != nil {
		return dataset.ResultSet{}, f.executeErr
	}
	return f.result, nil
}

func (f *fakePipeline) Summarize(_ context.Context, question, resultText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarized = append(f.summarized, question+"|"+resultText)
	if f.summarizeErr != nil {
		return "", f.summarizeErr
	}
	return f.answer, nil
}
