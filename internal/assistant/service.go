// Package assistant wires the dataset store and the generation client into the
// question-to-answer pipeline. Every call is independent: refinement state is
// carried by the caller in RefinementContext, never kept here.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/askcsv/askcsv/internal/dataset"
	"github.com/askcsv/askcsv/internal/nl2sql"
	"github.com/askcsv/askcsv/internal/observability"
)

const (
	operationGenerate  = "generate"
	operationRefine    = "refine"
	operationSummarize = "summarize"
)

type RefinementContext struct {
	Question string
	// PreviousQuery is the query or raw response the caller wants revised.
	PreviousQuery string
	Feedback      string
}

type Service struct {
	store     dataset.Store
	generator nl2sql.Generator
	dialect   string
	logger    *slog.Logger
}

// NewService takes the store handle explicitly; dialect names the store's SQL
// flavour in prompts.
func NewService(store dataset.Store, generator nl2sql.Generator, dialect string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, generator: generator, dialect: dialect, logger: logger}
}

func (s *Service) Load(ctx context.Context, src dataset.Source) (dataset.LoadResult, error) {
	start := time.Now()
	result, err := s.store.Load(ctx, src)
	if err != nil {
		observability.ObserveDatasetLoad(string(src.Format), observability.StatusError, 0, 0, time.Since(start))
		s.logger.WarnContext(ctx, "dataset_load_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("format", string(src.Format)),
			slog.Any("error", err),
		)
		return dataset.LoadResult{}, err
	}
	observability.ObserveDatasetLoad(string(src.Format), observability.StatusOK, result.RowCount, result.Version, time.Since(start))
	s.logger.InfoContext(ctx, "dataset_loaded",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("format", string(src.Format)),
		slog.Int64("version", result.Version),
		slog.Int64("rows", result.RowCount),
		slog.Int("columns", len(result.Columns)),
		slog.String("duration", result.Duration.String()),
	)
	return result, nil
}

func (s *Service) Schema(ctx context.Context) ([]dataset.ColumnSchema, error) {
	return s.store.Schema(ctx)
}

// Generate runs the base round: fresh schema, prompt, one generation call,
// extraction.
func (s *Service) Generate(ctx context.Context, question string) (nl2sql.Candidate, error) {
	schema, err := s.store.Schema(ctx)
	if err != nil {
		return nl2sql.Candidate{}, err
	}
	prompt := nl2sql.BuildPrompt(nl2sql.PromptInput{
		Schema:   schema,
		Question: question,
		Dialect:  s.dialect,
	})
	return s.generateCandidate(ctx, operationGenerate, prompt)
}

// Refine runs a single refinement round. The schema is read again rather than
// reused from the round that produced PreviousQuery.
func (s *Service) Refine(ctx context.Context, rc RefinementContext) (nl2sql.Candidate, error) {
	schema, err := s.store.Schema(ctx)
	if err != nil {
		return nl2sql.Candidate{}, err
	}
	prompt := nl2sql.BuildPrompt(nl2sql.PromptInput{
		Schema:     schema,
		Question:   rc.Question,
		PriorQuery: rc.PreviousQuery,
		Feedback:   rc.Feedback,
		Dialect:    s.dialect,
	})
	return s.generateCandidate(ctx, operationRefine, prompt)
}

// Execute runs sqlText verbatim. Nothing is validated first.
func (s *Service) Execute(ctx context.Context, sqlText string) (dataset.ResultSet, error) {
	start := time.Now()
	result, err := s.store.Query(ctx, sqlText)
	if err != nil {
		observability.ObserveQuery(observability.StatusError, time.Since(start))
		s.logger.InfoContext(ctx, "query_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Any("error", err),
		)
		return dataset.ResultSet{}, err
	}
	observability.ObserveQuery(observability.StatusOK, time.Since(start))
	return result, nil
}

// Summarize returns the generated text as is; no extraction is applied.
func (s *Service) Summarize(ctx context.Context, question, resultText string) (string, error) {
	return s.generate(ctx, operationSummarize, nl2sql.BuildSummaryPrompt(question, resultText))
}

func (s *Service) generateCandidate(ctx context.Context, operation, prompt string) (nl2sql.Candidate, error) {
	raw, err := s.generate(ctx, operation, prompt)
	if err != nil {
		return nl2sql.Candidate{}, err
	}
	candidate := nl2sql.Extract(raw)
	observability.ObserveExtraction(candidate.Fenced)
	s.logger.DebugContext(ctx, "query_extracted",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("operation", operation),
		slog.Bool("fenced", candidate.Fenced),
		slog.String("sql", candidate.SQL),
	)
	return candidate, nil
}

func (s *Service) generate(ctx context.Context, operation, prompt string) (string, error) {
	if s.generator == nil {
		return "", &nl2sql.GenerationError{Kind: nl2sql.KindCredential, Err: errors.New("generation client is not configured")}
	}
	start := time.Now()
	raw, err := s.generator.Generate(ctx, prompt)
	elapsed := time.Since(start)
	if err != nil {
		observability.ObserveGeneration(operation, generationStatus(err), elapsed)
		s.logger.WarnContext(ctx, "generation_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("operation", operation),
			slog.String("duration", elapsed.String()),
			slog.Any("error", err),
		)
		return "", err
	}
	observability.ObserveGeneration(operation, observability.StatusOK, elapsed)
	s.logger.InfoContext(ctx, "generation_completed",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("operation", operation),
		slog.String("duration", elapsed.String()),
		slog.Int("prompt_bytes", len(prompt)),
		slog.Int("response_bytes", len(raw)),
	)
	return raw, nil
}

func generationStatus(err error) string {
	var genErr *nl2sql.GenerationError
	if errors.As(err, &genErr) {
		return string(genErr.Kind)
	}
	return observability.StatusError
}
