package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/askcsv/askcsv/internal/assistant"
	"github.com/askcsv/askcsv/internal/auth"
	"github.com/askcsv/askcsv/internal/config"
)

type generateRequest struct {
	Question string `json:"question"`
}

type refineRequest struct {
	Question      string `json:"question"`
	PreviousQuery string `json:"previous_query"`
	Feedback      string `json:"feedback"`
}

type answerRequest struct {
	Question string `json:"question"`
	// Result is usually the records array returned by POST /v1/query, but a
	// plain JSON string is accepted as already-serialized text.
	Result json.RawMessage `json:"result"`
}

type answerResponse struct {
	FormattedAnswer string `json:"formatted_answer"`
}

func handleGenerate(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if !pipelineReady(deps, w, r, auth.RoleQueryReader) {
		return
	}

	var request generateRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	candidate, err := deps.Pipeline.Generate(r.Context(), request.Question)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidate)
}

func handleRefine(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if !pipelineReady(deps, w, r, auth.RoleQueryReader) {
		return
	}

	var request refineRequest
	if !decodeBody(w, r, &request) {
		return
	}
	missing := make([]string, 0, 3)
	if strings.TrimSpace(request.Question) == "" {
		missing = append(missing, "question")
	}
	if strings.TrimSpace(request.PreviousQuery) == "" {
		missing = append(missing, "previous_query")
	}
	if strings.TrimSpace(request.Feedback) == "" {
		missing = append(missing, "feedback")
	}
	if len(missing) > 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "REFINEMENT_INCOMPLETE", "question, previous_query and feedback are required", false, map[string]any{"missing": missing})
		return
	}

	candidate, err := deps.Pipeline.Refine(r.Context(), assistant.RefinementContext{
		Question:      request.Question,
		PreviousQuery: request.PreviousQuery,
		Feedback:      request.Feedback,
	})
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidate)
}

func handleAnswer(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if !pipelineReady(deps, w, r, auth.RoleQueryReader) {
		return
	}

	var request answerRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	text, ok := resultText(request.Result)
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "RESULT_REQUIRED", "result is required", false, nil)
		return
	}

	answer, err := deps.Pipeline.Summarize(r.Context(), request.Question, text)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{FormattedAnswer: answer})
}

func pipelineReady(deps Dependencies, w http.ResponseWriter, r *http.Request, role string) bool {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline dependencies are not configured", false, nil)
		return false
	}
	if err := requireRole(r, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func resultText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text, strings.TrimSpace(text) != ""
	}
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, trimmed); err != nil {
		return string(trimmed), true
	}
	return compacted.String(), true
}
