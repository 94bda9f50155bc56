package api

import (
	"net/http"
	"strings"

	"github.com/askcsv/askcsv/internal/auth"
	"github.com/askcsv/askcsv/internal/config"
	"github.com/askcsv/askcsv/internal/dataset"
)

type queryRequest struct {
	SQL string `json:"sql"`
}

type queryResponse struct {
	Columns []string         `json:"columns"`
	Rows    [][]any          `json:"rows"`
	Result  []dataset.Record `json:"result"`
	Stats   map[string]any   `json:"stats"`
}

// handleRunQuery executes the submitted text as is. Generated queries are not
// restricted to SELECT; the dataset is disposable and reloaded on upload.
func handleRunQuery(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if !pipelineReady(deps, w, r, auth.RoleQueryReader) {
		return
	}

	var request queryRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	result, err := deps.Pipeline.Execute(r.Context(), request.SQL)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}

	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns: result.Columns,
		Rows:    rows,
		Result:  result.Records(),
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   len(rows),
		},
	})
}
