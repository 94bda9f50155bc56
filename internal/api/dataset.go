package api

import (
	"bufio"
	"errors"
	"net/http"
	"strings"

	"github.com/askcsv/askcsv/internal/auth"
	"github.com/askcsv/askcsv/internal/config"
	"github.com/askcsv/askcsv/internal/dataset"
	"github.com/askcsv/askcsv/internal/observability"
	"github.com/askcsv/askcsv/internal/storage"
	"github.com/askcsv/askcsv/internal/tabular"
)

const uploadField = "file"

type loadResponse struct {
	Message    string         `json:"message"`
	Version    int64          `json:"version"`
	Columns    []string       `json:"columns"`
	RowCount   int64          `json:"row_count"`
	Format     dataset.Format `json:"format"`
	DurationMs int64          `json:"duration_ms"`
}

type importRequest struct {
	ObjectKey string `json:"object_key"`
}

type schemaResponse struct {
	Table  string                 `json:"table"`
	Schema []dataset.ColumnSchema `json:"schema"`
}

func handleUpload(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleDatasetWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := cfg.Dataset.MaxUploadBytes
	if r.ContentLength > limit {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the configured size limit", false, map[string]any{"limit_bytes": limit})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the configured size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = file.Close() }()

	body := bufio.NewReader(file)
	head, _ := body.Peek(4)
	format := tabular.DetectFormat(header.Filename, head)

	result, err := deps.Pipeline.Load(r.Context(), dataset.Source{Format: format, Body: body})
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoadResponse(result, format))
}

func handleImport(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline dependencies are not configured", false, nil)
		return
	}
	if deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "OBJECT_STORE_DISABLED", "object store import is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleDatasetWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request importRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.ObjectKey) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "OBJECT_KEY_REQUIRED", "object_key is required", false, nil)
		return
	}

	info, err := deps.Objects.Stat(r.Context(), request.ObjectKey)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	if info.Size > cfg.Dataset.MaxUploadBytes {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "object exceeds the configured size limit", false, map[string]any{
			"limit_bytes":  cfg.Dataset.MaxUploadBytes,
			"object_bytes": info.Size,
		})
		return
	}

	reader, err := deps.Objects.Get(r.Context(), request.ObjectKey)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	defer func() { _ = reader.Close() }()

	body := bufio.NewReader(reader)
	head, _ := body.Peek(4)
	format := tabular.DetectFormat(request.ObjectKey, head)

	result, err := deps.Pipeline.Load(r.Context(), dataset.Source{Format: format, Body: body})
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoadResponse(result, format))
}

func handleListObjects(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "OBJECT_STORE_DISABLED", "object store import is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleDatasetWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	objects, err := deps.Objects.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "OBJECT_STORE_UNAVAILABLE", "object store listing failed", true, map[string]any{"details": observability.Mask(err.Error())})
		return
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

func handleSchema(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if !pipelineReady(deps, w, r, auth.RoleQueryReader) {
		return
	}

	columns, err := deps.Pipeline.Schema(r.Context())
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{Table: dataset.TableName, Schema: columns})
}

func newLoadResponse(result dataset.LoadResult, format dataset.Format) loadResponse {
	return loadResponse{
		Message:    "dataset loaded into " + dataset.TableName,
		Version:    result.Version,
		Columns:    result.Columns,
		RowCount:   result.RowCount,
		Format:     format,
		DurationMs: result.Duration.Milliseconds(),
	}
}
