package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/askcsv/askcsv/internal/dataset"
	"github.com/askcsv/askcsv/internal/nl2sql"
	"github.com/askcsv/askcsv/internal/observability"
	"github.com/askcsv/askcsv/internal/storage"
)

// writePipelineError maps the pipeline error taxonomy onto HTTP statuses.
// Details are masked because engine and upstream messages can echo
// credentials from connection strings or headers.
func writePipelineError(ctx context.Context, w http.ResponseWriter, err error) {
	details := map[string]any{"details": observability.Mask(err.Error())}

	var (
		queryErr   *dataset.QueryError
		loadErr    *dataset.LoadError
		storageErr *dataset.StorageError
		genErr     *nl2sql.GenerationError
	)
	switch {
	case errors.Is(err, dataset.ErrNoDataset):
		writeError(ctx, w, http.StatusNotFound, "DATASET_NOT_LOADED", "no dataset has been loaded", false, nil)
	case errors.As(err, &queryErr):
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, details)
	case errors.As(err, &loadErr):
		details["format"] = string(loadErr.Format)
		writeError(ctx, w, http.StatusBadRequest, "DATASET_LOAD_FAILED", "dataset could not be loaded", false, details)
	case errors.As(err, &storageErr):
		writeError(ctx, w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "dataset storage is unavailable", true, details)
	case errors.As(err, &genErr):
		details["kind"] = string(genErr.Kind)
		if genErr.StatusCode != 0 {
			details["upstream_status"] = genErr.StatusCode
		}
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "query generation failed", genErr.Kind != nl2sql.KindCredential, details)
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(ctx, w, http.StatusNotFound, "OBJECT_NOT_FOUND", "object was not found", false, nil)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(ctx, w, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "request did not complete in time", true, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "request failed", true, details)
	}
}
