package duckdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/askcsv/askcsv/internal/dataset"
)

var errEmptyUpload = errors.New("upload is empty")

// spoolUpload copies body into dir so DuckDB's file readers can scan it, and
// returns the path together with the number of bytes written.
func spoolUpload(dir string, format dataset.Format, body io.Reader) (string, int64, error) {
	path := filepath.Join(dir, "upload."+string(format))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = file.Close() }()

	written, err := io.Copy(file, body)
	if err != nil {
		return "", written, fmt.Errorf("spool upload to %q: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		return "", written, err
	}
	return path, written, nil
}
