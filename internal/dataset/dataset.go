// Package dataset defines the single live table that questions are asked
// against, and the error taxonomy shared by its storage engines.
//
// A Store owns exactly one dataset, addressed by TableName. Load replaces it
// atomically; Schema and Query read whatever dataset is live when they run.
// Reads do not wait for an in-flight Load, so a reader racing a Load may see
// either version. Version exposes the load counter for callers that need to
// detect that.
package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// TableName is the fixed logical name of the live dataset.
const TableName = "uploaded_data"

var ErrNoDataset = errors.New("no dataset has been loaded")

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

type Source struct {
	Format Format
	Body   io.Reader
}

type ColumnSchema struct {
	Name       string  `json:"column_name"`
	Type       string  `json:"type"`
	NotNull    bool    `json:"not_null"`
	Default    *string `json:"default_value"`
	PrimaryKey bool    `json:"primary_key"`
}

type LoadResult struct {
	Version  int64
	Columns  []string
	RowCount int64
	Duration time.Duration
}

type ResultSet struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Record is one result row keyed by column name. It marshals to a JSON object
// whose keys follow the result's column order. A repeated column name keeps
// its first position and first value.
type Record struct {
	columns []string
	values  []any
}

// Get returns the value of the first column named column.
func (r Record) Get(column string) (any, bool) {
	for i, name := range r.columns {
		if name == column && i < len(r.values) {
			return r.values[i], true
		}
	}
	return nil, false
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]struct{}, len(r.columns))
	for i, column := range r.columns {
		if i >= len(r.values) {
			break
		}
		if _, dup := seen[column]; dup {
			continue
		}
		seen[column] = struct{}{}
		if len(seen) > 1 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(column)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", column, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Records returns one Record per row, in row order.
func (r ResultSet) Records() []Record {
	records := make([]Record, 0, len(r.Rows))
	for _, row := range r.Rows {
		records = append(records, Record{columns: r.Columns, values: row})
	}
	return records
}

type Store interface {
	Load(ctx context.Context, src Source) (LoadResult, error)
	Schema(ctx context.Context) ([]ColumnSchema, error)
	Query(ctx context.Context, sqlText string) (ResultSet, error)
	Version() int64
	Ping(ctx context.Context) error
	Close() error
}

// StorageError reports that the dataset could not be reached or has never
// been loaded.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// QueryError wraps the engine's syntax or semantic error for a query that was
// run verbatim.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("execute query: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// LoadError reports an upload that could not be parsed or stored. The previous
// dataset stays live when a load fails.
type LoadError struct {
	Format Format
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s dataset: %v", e.Format, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
