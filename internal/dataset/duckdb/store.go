package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	duckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/askcsv/askcsv/internal/dataset"
)

type Config struct {
	// Path of the database file. Empty means an in-memory database, which is
	// discarded when the process exits.
	Path string
}

// Store keeps the live dataset in a DuckDB table. Loads are serialized and
// swap the table with a single CREATE OR REPLACE statement; reads are not
// blocked by loads.
type Store struct {
	db      *sql.DB
	loadMu  sync.Mutex
	version atomic.Int64
	closed  atomic.Bool
}

var _ dataset.Store = (*Store)(nil)

func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("duckdb", strings.TrimSpace(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(ctx context.Context, src dataset.Source) (dataset.LoadResult, error) {
	if src.Body == nil {
		return dataset.LoadResult{}, &dataset.LoadError{Format: src.Format, Err: errors.New("body is required")}
	}
	if s.closed.Load() {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: sql.ErrConnDone}
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	start := time.Now()
	workDir, err := os.MkdirTemp("", "askcsv-load-")
	if err != nil {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: fmt.Errorf("create load temp dir: %w", err)}
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	reader, err := readerFunction(src.Format)
	if err != nil {
		return dataset.LoadResult{}, &dataset.LoadError{Format: src.Format, Err: err}
	}
	localPath, size, err := spoolUpload(workDir, src.Format, src.Body)
	if err != nil {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: err}
	}
	if size == 0 {
		return dataset.LoadResult{}, &dataset.LoadError{Format: src.Format, Err: errEmptyUpload}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: fmt.Errorf("begin load: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	createSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT * FROM %s(%s)`,
		dataset.QuoteIdent(dataset.TableName), reader, quoteString(localPath))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		if s.isUnreachable(err) {
			return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: err}
		}
		return dataset.LoadResult{}, &dataset.LoadError{Format: src.Format, Err: err}
	}

	var rowCount int64
	countSQL := `SELECT COUNT(*) FROM ` + dataset.QuoteIdent(dataset.TableName)
	if err := tx.QueryRowContext(ctx, countSQL).Scan(&rowCount); err != nil {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: fmt.Errorf("count loaded rows: %w", err)}
	}
	columns, err := readSchema(ctx, tx)
	if err != nil {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: fmt.Errorf("commit load: %w", err)}
	}
	version := s.version.Add(1)

	names := make([]string, 0, len(columns))
	for _, column := range columns {
		names = append(names, column.Name)
	}
	return dataset.LoadResult{
		Version:  version,
		Columns:  names,
		RowCount: rowCount,
		Duration: time.Since(start),
	}, nil
}

// Schema reports ErrNoDataset before the first load and after the table has
// been dropped by a query.
func (s *Store) Schema(ctx context.Context) ([]dataset.ColumnSchema, error) {
	if s.closed.Load() {
		return nil, &dataset.StorageError{Op: "schema", Err: sql.ErrConnDone}
	}
	if s.version.Load() == 0 {
		return nil, &dataset.StorageError{Op: "schema", Err: dataset.ErrNoDataset}
	}

	columns, err := readSchema(ctx, s.db)
	if isMissingTable(err) || (err == nil && len(columns) == 0) {
		return nil, &dataset.StorageError{Op: "schema", Err: dataset.ErrNoDataset}
	}
	if err != nil {
		return nil, &dataset.StorageError{Op: "schema", Err: err}
	}
	return columns, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readSchema(ctx context.Context, q queryer) ([]dataset.ColumnSchema, error) {
	rows, err := q.QueryContext(ctx, `PRAGMA table_info(`+quoteString(dataset.TableName)+`)`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := make([]dataset.ColumnSchema, 0)
	for rows.Next() {
		var (
			cid       any
			name      string
			typeName  string
			notNull   any
			dfltValue any
			pk        any
		)
		if err := rows.Scan(&cid, &name, &typeName, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}
		columns = append(columns, dataset.ColumnSchema{
			Name:       name,
			Type:       typeName,
			NotNull:    truthy(notNull),
			Default:    optionalString(dfltValue),
			PrimaryKey: truthy(pk),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column info: %w", err)
	}
	return columns, nil
}

func isMissingTable(err error) bool {
	var duckErr *duckdb.Error
	return errors.As(err, &duckErr) && duckErr.Type == duckdb.ErrorTypeCatalog
}

func (s *Store) Query(ctx context.Context, sqlText string) (dataset.ResultSet, error) {
	if s.closed.Load() {
		return dataset.ResultSet{}, &dataset.StorageError{Op: "query", Err: sql.ErrConnDone}
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return dataset.ResultSet{}, s.queryError(sqlText, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return dataset.ResultSet{}, s.queryError(sqlText, fmt.Errorf("query columns: %w", err))
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return dataset.ResultSet{}, s.queryError(sqlText, fmt.Errorf("scan row: %w", err))
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return dataset.ResultSet{}, s.queryError(sqlText, fmt.Errorf("iterate rows: %w", err))
	}

	return dataset.ResultSet{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (s *Store) Version() int64 {
	return s.version.Load()
}

func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return sql.ErrConnDone
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) queryError(sqlText string, err error) error {
	if s.isUnreachable(err) {
		return &dataset.StorageError{Op: "query", Err: err}
	}
	return &dataset.QueryError{SQL: sqlText, Err: err}
}

func (s *Store) isUnreachable(err error) bool {
	return s.closed.Load() || errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

func readerFunction(format dataset.Format) (string, error) {
	switch format {
	case dataset.FormatCSV:
		return "read_csv_auto", nil
	case dataset.FormatParquet:
		return "read_parquet", nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

func normalizeValues(values []any) []any {
	normalized := dataset.NormalizeValues(values)
	for i, value := range normalized {
		switch typed := value.(type) {
		case duckdb.Decimal:
			normalized[i] = typed.Float64()
		case *big.Int:
			if typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		}
	}
	return normalized
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case int64:
		return typed != 0
	case int32:
		return typed != 0
	case string:
		return strings.EqualFold(typed, "true")
	default:
		return false
	}
}

func optionalString(value any) *string {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		return &typed
	case []byte:
		text := string(typed)
		return &text
	default:
		text := fmt.Sprint(typed)
		return &text
	}
}

func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
