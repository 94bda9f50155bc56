package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/askcsv/askcsv/internal/dataset"
	"github.com/askcsv/askcsv/internal/tabular"
)

// Postgres caps a statement at 65535 bind parameters.
const maxBindParams = 65535

const defaultInsertBatchRows = 500

// Store keeps the live dataset in a Postgres table in the connection's current
// schema. A load drops, recreates and fills the table inside one transaction,
// so concurrent readers see either the old table or the new one.
type Store struct {
	db              *sql.DB
	loadMu          sync.Mutex
	version         atomic.Int64
	insertBatchRows int
}

var _ dataset.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, insertBatchRows: defaultInsertBatchRows}
}

func (s *Store) Load(ctx context.Context, src dataset.Source) (dataset.LoadResult, error) {
	if src.Body == nil {
		return dataset.LoadResult{}, &dataset.LoadError{Format: src.Format, Err: errors.New("body is required")}
	}
	start := time.Now()

	table, err := decode(src)
	if err != nil {
		return dataset.LoadResult{}, &dataset.LoadError{Format: src.Format, Err: err}
	}
	if len(table.Columns) == 0 {
		return dataset.LoadResult{}, &dataset.LoadError{Format: src.Format, Err: errors.New("dataset has no columns")}
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: fmt.Errorf("begin load tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	tableIdent := dataset.QuoteIdent(dataset.TableName)
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+tableIdent); err != nil {
		return dataset.LoadResult{}, classifyLoadError(src.Format, fmt.Errorf("drop previous dataset: %w", err))
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(table.Columns)); err != nil {
		return dataset.LoadResult{}, classifyLoadError(src.Format, fmt.Errorf("create dataset table: %w", err))
	}
	if err := s.insertRows(ctx, tx, table); err != nil {
		return dataset.LoadResult{}, classifyLoadError(src.Format, err)
	}
	if err := tx.Commit(); err != nil {
		return dataset.LoadResult{}, &dataset.StorageError{Op: "load", Err: fmt.Errorf("commit load tx: %w", err)}
	}

	return dataset.LoadResult{
		Version:  s.version.Add(1),
		Columns:  table.ColumnNames(),
		RowCount: int64(len(table.Rows)),
		Duration: time.Since(start),
	}, nil
}

func (s *Store) insertRows(ctx context.Context, tx *sql.Tx, table tabular.Table) error {
	columnCount := len(table.Columns)
	batchRows := s.insertBatchRows
	if batchRows <= 0 {
		batchRows = defaultInsertBatchRows
	}
	if limit := maxBindParams / columnCount; batchRows > limit {
		batchRows = limit
	}

	quoted := make([]string, columnCount)
	for i, column := range table.Columns {
		quoted[i] = dataset.QuoteIdent(column.Name)
	}
	prefix := `INSERT INTO ` + dataset.QuoteIdent(dataset.TableName) + ` (` + strings.Join(quoted, ", ") + `) VALUES `

	for offset := 0; offset < len(table.Rows); offset += batchRows {
		end := offset + batchRows
		if end > len(table.Rows) {
			end = len(table.Rows)
		}
		batch := table.Rows[offset:end]

		var builder strings.Builder
		builder.WriteString(prefix)
		args := make([]any, 0, len(batch)*columnCount)
		for rowIndex, row := range batch {
			if rowIndex > 0 {
				builder.WriteString(", ")
			}
			builder.WriteByte('(')
			for columnIndex := 0; columnIndex < columnCount; columnIndex++ {
				if columnIndex > 0 {
					builder.WriteString(", ")
				}
				builder.WriteByte('$')
				builder.WriteString(strconv.Itoa(len(args) + 1))
				var value any
				if columnIndex < len(row) {
					value = row[columnIndex]
				}
				args = append(args, value)
			}
			builder.WriteByte(')')
		}
		if _, err := tx.ExecContext(ctx, builder.String(), args...); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", offset+1, end, err)
		}
	}
	return nil
}

func (s *Store) Schema(ctx context.Context) ([]dataset.ColumnSchema, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.column_name,
       c.data_type,
       c.is_nullable = 'NO' AS not_null,
       c.column_default,
       EXISTS (
         SELECT 1
         FROM information_schema.table_constraints tc
         JOIN information_schema.key_column_usage k
           ON k.constraint_name = tc.constraint_name
          AND k.table_schema = tc.table_schema
          AND k.table_name = tc.table_name
         WHERE tc.constraint_type = 'PRIMARY KEY'
           AND tc.table_schema = c.table_schema
           AND tc.table_name = c.table_name
           AND k.column_name = c.column_name
       ) AS primary_key
FROM information_schema.columns c
WHERE c.table_schema = current_schema()
  AND c.table_name = $1
ORDER BY c.ordinal_position`, dataset.TableName)
	if err != nil {
		return nil, &dataset.StorageError{Op: "schema", Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns := make([]dataset.ColumnSchema, 0)
	for rows.Next() {
		var (
			column        dataset.ColumnSchema
			columnDefault sql.NullString
		)
		if err := rows.Scan(&column.Name, &column.Type, &column.NotNull, &columnDefault, &column.PrimaryKey); err != nil {
			return nil, &dataset.StorageError{Op: "schema", Err: fmt.Errorf("scan column info: %w", err)}
		}
		if columnDefault.Valid {
			value := columnDefault.String
			column.Default = &value
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, &dataset.StorageError{Op: "schema", Err: fmt.Errorf("iterate column info: %w", err)}
	}
	if len(columns) == 0 {
		return nil, &dataset.StorageError{Op: "schema", Err: dataset.ErrNoDataset}
	}
	return columns, nil
}

func (s *Store) Query(ctx context.Context, sqlText string) (dataset.ResultSet, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return dataset.ResultSet{}, classifyQueryError(sqlText, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return dataset.ResultSet{}, classifyQueryError(sqlText, fmt.Errorf("query columns: %w", err))
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return dataset.ResultSet{}, classifyQueryError(sqlText, fmt.Errorf("scan row: %w", err))
		}
		resultRows = append(resultRows, dataset.NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return dataset.ResultSet{}, classifyQueryError(sqlText, fmt.Errorf("iterate rows: %w", err))
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
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func decode(src dataset.Source) (tabular.Table, error) {
	switch src.Format {
	case dataset.FormatCSV:
		return tabular.DecodeCSV(src.Body)
	case dataset.FormatParquet:
		payload, err := io.ReadAll(src.Body)
		if err != nil {
			return tabular.Table{}, fmt.Errorf("read parquet payload: %w", err)
		}
		return tabular.DecodeParquet(bytes.NewReader(payload), int64(len(payload)))
	default:
		return tabular.Table{}, fmt.Errorf("unsupported format %q", src.Format)
	}
}

func createTableSQL(columns []tabular.Column) string {
	definitions := make([]string, len(columns))
	for i, column := range columns {
		definitions[i] = dataset.QuoteIdent(column.Name) + " " + columnType(column.Type)
	}
	return `CREATE TABLE ` + dataset.QuoteIdent(dataset.TableName) + ` (` + strings.Join(definitions, ", ") + `)`
}

func columnType(columnType tabular.ColumnType) string {
	switch columnType {
	case tabular.TypeInteger:
		return "BIGINT"
	case tabular.TypeFloat:
		return "DOUBLE PRECISION"
	case tabular.TypeBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// Errors reported by the server are about the statement; anything else means
// the database could not be reached.
func classifyQueryError(sqlText string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &dataset.QueryError{SQL: sqlText, Err: err}
	}
	return &dataset.StorageError{Op: "query", Err: err}
}

func classifyLoadError(format dataset.Format, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &dataset.LoadError{Format: format, Err: err}
	}
	return &dataset.StorageError{Op: "load", Err: err}
}
