package duckdb

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/askcsv/askcsv/internal/dataset"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func loadCSV(t *testing.T, store *Store, body string) dataset.LoadResult {
	t.Helper()
	result, err := store.Load(context.Background(), dataset.Source{Format: dataset.FormatCSV, Body: strings.NewReader(body)})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return result
}

func TestSchemaBeforeLoadReportsNoDataset(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Schema(context.Background())
	var storageErr *dataset.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %T %v", err, err)
	}
	if !errors.Is(err, dataset.ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
}

func TestLoadReportsColumnsAndRowCount(t *testing.T) {
	store := newTestStore(t)

	result := loadCSV(t, store, "id,name\n1,a\n2,b\n")
	if result.Version != 1 {
		t.Fatalf("Version = %d", result.Version)
	}
	if result.RowCount != 2 {
		t.Fatalf("RowCount = %d", result.RowCount)
	}
	if strings.Join(result.Columns, ",") != "id,name" {
		t.Fatalf("Columns = %#v", result.Columns)
	}
}

func TestSchemaIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id,name\n1,a\n2,b\n")

	first, err := store.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	second, err := store.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("schema lengths = %d, %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Name != second[i].Name || first[i].Type != second[i].Type {
			t.Fatalf("schema[%d] differs: %#v vs %#v", i, first[i], second[i])
		}
	}
	if first[0].Name != "id" || first[1].Name != "name" {
		t.Fatalf("schema = %#v", first)
	}
	if first[0].PrimaryKey || first[1].PrimaryKey {
		t.Fatalf("unexpected primary key in %#v", first)
	}
}

func TestLoadReplacesPreviousDataset(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id,name\n1,a\n")
	second := loadCSV(t, store, "city,population\nOslo,700000\n")
	if second.Version != 2 {
		t.Fatalf("Version = %d", second.Version)
	}

	schema, err := store.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	names := make([]string, 0, len(schema))
	for _, column := range schema {
		names = append(names, column.Name)
	}
	if strings.Join(names, ",") != "city,population" {
		t.Fatalf("schema columns = %#v", names)
	}

	_, err = store.Query(context.Background(), "SELECT name FROM uploaded_data")
	var queryErr *dataset.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError for dropped column, got %T %v", err, err)
	}
}

func TestQueryCountsLoadedRows(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id,name\n1,a\n2,b\n")

	result, err := store.Query(context.Background(), "SELECT COUNT(*) FROM uploaded_data")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Columns) != 1 || len(result.Rows) != 1 {
		t.Fatalf("result = %#v", result)
	}
	if result.Rows[0][0] != int64(2) {
		t.Fatalf("count = %#v", result.Rows[0][0])
	}
	records := result.Records()
	if value, ok := records[0].Get(result.Columns[0]); !ok || value != int64(2) {
		t.Fatalf("records = %#v", records)
	}
}

func TestQueryReturnsStringsForTextColumns(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id,name\n1,a\n2,b\n")

	result, err := store.Query(context.Background(), "SELECT name FROM uploaded_data ORDER BY id")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 2 || result.Rows[0][0] != "a" || result.Rows[1][0] != "b" {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

func TestQueryUnknownColumnReturnsQueryError(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id,name\n1,a\n")

	_, err := store.Query(context.Background(), "SELECT missing_column FROM uploaded_data")
	var queryErr *dataset.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError, got %T %v", err, err)
	}
	if queryErr.SQL != "SELECT missing_column FROM uploaded_data" {
		t.Fatalf("QueryError.SQL = %q", queryErr.SQL)
	}
}

func TestQueryAfterCloseReturnsStorageError(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err := store.Query(context.Background(), "SELECT 1")
	var storageErr *dataset.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %T %v", err, err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping() error after Close()")
	}
}

func TestFailedLoadKeepsPreviousDataset(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id,name\n1,a\n")

	_, err := store.Load(context.Background(), dataset.Source{
		Format: dataset.FormatParquet,
		Body:   strings.NewReader("not a parquet file"),
	})
	var loadErr *dataset.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %T %v", err, err)
	}
	if store.Version() != 1 {
		t.Fatalf("Version = %d", store.Version())
	}

	result, err := store.Query(context.Background(), "SELECT name FROM uploaded_data")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "a" {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

func TestLoadRejectsEmptyUpload(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), dataset.Source{Format: dataset.FormatCSV, Body: strings.NewReader("")})
	var loadErr *dataset.LoadError
	if !errors.As(err, &loadErr) || !errors.Is(err, errEmptyUpload) {
		t.Fatalf("Load() error = %v, want empty upload LoadError", err)
	}
	if store.Version() != 0 {
		t.Fatalf("Version = %d", store.Version())
	}
}

func TestLoadWithCanceledContextKeepsVersion(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id,name\n1,a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Load(ctx, dataset.Source{Format: dataset.FormatCSV, Body: strings.NewReader("id,name\n2,b\n3,c\n")})
	if err == nil {
		t.Fatal("Load() expected error for canceled context")
	}
	if store.Version() != 1 {
		t.Fatalf("Version = %d, want 1", store.Version())
	}

	result, err := store.Query(context.Background(), "SELECT name FROM uploaded_data")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "a" {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

func TestSchemaAfterDropReportsNoDataset(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id,name\n1,a\n")

	if _, err := store.db.ExecContext(context.Background(), "DROP TABLE uploaded_data"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	_, err := store.Schema(context.Background())
	if !errors.Is(err, dataset.ErrNoDataset) {
		t.Fatalf("Schema() error = %v, want ErrNoDataset", err)
	}

	loadCSV(t, store, "city\nOslo\n")
	if _, err := store.Schema(context.Background()); err != nil {
		t.Fatalf("Schema() after reload error = %v", err)
	}
}

type parquetRow struct {
	ID    int64  `parquet:"id"`
	Value string `parquet:"value"`
}

func TestLoadParquet(t *testing.T) {
	store := newTestStore(t)

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if _, err := writer.Write([]parquetRow{{ID: 1, Value: "a"}, {ID: 2, Value: "b"}, {ID: 3, Value: "c"}}); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}

	result, err := store.Load(context.Background(), dataset.Source{Format: dataset.FormatParquet, Body: buf})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.RowCount != 3 {
		t.Fatalf("RowCount = %d", result.RowCount)
	}

	sum, err := store.Query(context.Background(), "SELECT SUM(id) AS total FROM uploaded_data")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(sum.Rows) != 1 {
		t.Fatalf("rows = %#v", sum.Rows)
	}
	switch total := sum.Rows[0][0].(type) {
	case int64:
		if total != 6 {
			t.Fatalf("total = %d", total)
		}
	case float64:
		if total != 6 {
			t.Fatalf("total = %v", total)
		}
	default:
		t.Fatalf("total = %#v", sum.Rows[0][0])
	}
}

func TestConcurrentReadsDuringLoad(t *testing.T) {
	store := newTestStore(t)
	loadCSV(t, store, "id\n1\n2\n")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Query(context.Background(), "SELECT COUNT(*) FROM uploaded_data"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := store.Load(context.Background(), dataset.Source{Format: dataset.FormatCSV, Body: strings.NewReader("id\n1\n2\n3\n")}); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation error = %v", err)
	}
}
