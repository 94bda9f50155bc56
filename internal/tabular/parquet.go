package tabular

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// DecodeParquet reads a flat Parquet file. Nested or repeated columns are
// rejected.
func DecodeParquet(r io.ReaderAt, size int64) (Table, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return Table{}, fmt.Errorf("open parquet file: %w", err)
	}

	schema := file.Schema()
	paths := schema.Columns()
	columns := make([]Column, len(paths))
	kinds := make([]parquet.Kind, len(paths))
	for _, columnPath := range paths {
		leaf, ok := schema.Lookup(columnPath...)
		if !ok {
			return Table{}, fmt.Errorf("parquet column %q not found in schema", strings.Join(columnPath, "."))
		}
		if len(columnPath) != 1 || leaf.MaxRepetitionLevel > 0 {
			return Table{}, fmt.Errorf("parquet column %q is nested or repeated", strings.Join(columnPath, "."))
		}
		kind := leaf.Node.Type().Kind()
		columns[leaf.ColumnIndex] = Column{Name: columnPath[0], Type: typeForKind(kind)}
		kinds[leaf.ColumnIndex] = kind
	}

	rows := make([][]any, 0, file.NumRows())
	buffer := make([]parquet.Row, 128)
	for _, rowGroup := range file.RowGroups() {
		if err := readRowGroup(rowGroup, buffer, kinds, &rows); err != nil {
			return Table{}, err
		}
	}
	return Table{Columns: columns, Rows: rows}, nil
}

func readRowGroup(rowGroup parquet.RowGroup, buffer []parquet.Row, kinds []parquet.Kind, out *[][]any) error {
	reader := rowGroup.Rows()
	defer func() { _ = reader.Close() }()

	for {
		n, err := reader.ReadRows(buffer)
		for _, row := range buffer[:n] {
			values := make([]any, len(kinds))
			for _, value := range row {
				index := value.Column()
				if index < 0 || index >= len(values) {
					continue
				}
				values[index] = convertValue(value)
			}
			*out = append(*out, values)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read parquet rows: %w", err)
		}
	}
}

func typeForKind(kind parquet.Kind) ColumnType {
	switch kind {
	case parquet.Boolean:
		return TypeBoolean
	case parquet.Int32, parquet.Int64:
		return TypeInteger
	case parquet.Float, parquet.Double:
		return TypeFloat
	default:
		return TypeText
	}
}

func convertValue(value parquet.Value) any {
	if value.IsNull() {
		return nil
	}
	switch value.Kind() {
	case parquet.Boolean:
		return value.Boolean()
	case parquet.Int32:
		return int64(value.Int32())
	case parquet.Int64:
		return value.Int64()
	case parquet.Float:
		return float64(value.Float())
	case parquet.Double:
		return value.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(value.ByteArray())
	default:
		return value.String()
	}
}
