// Package tabular decodes uploaded CSV and Parquet files into an in-memory
// table with inferred column types, for storage engines that cannot read
// those formats natively.
package tabular

import (
	"bytes"
	"path"
	"strings"

	"github.com/askcsv/askcsv/internal/dataset"
)

type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeBoolean ColumnType = "boolean"
	TypeText    ColumnType = "text"
)

type Column struct {
	Name string
	Type ColumnType
}

type Table struct {
	Columns []Column
	Rows    [][]any
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

var parquetMagic = []byte("PAR1")

// DetectFormat picks the upload format from the file name, falling back to
// the Parquet magic bytes at the start of the payload. Anything else is CSV.
func DetectFormat(fileName string, head []byte) dataset.Format {
	switch strings.ToLower(path.Ext(strings.TrimSpace(fileName))) {
	case ".parquet", ".pq":
		return dataset.FormatParquet
	case ".csv", ".txt":
		return dataset.FormatCSV
	}
	if bytes.HasPrefix(head, parquetMagic) {
		return dataset.FormatParquet
	}
	return dataset.FormatCSV
}
