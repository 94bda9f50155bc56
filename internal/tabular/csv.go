package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DecodeCSV reads a header row plus records. Empty cells become NULL. Each
// column is typed as the narrowest of integer, float, boolean, text that fits
// every non-empty cell. Blank headers are named "Unnamed: <index>" and
// repeated headers get a ".<n>" suffix.
func DecodeCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, fmt.Errorf("csv has no header row")
		}
		return Table{}, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	names := columnNames(header)

	raw := make([][]string, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read csv record %d: %w", len(raw)+1, err)
		}
		if len(record) > len(names) {
			return Table{}, fmt.Errorf("csv record %d has %d fields, header has %d", len(raw)+1, len(record), len(names))
		}
		raw = append(raw, record)
	}

	columns := make([]Column, len(names))
	for i, name := range names {
		columns[i] = Column{Name: name, Type: inferType(raw, i)}
	}

	rows := make([][]any, 0, len(raw))
	for _, record := range raw {
		row := make([]any, len(columns))
		for i, column := range columns {
			if i >= len(record) {
				continue
			}
			row[i] = convertCell(record[i], column.Type)
		}
		rows = append(rows, row)
	}
	return Table{Columns: columns, Rows: rows}, nil
}

func columnNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if count, ok := seen[name]; ok {
			seen[name] = count + 1
			name = name + "." + strconv.Itoa(count+1)
		} else {
			seen[name] = 0
		}
		names[i] = name
	}
	return names
}

func inferType(records [][]string, index int) ColumnType {
	isInt, isFloat, isBool := true, true, true
	nonEmpty := 0
	for _, record := range records {
		if index >= len(record) {
			continue
		}
		cell := strings.TrimSpace(record[index])
		if cell == "" {
			continue
		}
		nonEmpty++
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, ok := parseBool(cell); !ok {
				isBool = false
			}
		}
	}
	switch {
	case nonEmpty == 0:
		return TypeText
	case isInt:
		return TypeInteger
	case isFloat:
		return TypeFloat
	case isBool:
		return TypeBoolean
	default:
		return TypeText
	}
}

func convertCell(raw string, columnType ColumnType) any {
	cell := strings.TrimSpace(raw)
	if cell == "" {
		return nil
	}
	switch columnType {
	case TypeInteger:
		value, _ := strconv.ParseInt(cell, 10, 64)
		return value
	case TypeFloat:
		value, _ := strconv.ParseFloat(cell, 64)
		return value
	case TypeBoolean:
		value, _ := parseBool(cell)
		return value
	default:
		return raw
	}
}

// parseBool accepts only the spellings a spreadsheet export produces, so that
// 0/1 columns stay integers.
func parseBool(cell string) (bool, bool) {
	switch strings.ToLower(cell) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
