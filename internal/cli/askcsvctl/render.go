package askcsvctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

func (r *runner) printJSON(raw []byte) error {
	if pretty, ok := prettyJSON(raw); ok {
		_, err := fmt.Fprintln(r.stdout, pretty)
		return err
	}
	if len(raw) > 0 {
		_, err := fmt.Fprintln(r.stdout, string(raw))
		return err
	}
	return nil
}

func (r *runner) printLoad(raw []byte) error {
	var response struct {
		Message  string   `json:"message"`
		Version  int64    `json:"version"`
		Columns  []string `json:"columns"`
		RowCount int64    `json:"row_count"`
		Format   string   `json:"format"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return fmt.Errorf("decode load response: %w", err)
	}
	details := fmt.Sprintf("format:  %s\nrows:    %d\ncolumns: %s\nversion: %d",
		response.Format, response.RowCount, strings.Join(response.Columns, ", "), response.Version)
	box := pterm.DefaultBox.WithTitle(response.Message).WithPadding(1).Sprint(details)
	_, err := fmt.Fprintln(r.stdout, box)
	return err
}

func (r *runner) printSchema(raw []byte) error {
	var response struct {
		Table  string `json:"table"`
		Schema []struct {
			Name       string  `json:"column_name"`
			Type       string  `json:"type"`
			NotNull    bool    `json:"not_null"`
			Default    *string `json:"default_value"`
			PrimaryKey bool    `json:"primary_key"`
		} `json:"schema"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return fmt.Errorf("decode schema response: %w", err)
	}
	data := pterm.TableData{{"column", "type", "not null", "default", "primary key"}}
	for _, column := range response.Schema {
		defaultValue := ""
		if column.Default != nil {
			defaultValue = *column.Default
		}
		data = append(data, []string{column.Name, column.Type, yesNo(column.NotNull), defaultValue, yesNo(column.PrimaryKey)})
	}
	return r.printTable(data)
}

func (r *runner) printObjects(raw []byte) error {
	var response struct {
		Objects []struct {
			Key          string    `json:"key"`
			Size         int64     `json:"size_bytes"`
			LastModified time.Time `json:"last_modified"`
		} `json:"objects"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return fmt.Errorf("decode objects response: %w", err)
	}
	if len(response.Objects) == 0 {
		_, err := fmt.Fprintln(r.stdout, "no importable objects")
		return err
	}
	data := pterm.TableData{{"key", "size", "last modified"}}
	for _, object := range response.Objects {
		data = append(data, []string{
			object.Key,
			strconv.FormatInt(object.Size, 10),
			object.LastModified.UTC().Format(time.RFC3339),
		})
	}
	return r.printTable(data)
}

func (r *runner) printCandidate(raw []byte) error {
	if r.jsonOutput {
		return r.printJSON(raw)
	}
	var candidate struct {
		SQL    string `json:"sql_query"`
		Fenced bool   `json:"fenced"`
	}
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("decode query candidate: %w", err)
	}
	if !candidate.Fenced {
		_, _ = fmt.Fprintln(r.stderr, "note: response had no sql code block; showing it as returned")
	}
	_, err := fmt.Fprintln(r.stdout, candidate.SQL)
	return err
}

func (r *runner) printResult(raw []byte) error {
	var response struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
		Stats   struct {
			DurationMs int64 `json:"duration_ms"`
			RowCount   int   `json:"row_count"`
		} `json:"stats"`
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&response); err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}
	if len(response.Columns) == 0 {
		_, err := fmt.Fprintf(r.stdout, "(no columns, %d ms)\n", response.Stats.DurationMs)
		return err
	}

	data := pterm.TableData{response.Columns}
	for _, row := range response.Rows {
		cells := make([]string, len(response.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = formatCell(row[i])
			}
		}
		data = append(data, cells)
	}
	if err := r.printTable(data); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.stdout, "%d row(s) in %d ms\n", response.Stats.RowCount, response.Stats.DurationMs)
	return err
}

func (r *runner) printAnswer(raw []byte) error {
	if r.jsonOutput {
		return r.printJSON(raw)
	}
	var response struct {
		FormattedAnswer string `json:"formatted_answer"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return fmt.Errorf("decode answer response: %w", err)
	}
	_, err := fmt.Fprintln(r.stdout, response.FormattedAnswer)
	return err
}

func (r *runner) printTable(data pterm.TableData) error {
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	_, err = fmt.Fprintln(r.stdout, rendered)
	return err
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
