package nl2sql

import (
	"strings"

	"github.com/askcsv/askcsv/internal/dataset"
)

const defaultDialect = "SQL"

type PromptInput struct {
	Schema   []dataset.ColumnSchema
	Question string
	// PriorQuery and Feedback switch the prompt to refinement mode when both
	// are non-empty.
	PriorQuery string
	Feedback   string
	// Dialect names the query engine, e.g. "DuckDB".
	Dialect string
}

func (in PromptInput) Refinement() bool {
	return strings.TrimSpace(in.PriorQuery) != "" && strings.TrimSpace(in.Feedback) != ""
}

// BuildPrompt renders the generation prompt. It is deterministic for a given
// input.
func BuildPrompt(in PromptInput) string {
	dialect := strings.TrimSpace(in.Dialect)
	if dialect == "" {
		dialect = defaultDialect
	}

	var b strings.Builder
	b.WriteString("You are an expert ")
	b.WriteString(dialect)
	b.WriteString(" query writer. Here is the database schema:\n")
	b.WriteString(SchemaText(in.Schema))
	b.WriteString("\n\n")

	if in.Refinement() {
		b.WriteString("User's Original Question: ")
		b.WriteString(in.Question)
		b.WriteString("\nPrevious LLM Response: ")
		b.WriteString(in.PriorQuery)
		b.WriteString("\nAdditional User Description: ")
		b.WriteString(in.Feedback)
		b.WriteString("\n\nBased on the additional details provided by the user, regenerate and refine the ")
		b.WriteString(dialect)
		b.WriteString(" query (assuming table name is '")
		b.WriteString(dataset.TableName)
		b.WriteString("') for better accuracy and completeness.")
	} else {
		b.WriteString("User's Question: ")
		b.WriteString(in.Question)
		b.WriteString("\n\nWrite a ")
		b.WriteString(dialect)
		b.WriteString(" query (assuming table name is '")
		b.WriteString(dataset.TableName)
		b.WriteString("') to answer the question.")
	}
	b.WriteString("\nReturn the query in a ```sql fenced code block.\n")
	return b.String()
}

// SchemaText renders one "<name> <type>" line per column.
func SchemaText(schema []dataset.ColumnSchema) string {
	lines := make([]string, 0, len(schema))
	for _, column := range schema {
		lines = append(lines, column.Name+" "+column.Type)
	}
	return strings.Join(lines, "\n")
}

func BuildSummaryPrompt(question, result string) string {
	var b strings.Builder
	if strings.TrimSpace(question) != "" {
		b.WriteString("Question: ")
		b.WriteString(question)
		b.WriteString("\n\n")
	}
	b.WriteString("Convert the following database query result into a human-readable format:\n\n")
	b.WriteString(result)
	return b.String()
}
