// Package nl2sql turns a question about the live dataset into a candidate SQL
// query: it renders prompts, calls an OpenAI-compatible chat-completion
// service, and recovers the query from the generated text.
package nl2sql

import "context"

// Generator returns the raw text produced for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Candidate is a query recovered from generated text. Fenced reports whether
// it came from a ```sql block rather than the whole response.
type Candidate struct {
	SQL    string `json:"sql_query"`
	Fenced bool   `json:"fenced"`
}
