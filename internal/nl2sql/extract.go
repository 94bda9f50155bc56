package nl2sql

import "strings"

const (
	fenceMarker  = "```"
	fenceOpenSQL = fenceMarker + "sql"
)

// Extract recovers a query from generated text. The first line reading
// exactly ```sql opens a block and the next line reading exactly ``` closes
// it; the text in between, trimmed, is the query. Without a complete block the
// trimmed input is returned unchanged with Fenced false.
func Extract(raw string) Candidate {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	open := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if open < 0 {
			if trimmed == fenceOpenSQL {
				open = i
			}
			continue
		}
		if trimmed == fenceMarker {
			return Candidate{
				SQL:    strings.TrimSpace(strings.Join(lines[open+1:i], "\n")),
				Fenced: true,
			}
		}
	}
	return Candidate{SQL: strings.TrimSpace(raw), Fenced: false}
}
