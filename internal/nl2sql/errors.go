package nl2sql

import "fmt"

type GenerationErrorKind string

const (
	KindTransport         GenerationErrorKind = "transport"
	KindStatus            GenerationErrorKind = "status"
	KindMalformedResponse GenerationErrorKind = "malformed_response"
	KindCredential        GenerationErrorKind = "credential"
)

// GenerationError is the single failure type of a generation round trip.
// StatusCode and Body are set for KindStatus only.
type GenerationError struct {
	Kind       GenerationErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *GenerationError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("generation failed: status=%d body=%s", e.StatusCode, e.Body)
	default:
		if e.Err == nil {
			return fmt.Sprintf("generation failed: %s", e.Kind)
		}
		return fmt.Sprintf("generation failed: %s: %v", e.Kind, e.Err)
	}
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
