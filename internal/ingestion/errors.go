package ingestion

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned when a listing fetch has no API key.
var ErrMissingAPIKey = errors.New("missing API key")

// IngestError reports a listing source that is unreachable or whose
// response cannot be turned into a snapshot. No snapshot accompanies it.
type IngestError struct {
	Reason     string // short description of the failure
	StatusCode int    // HTTP status, 0 when the failure is not an HTTP status
	Err        error  // underlying cause, may be nil
}

func (e *IngestError) Error() string {
	msg := "ingest: " + e.Reason
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// IsIngestError reports whether err is or wraps an *IngestError.
func IsIngestError(err error) bool {
	var ie *IngestError
	return errors.As(err, &ie)
}
