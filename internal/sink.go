package internal

import (
	"context"
	"fmt"
)

// RowSink appends one positional row per relevant message to a remote
// tabular store. Implementations own their connection lifecycle and any
// retry policy; callers treat an Append error as a hard failure for that
// event.
type RowSink interface {
	Name() string
	Append(ctx context.Context, row []string) (int64, error)
}

// SinkError is the failure surface of a RowSink. StatusCode is the upstream
// HTTP status when one exists, zero otherwise.
type SinkError struct {
	Message    string
	StatusCode int
}

func (e *SinkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sink: %s (http %d)", e.Message, e.StatusCode)
	}
	return "sink: " + e.Message
}
