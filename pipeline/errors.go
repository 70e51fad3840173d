package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionError means schema or query metadata could not be read from the
// database. It is fatal for the run; the repair loop never retries it.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SynthesisError means the model produced unusable or unsafe output.
// Retryable: the reason text becomes the next attempt's feedback.
type SynthesisError struct {
	Reason string // "unparsable response", "unsafe statement", "unknown column ..."
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("synthesis error: %s", e.Reason)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// ExecutionError means a validated statement was rejected by the database.
// The database's error text is preserved verbatim; it is the primary repair
// signal fed back to the synthesizer.
type ExecutionError struct {
	Query string
	Err   error
	Hint  string // optional enrichment, e.g. the table's actual columns
}

func (e *ExecutionError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%v\n%s", e.Err, e.Hint)
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RenderError means generated plot code failed at runtime inside the
// restricted namespace. Retryable under the plot stage's repair loop.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render error: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// PipelineError is terminal: the retry budget is spent or the run was
// cancelled. It preserves the most recent underlying error for display.
type PipelineError struct {
	Stage     string
	Attempts  int
	Cancelled bool
	Err       error
}

func (e *PipelineError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("%s stage cancelled: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage exhausted after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// retryable reports whether an error represents a bad candidate worth
// regenerating. Validation-gate rejections and execution errors both count;
// connection loss and cancellation do not.
func retryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
