package pipeline

import (
	"context"
	"fmt"
)

// attemptFunc runs one synthesize+execute attempt. feedback is empty on the
// first attempt and carries the previous attempt's error text afterwards.
type attemptFunc[T any] func(ctx context.Context, attempt int, feedback string) (T, error)

// repairLoop is the shared bounded retry-with-feedback mechanism. Both the
// SQL stage and the plot stage instantiate it: language-model output is
// unreliable by construction, so every failure from the wrapped pair becomes
// context for the next synthesis call, up to maxAttempts total attempts.
//
// Gate rejections and execution errors count toward the same bound; both mean
// the candidate must be regenerated. Non-retryable errors (connection loss,
// cancellation) propagate immediately.
func repairLoop[T any](ctx context.Context, stage string, maxAttempts int, logf func(string), fn attemptFunc[T]) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	feedback := ""
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &PipelineError{Stage: stage, Attempts: attempt - 1, Cancelled: true, Err: err}
		}

		out, err := fn(ctx, attempt, feedback)
		if err == nil {
			if attempt > 1 && logf != nil {
				logf(fmt.Sprintf("[REPAIR] %s stage recovered on attempt %d/%d", stage, attempt, maxAttempts))
			}
			return out, nil
		}

		if !retryable(err) {
			return zero, err
		}

		lastErr = err
		feedback = err.Error()
		if logf != nil {
			logf(fmt.Sprintf("[REPAIR] %s stage attempt %d/%d failed: %s", stage, attempt, maxAttempts, truncate(feedback, 300)))
		}
	}

	return zero, &PipelineError{Stage: stage, Attempts: maxAttempts, Err: lastErr}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
