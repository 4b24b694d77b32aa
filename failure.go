package eventq

import "context"

// FailureAction defines how a failed item should be handled.
type FailureAction int

const (
	// FailureRetry schedules another attempt with backoff, subject to the
	// item's retry budget.
	FailureRetry FailureAction = iota
	// FailureDeadLetter dead-letters the item immediately, bypassing the
	// remaining retry budget.
	FailureDeadLetter
)

// FailureClassifier decides whether a failure is retryable. Transient
// failures (timeouts, upstream 5xx) should retry; structural failures
// (malformed payloads) should dead-letter.
type FailureClassifier func(ctx context.Context, item Item, err error) FailureAction

func defaultFailureClassifier(context.Context, Item, error) FailureAction {
	return FailureRetry
}
