package domain

import "errors"

// Error taxonomy for the pipeline. Callers classify with errors.Is.
var (
	// ErrTimeout: a single translation call exceeded its deadline.
	// Retried at block level, bounded.
	ErrTimeout = errors.New("translation timed out")

	// ErrConnection: the agent channel was unreachable for one call.
	// Retried at block level, bounded.
	ErrConnection = errors.New("translation channel unavailable")

	// ErrServiceUnavailable: connection establishment exhausted its
	// backoff budget. Run-fatal; a dead channel cannot make progress on
	// any block.
	ErrServiceUnavailable = errors.New("translation service unavailable")

	// ErrValidation: the translated content failed sanity checks
	// (empty, or still dominated by source-script characters).
	// Retried once at block level, then recorded as a failed block.
	ErrValidation = errors.New("translated content failed validation")

	// ErrStructural: the source block cannot be safely merged, e.g. it
	// already carries the bilingual marker. Logged and skipped, never
	// retried.
	ErrStructural = errors.New("block cannot be merged")
)
