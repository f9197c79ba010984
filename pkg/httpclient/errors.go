package httpclient

import "fmt"

// RetryExhaustedError is returned when a retryable status persists past
// the attempt budget. Callers can treat it as a transient failure.
type RetryExhaustedError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("HTTP %d after %d attempts", e.StatusCode, e.Attempts)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryable marks the error as transient for upstream classification.
func (e *RetryExhaustedError) IsRetryable() bool {
	return true
}
