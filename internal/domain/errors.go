package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

// TransientError marks a failure as retryable: provider timeouts, rate
// limits, 5xx responses, storage write hiccups.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure as terminal regardless of remaining retry
// budget: provider 4xx responses, malformed model output.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is classified as non-retryable. Unclassified
// errors are treated as transient so an unexpected failure never burns the
// whole job on a single attempt.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsTransient reports whether err should enter the retry path.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}
