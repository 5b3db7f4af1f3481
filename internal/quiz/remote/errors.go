package remote

import "errors"

// Errors returned by remote store operations. Check them with errors.Is():
//
//	if errors.Is(err, remote.ErrUnavailable) {
//	    // keep serving the cached value
//	}
var (
	// ErrUnavailable is returned when the backend cannot be reached or fails
	// to execute a request.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a transaction lost every commit race
	// allowed by the store's retry policy.
	ErrConflict = errors.New("transaction conflict")
)

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConflict)
}
