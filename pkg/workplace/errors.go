package workplace

import (
	"errors"
	"net/http"
)

// MutationRejectedMessage is shown when the backend refuses a write on a row
// the caller does not own.
const MutationRejectedMessage = "failed, please retry"

var (
	// ErrMutationFailed marks a write rejected by the backend's owner rules.
	ErrMutationFailed = errors.New(MutationRejectedMessage)
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("workplace: store closed")
)

// APIError is a non-2xx response from the Workplace API. Message is the
// server's text, suitable for showing to the user as is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// Is lets callers match ownership rejections and expired sessions with
// errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrMutationFailed:
		return e.Status == http.StatusForbidden
	case ErrNotAuthenticated:
		return e.Status == http.StatusUnauthorized
	}
	return false
}
