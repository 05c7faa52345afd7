package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by Client matches exactly one of these
// with errors.Is, except context cancellation which is returned as is.
var (
	ErrTransport  = errors.New("backend unreachable")
	ErrAuth       = errors.New("backend rejected credentials")
	ErrValidation = errors.New("backend rejected request")
	ErrNotFound   = errors.New("backend resource not found")
	ErrServer     = errors.New("backend server error")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("backend: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return KindOf(e.Status)
}

// KindOf maps an HTTP status to its error kind. Unclassified 4xx statuses
// are treated as validation failures.
func KindOf(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	case status >= 400:
		return ErrValidation
	}
	return nil
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServer)
}
