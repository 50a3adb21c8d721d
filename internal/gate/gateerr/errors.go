// Package gateerr defines the gate's error taxonomy, independent of the
// transport that eventually surfaces it as an HTTP status.
package gateerr

import "net/http"

// Kind classifies a gate-side failure.
type Kind int

const (
	// InvalidRequest covers malformed bodies, unknown scope names, and
	// challenge mismatches.
	InvalidRequest Kind = iota
	// Unauthorized covers unknown agents, bad api keys, bad signatures,
	// stale timestamps, and bad or expired tokens.
	Unauthorized
	// Forbidden covers a token missing a required scope.
	Forbidden
	// NotFound covers an unknown registration_id.
	NotFound
)

// Error is a taxonomy-classified gate failure with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status maps a Kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case InvalidRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// New constructs an Error of the given kind with the given message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}
