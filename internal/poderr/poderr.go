// Package poderr defines the error taxonomy shared by the pod client
// packages. Every failure surfaced to callers carries one of the kind
// sentinels so it can be classified with errors.Is.
package poderr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind sentinels. Use errors.Is(err, poderr.ErrNotFound) to check.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrProtocol       = errors.New("protocol error")
	ErrAuthentication = errors.New("authentication error")
	ErrNotFound       = errors.New("not found")
	ErrTransport      = errors.New("transport error")
)

// maxDescription caps how much of a response body is kept in an Error.
const maxDescription = 512

// Error is a classified failure. Method, URI and Status are set when the
// failure is tied to an HTTP exchange.
type Error struct {
	Kind        error // one of the kind sentinels
	Op          string
	Method      string
	URI         string
	Status      int
	Description string
	Err         error // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	b.WriteString(e.Kind.Error())

	if e.Method != "" || e.URI != "" {
		fmt.Fprintf(&b, " (%s %s", e.Method, e.URI)

		if e.Status != 0 {
			fmt.Fprintf(&b, " -> HTTP %d", e.Status)
		}

		b.WriteString(")")
	}

	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// New builds an Error of the given kind for op.
func New(kind error, op, description string) *Error {
	return &Error{Kind: kind, Op: op, Description: description}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Configuration reports a caller-side or local setup mistake.
func Configuration(op, format string, args ...any) *Error {
	return New(ErrConfiguration, op, fmt.Sprintf(format, args...))
}

// Protocol reports an unexpected or malformed provider response.
func Protocol(op, format string, args ...any) *Error {
	return New(ErrProtocol, op, fmt.Sprintf(format, args...))
}

// NotFound reports a missing container or resource.
func NotFound(op, format string, args ...any) *Error {
	return New(ErrNotFound, op, fmt.Sprintf(format, args...))
}

// FromResponse classifies a non-2xx response.
func FromResponse(op, method, uri string, status int, body []byte) *Error {
	return &Error{
		Kind:        KindForStatus(status),
		Op:          op,
		Method:      method,
		URI:         uri,
		Status:      status,
		Description: excerpt(body),
	}
}

// KindForStatus maps an HTTP status code to a kind sentinel.
// Returns nil for 2xx codes.
func KindForStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuthentication
	default:
		return ErrProtocol
	}
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxDescription {
		s = s[:maxDescription] + "..."
	}

	return s
}
