// Package classify maps transport failures, HTTP statuses and remote error
// codes into a small taxonomy with localized, user-facing messages.
package classify

import (
	"fmt"
)

// Kind is the classification of a failed page request.
type Kind string

const (
	// KindNetwork is a transport failure that is neither a timeout nor TLS.
	KindNetwork Kind = "network"

	// KindTimeout is a per-page timeout or an expired session budget.
	KindTimeout Kind = "timeout"

	// KindTLS is a certificate or handshake failure.
	KindTLS Kind = "tls"

	// KindRemoteServer is an HTTP 5xx from the remote API.
	KindRemoteServer Kind = "remote_server"

	// KindRemoteApplication is an error code reported in the response body.
	KindRemoteApplication Kind = "remote_application"

	// KindMalformed is a body that is not the expected JSON shape.
	KindMalformed Kind = "malformed_response"

	// KindEmpty is an empty body on the first page.
	KindEmpty Kind = "empty_response"
)

// Error is a classified failure. Message is safe to show to the caller;
// Error() adds the diagnostic detail intended for logs.
type Error struct {
	Kind       Kind
	Message    string
	RemoteCode string
	StatusCode int
	Detail     string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("crm %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.RemoteCode != "" {
		msg += fmt.Sprintf(" [%s]", e.RemoteCode)
	}
	msg += ": " + e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the localized message for the caller.
func (e *Error) UserMessage() string {
	return e.Message
}
