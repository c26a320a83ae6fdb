package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// TransportError is a failure below HTTP: DNS, connect, TLS, timeout or a
// broken body read. It carries the raw diagnostic for classification.
type TransportError struct {
	// Op names the step that failed ("post", "read body", ...).
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("crm transport error (%s): %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline. It does not inspect
// the message text; package classify does that.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// withoutURL drops the *url.Error wrapper net/http puts around transport
// failures. Its message embeds the webhook URL, which is a credential.
func withoutURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}
