package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failed external call.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindRejected     Kind = "rejected"
	KindTransport    Kind = "transport"
	KindUnauthorized Kind = "unauthorized"
)

// Error is returned by every adapter call that did not produce a usable result.
// Raw holds the provider payload, if any, for the audit trail.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int
	Raw        string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a gateway Error of kind k.
func IsKind(err error, k Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == k
}

// classifyTransport maps a client.Do failure to Timeout or Transport.
func classifyTransport(op string, err error) *Error {
	kind := KindTransport
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// classifyStatus maps a non-2xx response.
func classifyStatus(op string, status int, message, raw string) *Error {
	kind := KindRejected
	if status == 401 || status == 403 {
		kind = KindUnauthorized
	}
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", status)
	}
	return &Error{Kind: kind, Op: op, Message: message, StatusCode: status, Raw: raw}
}
