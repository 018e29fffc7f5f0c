package rfb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// ErrorKind represents the category of a protocol failure.
type ErrorKind int

const (
	// KindTruncatedFrame means fewer bytes arrived than a field requires,
	// including a clean EOF in the middle of a field.
	KindTruncatedFrame ErrorKind = iota + 1
	// KindInvalidVersionFormat means the 12-byte version string was malformed.
	KindInvalidVersionFormat
	// KindVersionMismatch means the peer did not echo the version we sent.
	KindVersionMismatch
	// KindUnsupportedVersion means the server advertised a version we do not speak.
	KindUnsupportedVersion
	// KindNoCommonSecurityType is a local failure: no offered type is acceptable.
	KindNoCommonSecurityType
	// KindSecurityRefused means the server sent zero security types.
	KindSecurityRefused
	// KindInvalidSecurityType means the client selected a type that was not offered.
	KindInvalidSecurityType
	// KindSecurityResultFailure means the security result was nonzero.
	KindSecurityResultFailure
	// KindInvalidEncoding means a string field was not valid UTF-8.
	KindInvalidEncoding
	// KindTimeout means a bounded read did not complete in time.
	KindTimeout
	// KindUnknownMessageType means a post-handshake tag has no known framing.
	KindUnknownMessageType
	// KindUnsupportedEncoding means a rectangle used an encoding with no decoder.
	KindUnsupportedEncoding
	// KindFrameTooLarge means a length prefix exceeded the configured limit.
	KindFrameTooLarge
	// KindClosed means the transport was closed locally.
	KindClosed
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindTruncatedFrame:
		return "truncated frame"
	case KindInvalidVersionFormat:
		return "invalid version format"
	case KindVersionMismatch:
		return "version mismatch"
	case KindUnsupportedVersion:
		return "unsupported version"
	case KindNoCommonSecurityType:
		return "no common security type"
	case KindSecurityRefused:
		return "security refused"
	case KindInvalidSecurityType:
		return "invalid security type"
	case KindSecurityResultFailure:
		return "security result failure"
	case KindInvalidEncoding:
		return "invalid encoding"
	case KindTimeout:
		return "timeout"
	case KindUnknownMessageType:
		return "unknown message type"
	case KindUnsupportedEncoding:
		return "unsupported encoding"
	case KindFrameTooLarge:
		return "frame too large"
	case KindClosed:
		return "connection closed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the error type returned by every codec, handshake and session
// operation in this package.
type Error struct {
	Kind   ErrorKind // Category of failure
	Op     string    // Step or field being processed, e.g. "read ServerInit"
	Reason string    // Peer-supplied reason string, if any
	Err    error     // Underlying error, if any
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := "rfb: " + e.Kind.String()
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Reason != "" {
		msg += fmt.Sprintf(": %q", e.Reason)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This lets callers
// match against the Err* sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Reason == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrTruncatedFrame        = &Error{Kind: KindTruncatedFrame}
	ErrInvalidVersionFormat  = &Error{Kind: KindInvalidVersionFormat}
	ErrVersionMismatch       = &Error{Kind: KindVersionMismatch}
	ErrUnsupportedVersion    = &Error{Kind: KindUnsupportedVersion}
	ErrNoCommonSecurityType  = &Error{Kind: KindNoCommonSecurityType}
	ErrSecurityRefused       = &Error{Kind: KindSecurityRefused}
	ErrInvalidSecurityType   = &Error{Kind: KindInvalidSecurityType}
	ErrSecurityResultFailure = &Error{Kind: KindSecurityResultFailure}
	ErrInvalidEncoding       = &Error{Kind: KindInvalidEncoding}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrUnknownMessageType    = &Error{Kind: KindUnknownMessageType}
	ErrUnsupportedEncoding   = &Error{Kind: KindUnsupportedEncoding}
	ErrFrameTooLarge         = &Error{Kind: KindFrameTooLarge}
	ErrClosed                = &Error{Kind: KindClosed}
)

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the ErrorKind carried by err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// classifyIOError maps a transport read or write failure onto the error taxonomy.
// Already-classified errors pass through untouched.
func classifyIOError(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe):
		return newError(KindTruncatedFrame, op, err)
	case os.IsTimeout(err), errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, op, err)
	case errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
		return newError(KindClosed, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, op, err)
	}

	return newError(KindTruncatedFrame, op, err)
}
