package rfb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"testing"
)

func TestErrorIs(t *testing.T) {
	err := &Error{Kind: KindSecurityResultFailure, Op: "security result", Reason: "bad password"}

	if !errors.Is(err, ErrSecurityResultFailure) {
		t.Error("errors.Is(err, ErrSecurityResultFailure) = false, want true")
	}
	if errors.Is(err, ErrSecurityRefused) {
		t.Error("errors.Is(err, ErrSecurityRefused) = true, want false")
	}

	wrapped := fmt.Errorf("connect: %w", err)
	if !errors.Is(wrapped, ErrSecurityResultFailure) {
		t.Error("errors.Is(wrapped, ErrSecurityResultFailure) = false, want true")
	}
	if KindOf(wrapped) != KindSecurityResultFailure {
		t.Errorf("KindOf(wrapped) = %v, want %v", KindOf(wrapped), KindSecurityResultFailure)
	}
	if KindOf(io.EOF) != 0 {
		t.Errorf("KindOf(io.EOF) = %v, want 0", KindOf(io.EOF))
	}

	// A populated *Error is not a sentinel.
	other := &Error{Kind: KindSecurityResultFailure, Reason: "other"}
	if errors.Is(err, other) {
		t.Error("errors.Is matched a non-sentinel target")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindSecurityRefused, Op: "read security offer", Reason: "too many connections"}
	msg := err.Error()
	for _, want := range []string{"security refused", "read security offer", "too many connections"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}

	cause := errors.New("boom")
	err = newError(KindTruncatedFrame, "read ServerInit", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap() did not expose the cause")
	}
}

func TestErrorKindString(t *testing.T) {
	for k := KindTruncatedFrame; k <= KindClosed; k++ {
		if s := k.String(); strings.HasPrefix(s, "ErrorKind(") {
			t.Errorf("ErrorKind %d has no name", int(k))
		}
	}
	if s := ErrorKind(99).String(); s != "ErrorKind(99)" {
		t.Errorf("ErrorKind(99).String() = %q", s)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassifyIOError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"eof", io.EOF, KindTruncatedFrame},
		{"unexpected eof", io.ErrUnexpectedEOF, KindTruncatedFrame},
		{"closed pipe", io.ErrClosedPipe, KindTruncatedFrame},
		{"deadline", os.ErrDeadlineExceeded, KindTimeout},
		{"context deadline", context.DeadlineExceeded, KindTimeout},
		{"net timeout", timeoutError{}, KindTimeout},
		{"net closed", net.ErrClosed, KindClosed},
		{"canceled", context.Canceled, KindClosed},
		{"other", errors.New("connection reset"), KindTruncatedFrame},
		{"already classified", &Error{Kind: KindFrameTooLarge}, KindFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyIOError("op", tt.err)
			if KindOf(got) != tt.want {
				t.Errorf("classifyIOError(%v) kind = %v, want %v", tt.err, KindOf(got), tt.want)
			}
		})
	}

	if classifyIOError("op", nil) != nil {
		t.Error("classifyIOError(nil) should be nil")
	}
}
