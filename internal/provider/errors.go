package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

// Kind classifies a backend failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectionFailure
	KindModelNotFound
	KindTimeout
	// KindCanceled marks a stream closed by operator interrupt.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailure:
		return "connection failure"
	case KindModelNotFound:
		return "model not found"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "interrupted"
	}
	return "unknown"
}

// BackendError is a turn-scoped failure. It never ends the session.
type BackendError struct {
	Kind   Kind
	Status int // HTTP status when the server answered, else 0
	Err    error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Annotation is the marker appended to a partial assistant message.
func (e *BackendError) Annotation() string {
	if e.Kind == KindCanceled {
		return "[interrupted]"
	}
	return fmt.Sprintf("[error: %s]", e.Kind)
}

// Classify maps an SDK or transport error onto a BackendError.
func Classify(err error) *BackendError {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}

	if errors.Is(err, context.Canceled) {
		return &BackendError{Kind: KindCanceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &BackendError{Kind: KindTimeout, Err: err}
	}

	if status, ok := statusCode(err); ok {
		return &BackendError{Kind: kindForStatus(status), Status: status, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &BackendError{Kind: KindTimeout, Err: err}
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &urlErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return &BackendError{Kind: KindConnectionFailure, Err: err}
	}
	return &BackendError{Kind: KindUnknown, Err: err}
}

func statusCode(err error) (int, bool) {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode, true
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode, true
	}
	return 0, false
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindModelNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindConnectionFailure
	}
	return KindUnknown
}
