// Package provider adapts model SDKs to the streaming Backend contract.
//
// The set of providers is closed: config.Provider is validated when the
// config loads and New maps each tag to one concrete implementation.
package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/petasbytes/go-chat/internal/config"
	"github.com/petasbytes/go-chat/memory"
)

// Stream is a lazy, finite sequence of text fragments.
//
// Next advances to the next non-empty fragment and reports false at the end
// of the response or on failure; Err distinguishes the two and, when set, is
// a *BackendError. Close releases the underlying connection and is safe to
// call more than once.
type Stream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Backend produces a streamed completion for an ordered message list.
// Cancelling ctx closes the stream; Next then returns false and Err reports
// KindCanceled.
type Backend interface {
	StreamCompletion(ctx context.Context, msgs []memory.Message) Stream
}

// Checker is implemented by backends that can probe availability cheaply.
type Checker interface {
	Ping(ctx context.Context) error
}

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customises New.
type Option func(*options)

// WithHTTPClient routes SDK traffic through c.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger used for request lifecycle records.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds the backend for m.
func New(m config.Model, opts ...Option) (Backend, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	switch m.Provider {
	case config.ProviderOpenAICompatible:
		return newOpenAIBackend(m, o), nil
	case config.ProviderAnthropic:
		return newAnthropicBackend(m, o), nil
	default:
		return nil, &config.Error{Field: "provider", Err: fmt.Errorf("%w: %q", config.ErrUnknownProvider, m.Provider)}
	}
}

// sdkStream is the shape shared by the SDKs' SSE streams.
type sdkStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// textStream projects an SDK event stream onto text fragments, skipping
// events that carry no text.
type textStream[T any] struct {
	src    sdkStream[T]
	text   func(T) string
	logger *slog.Logger
	cur    string
	err    error
	closed bool
}

func newTextStream[T any](src sdkStream[T], text func(T) string, logger *slog.Logger) *textStream[T] {
	return &textStream[T]{src: src, text: text, logger: logger}
}

func (s *textStream[T]) Next() bool {
	if s.err != nil || s.closed {
		return false
	}
	for s.src.Next() {
		if t := s.text(s.src.Current()); t != "" {
			s.cur = t
			return true
		}
	}
	if err := s.src.Err(); err != nil {
		s.err = Classify(err)
		s.logger.Error("stream failed", "kind", s.err.(*BackendError).Kind.String(), "error", err)
	}
	s.cur = ""
	return false
}

func (s *textStream[T]) Current() string { return s.cur }

func (s *textStream[T]) Err() error { return s.err }

func (s *textStream[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}

// failedStream reports err on the first Next; used when a request cannot be
// built at all.
type failedStream struct{ err error }

func (failedStream) Next() bool      { return false }
func (failedStream) Current() string { return "" }
func (f failedStream) Err() error    { return f.err }
func (failedStream) Close() error    { return nil }
