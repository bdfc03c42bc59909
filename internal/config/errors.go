package config

import (
	"errors"
	"fmt"
)

var (
	ErrRoleNotFound    = errors.New("role not defined")
	ErrModelNotFound   = errors.New("model not defined")
	ErrUnknownProvider = errors.New("unsupported provider")
	ErrMissingEnv      = errors.New("environment variable not set")
	ErrInvalidYAML     = errors.New("invalid yaml")
	ErrInvalidValue    = errors.New("invalid value")
)

// Error is a configuration error. Path names the file, Field the offending
// key; either may be empty.
type Error struct {
	Path  string
	Field string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Field != "":
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Field, e.Err)
	case e.Path != "":
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	case e.Field != "":
		return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) *Error {
	return &Error{Field: field, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidValue}, args...)...)}
}
