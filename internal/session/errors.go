package session

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when input arrives outside the Active state.
var ErrBusy = errors.New("session: not accepting input")

// CommandError is a bad operator command. It is reported and the session
// continues unchanged.
type CommandError struct {
	Command string
	Msg     string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Command, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Msg)
}

func (e *CommandError) Unwrap() error { return e.Err }
