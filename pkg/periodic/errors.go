package periodic

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("periodic invalid argument")
	// ErrConflict classifies state conflicts (for example a second Start on a running loop).
	ErrConflict = errors.New("periodic conflict")
	// ErrClosed classifies operations performed on an already stopped runner.
	ErrClosed = errors.New("periodic closed")
)

func periodicError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
