package watchdog

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("watchdog invalid argument")
	// ErrConflict classifies state conflicts (for example a second Start).
	ErrConflict = errors.New("watchdog conflict")
	// ErrConfig classifies a missing or unusable parameter after seeding.
	// A watchdog hitting it does not start; siblings are unaffected.
	ErrConfig = errors.New("watchdog configuration error")
)

func watchdogError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
