package jobhost

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("jobhost invalid argument")
	// ErrConflict classifies state conflicts (double start, duplicate handler).
	ErrConflict = errors.New("jobhost conflict")
	// ErrNotFound classifies a missing job.
	ErrNotFound = errors.New("jobhost not found")
	// ErrConfig classifies unusable hosting configuration.
	ErrConfig = errors.New("jobhost configuration error")
)

func jobhostError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
