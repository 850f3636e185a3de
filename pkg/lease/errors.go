package lease

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("lease invalid argument")
	// ErrNotFound classifies a missing lease record.
	ErrNotFound = errors.New("lease not found")
	// ErrConflict classifies an insert racing an existing record.
	ErrConflict = errors.New("lease conflict")
)

func leaseError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
