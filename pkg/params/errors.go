package params

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound classifies reads of parameter ids that were never seeded.
	ErrNotFound = errors.New("params not found")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("params invalid argument")
)

func paramsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
