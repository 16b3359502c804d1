package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrTerminalStatus signals an attempt to move an order out of a terminal
	// status without the force flag.
	ErrTerminalStatus = errors.New("order is in a terminal status")

	// ErrPersistence classifies storage failures; the atomic unit that raised
	// it was rolled back entirely.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError marks bad caller input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
