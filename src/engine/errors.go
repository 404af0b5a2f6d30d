package engine

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotOpen is returned when cancelling an order that is already FILLED or CANCELLED.
	ErrOrderNotOpen = errors.New("order is not open")
)

// ValidationError rejects a request before it touches a book.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return "Invalid order: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvariantViolation is the panic value raised when book or order state is corrupt.
// It is never returned as an error.
type InvariantViolation struct {
	Message string
}

func (v InvariantViolation) Error() string {
	return "invariant violation: " + v.Message
}

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(InvariantViolation{Message: fmt.Sprintf(format, args...)})
	}
}
