package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrCustomerRequired    = errors.New("identified customer required")
	ErrDueDateRequired     = errors.New("due date required")
	ErrAlreadyCancelled    = errors.New("sale already cancelled")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrValidation          = errors.New("validation failed")
	ErrForbidden           = errors.New("forbidden")
)

// ValidationError names the offending input field so callers can point the
// operator at it. errors.Is matches Err, or ErrValidation when Err is nil.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrValidation
	}
	return e.Err
}

func Invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func InvalidAmount(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason, Err: ErrInvalidAmount}
}
