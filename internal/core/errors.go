package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrExpired    = errors.New("expired")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")

	ErrDuplicateName  = fmt.Errorf("%w: employee name already registered", ErrConflict)
	ErrDuplicateCPF   = fmt.Errorf("%w: employee cpf already registered", ErrConflict)
	ErrDuplicateEmail = fmt.Errorf("%w: account email already registered", ErrConflict)
	ErrDuplicateFicha = fmt.Errorf("%w: ficha already exists for this month", ErrConflict)
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
