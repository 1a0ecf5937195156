package model

import (
	"errors"
	"fmt"

	"github.com/roach88/dalton/internal/ir"
)

// ErrAlreadyCommitted is returned when a changer is modified or committed
// after a commit has started.
var ErrAlreadyCommitted = errors.New("changer already committed")

// TypeMismatchError reports a stored value that does not decode as the
// attribute's declared type, or a reference whose discriminator names a
// different model.
type TypeMismatchError struct {
	// Attr is the attribute being read. Empty when the mismatch was found
	// outside an attribute read.
	Attr ir.Keyword

	// Value is the offending value: a wire value or an entity id.
	Value any

	// Expected names the declared type or model.
	Expected string
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	if e.Attr == "" {
		return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, describe(e.Value))
	}
	return fmt.Sprintf("type mismatch on %s: expected %s, got %s", e.Attr, e.Expected, describe(e.Value))
}

// InvalidValueError reports a value that cannot be assigned to an
// attribute, or an attribute the model does not declare.
type InvalidValueError struct {
	Model  string
	Attr   string
	Value  any
	Reason string

	// Cause is the codec error, if any.
	Cause error
}

// Error implements the error interface.
func (e *InvalidValueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid value for %s.%s: %s: %v", e.Model, e.Attr, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid value for %s.%s: %s", e.Model, e.Attr, e.Reason)
}

// Unwrap returns the codec error.
func (e *InvalidValueError) Unwrap() error {
	return e.Cause
}

// NotFoundError reports an id that does not name an entity of the model
// in the snapshot.
type NotFoundError struct {
	Model string
	ID    ir.EntityID
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Could not find %s with id %d", e.Model, e.ID)
}

// TransactionValidationError reports a transaction the store rejected
// for a reason the caller can act on: a unique conflict or a value of the
// wrong type. Cause is *fact.UniqueConflict or *fact.WrongType.
type TransactionValidationError struct {
	Changer *Changer
	Cause   error
}

// Error implements the error interface.
func (e *TransactionValidationError) Error() string {
	return fmt.Sprintf("transaction rejected for %s: %v", e.Changer, e.Cause)
}

// Unwrap returns the parsed store cause.
func (e *TransactionValidationError) Unwrap() error {
	return e.Cause
}

// CycleError reports nested changers that reference each other.
type CycleError struct {
	// Path lists the changers on the cycle, starting and ending with the
	// same one.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("nested changers form a cycle: %v", e.Path)
}

// IsNotFound reports whether err is a *NotFoundError.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTypeMismatch reports whether err is a *TypeMismatchError.
func IsTypeMismatch(err error) bool {
	var tm *TypeMismatchError
	return errors.As(err, &tm)
}

// IsInvalidValue reports whether err is an *InvalidValueError.
func IsInvalidValue(err error) bool {
	var iv *InvalidValueError
	return errors.As(err, &iv)
}

// IsTransactionValidation reports whether err is a
// *TransactionValidationError.
func IsTransactionValidation(err error) bool {
	var tv *TransactionValidationError
	return errors.As(err, &tv)
}

// IsCycle reports whether err is a *CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

func describe(v any) string {
	if w, ok := v.(ir.Value); ok {
		return fmt.Sprintf("%s %s", ir.TypeName(w), ir.Format(w))
	}
	return fmt.Sprintf("%T %v", v, v)
}
