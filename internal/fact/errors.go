package fact

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/roach88/dalton/internal/ir"
)

// Store error codes.
const (
	ErrUniqueConflict ir.Keyword = "db.error/unique-conflict"
	ErrWrongType      ir.Keyword = "db.error/wrong-type-for-attribute"
	ErrNotAnAttribute ir.Keyword = "db.error/not-an-attribute"
	ErrNotAnEntity    ir.Keyword = "db.error/not-an-entity"
	ErrDatomsConflict ir.Keyword = "db.error/datoms-conflict"
)

// StoreError is a rejection raised by the store while applying a transaction.
//
// Message carries the store's textual description. For unique conflicts and
// wrong-type errors the full Error() text is what ParseUniqueConflict and
// ParseWrongType understand. Cause holds the structured form when the store
// built the error itself; it is nil for errors known only by their text.
type StoreError struct {
	Code    ir.Keyword
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s", e.Code, e.Message)
}

// UniqueConflictError builds the store error for a value already held by
// another entity under a unique attribute.
func UniqueConflictError(attr ir.Keyword, v ir.Value, existing, asserted ir.EntityID) *StoreError {
	return &StoreError{
		Code: ErrUniqueConflict,
		Message: fmt.Sprintf("Unique conflict: %s, value: %s already held by: %d asserted for: %d",
			attr, ir.Format(v), existing, asserted),
		Cause: &UniqueConflict{Attribute: attr, Value: ir.Format(v), ExistingID: existing, NewID: asserted},
	}
}

// WrongTypeError builds the store error for a value that does not match the
// attribute's declared value type. valueType is the bare type name ("long").
func WrongTypeError(attr ir.Keyword, v ir.Value, valueType string) *StoreError {
	return &StoreError{
		Code:    ErrWrongType,
		Message: fmt.Sprintf("Value %s is not a valid :%s for attribute %s", ir.Format(v), valueType, attr),
		Cause:   &WrongType{Value: ir.Format(v), Type: valueType, Attribute: attr},
	}
}

// StoreErrorCode returns the code of the first *StoreError in err's chain.
func StoreErrorCode(err error) (ir.Keyword, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

// Attribute idents match any keyword text: model and attribute names may
// carry digits and declared idents are free-form.
var (
	uniqueConflictRE = regexp.MustCompile(
		`^:db[.]error/unique-conflict Unique conflict: :([^\s,]+), value: (.*?) already held by: (\d+) asserted for: (\d+)$`)
	wrongTypeRE = regexp.MustCompile(
		`^:db[.]error/wrong-type-for-attribute Value (.*?) is not a valid :(\w+) for attribute :(\S+)$`)
)

// UniqueConflict is the structured form of a unique-conflict store error.
type UniqueConflict struct {
	Attribute  ir.Keyword
	Value      string // as rendered by the store
	ExistingID ir.EntityID
	NewID      ir.EntityID
}

// Error implements the error interface.
func (u *UniqueConflict) Error() string {
	return fmt.Sprintf("unique conflict: tried to assign duplicate %s to %d, already held by %d. value: %s",
		u.Attribute, u.NewID, u.ExistingID, u.Value)
}

// ParseUniqueConflict extracts a UniqueConflict from store error text.
func ParseUniqueConflict(message string) (*UniqueConflict, error) {
	m := uniqueConflictRE.FindStringSubmatch(message)
	if m == nil {
		return nil, fmt.Errorf("invalid unique conflict format: %q", message)
	}
	existing, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse existing id: %w", err)
	}
	asserted, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse asserted id: %w", err)
	}
	return &UniqueConflict{
		Attribute:  ir.Keyword(m[1]),
		Value:      m[2],
		ExistingID: ir.EntityID(existing),
		NewID:      ir.EntityID(asserted),
	}, nil
}

// WrongType is the structured form of a wrong-type store error.
type WrongType struct {
	Value     string // as rendered by the store
	Type      string
	Attribute ir.Keyword
}

// Error implements the error interface.
func (w *WrongType) Error() string {
	return fmt.Sprintf("type error: tried to set %s as %s, expected type %s", w.Attribute, w.Value, w.Type)
}

// ParseWrongType extracts a WrongType from store error text.
func ParseWrongType(message string) (*WrongType, error) {
	m := wrongTypeRE.FindStringSubmatch(message)
	if m == nil {
		return nil, fmt.Errorf("invalid wrong type format: %q", message)
	}
	return &WrongType{Value: m[1], Type: m[2], Attribute: ir.Keyword(m[3])}, nil
}

// ParseStoreError turns a store error into its structured cause when the
// code has one. ok is false for codes without a structured form. An attached
// Cause wins over the message text.
func ParseStoreError(se *StoreError) (cause error, ok bool, err error) {
	switch se.Code {
	case ErrUniqueConflict, ErrWrongType:
		if se.Cause != nil {
			return se.Cause, true, nil
		}
	}
	switch se.Code {
	case ErrUniqueConflict:
		uc, err := ParseUniqueConflict(se.Error())
		if err != nil {
			return nil, false, err
		}
		return uc, true, nil
	case ErrWrongType:
		wt, err := ParseWrongType(se.Error())
		if err != nil {
			return nil, false, err
		}
		return wt, true, nil
	default:
		return nil, false, nil
	}
}

// TransactionFailed is any transaction failure that is not a structured
// store rejection.
type TransactionFailed struct {
	Cause error
}

// Error implements the error interface.
func (e *TransactionFailed) Error() string {
	return fmt.Sprintf("transaction failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TransactionFailed) Unwrap() error {
	return e.Cause
}

// IsTransactionFailed reports whether err is a *TransactionFailed.
func IsTransactionFailed(err error) bool {
	var tf *TransactionFailed
	return errors.As(err, &tf)
}
