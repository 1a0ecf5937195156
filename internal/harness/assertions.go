package harness

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/model"
	"github.com/roach88/dalton/internal/validate"
)

// Error kinds a step may expect.
const (
	ErrKindValidation  = "validation"
	ErrKindUnique      = "unique-conflict"
	ErrKindWrongType   = "wrong-type"
	ErrKindInvalid     = "invalid-value"
	ErrKindMismatch    = "type-mismatch"
	ErrKindNotFound    = "not-found"
	ErrKindCycle       = "cycle"
	ErrKindTransaction = "transaction-failed"
	ErrKindOther       = "error"
)

var knownErrorKinds = map[string]bool{
	ErrKindValidation:  true,
	ErrKindUnique:      true,
	ErrKindWrongType:   true,
	ErrKindInvalid:     true,
	ErrKindMismatch:    true,
	ErrKindNotFound:    true,
	ErrKindCycle:       true,
	ErrKindTransaction: true,
	ErrKindOther:       true,
}

// ErrorKind classifies err for expectations and traces. Returns "" for nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		uc *fact.UniqueConflict
		wt *fact.WrongType
	)
	switch {
	case validate.IsValidationError(err):
		return ErrKindValidation
	case errors.As(err, &uc):
		return ErrKindUnique
	case errors.As(err, &wt):
		return ErrKindWrongType
	case model.IsInvalidValue(err):
		return ErrKindInvalid
	case model.IsTypeMismatch(err):
		return ErrKindMismatch
	case model.IsNotFound(err):
		return ErrKindNotFound
	case model.IsCycle(err):
		return ErrKindCycle
	case fact.IsTransactionFailed(err):
		return ErrKindTransaction
	default:
		return ErrKindOther
	}
}

// checkError compares a step's error against its expectation.
func checkError(step int, expect *Expect, err error) []string {
	want := ""
	if expect != nil {
		want = expect.Error
	}
	got := ErrorKind(err)
	if got != want {
		if err != nil {
			return []string{fmt.Sprintf("step %d: expected error %q, got %q: %v", step, want, got, err)}
		}
		return []string{fmt.Sprintf("step %d: expected error %q, got success", step, want)}
	}
	if expect == nil || len(expect.Errors) == 0 {
		return nil
	}

	var ve *validate.ValidationError
	errors.As(err, &ve)
	var msgs []string
	for _, attr := range expect.Errors {
		if !ve.HasErrorsOn(attr) {
			msgs = append(msgs, fmt.Sprintf("step %d: expected a validation error on %s: %v", step, attr, err))
		}
	}
	return msgs
}

// checkAttrs compares the expected subset of attributes against inst.
// Both sides are compared in wire form, so a reference given as an alias
// matches the instance it names.
func checkAttrs(step int, inst *model.Instance, want map[string]any, resolve model.RefResolver) []string {
	var msgs []string
	for _, name := range slices.Sorted(maps.Keys(want)) {
		attr, ok := inst.Model().Attribute(name)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("step %d: %s has no attribute %s", step, inst.Model().Name(), name))
			continue
		}
		expected, err := model.Coerce(attr.Type, want[name], resolve)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("step %d: expected %s: %v", step, name, err))
			continue
		}
		actual, err := inst.Get(name)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("step %d: read %s: %v", step, name, err))
			continue
		}
		if !sameValue(attr.Type, expected, actual) {
			msgs = append(msgs, fmt.Sprintf("step %d: %s: expected %v, got %v", step, name, expected, actual))
		}
	}
	return msgs
}

func sameValue(t model.Type, a, b any) bool {
	wa, errA := t.Dump(a)
	wb, errB := t.Dump(b)
	if errA != nil || errB != nil {
		return false
	}
	if wa == nil || wb == nil {
		return wa == nil && wb == nil
	}
	return ir.Equal(wa, wb)
}

// checkFound compares find results, rendered as aliases, against the
// expected count and aliases.
func checkFound(step int, expect *Expect, found []string) []string {
	if expect == nil {
		return nil
	}
	var msgs []string
	if expect.Count != nil && *expect.Count != len(found) {
		msgs = append(msgs, fmt.Sprintf("step %d: expected %d results, got %d", step, *expect.Count, len(found)))
	}
	if expect.Found != nil {
		want := make([]string, len(expect.Found))
		for i, a := range expect.Found {
			want[i] = "@" + a
		}
		if !slices.Equal(want, found) {
			msgs = append(msgs, fmt.Sprintf("step %d: expected %v, found %v", step, want, found))
		}
	}
	return msgs
}
