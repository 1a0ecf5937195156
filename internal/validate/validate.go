// Package validate runs declarative rules over pending attribute values
// before they are persisted.
//
// A rule names the attributes it reads and receives their current values;
// it reports failures through its Scope and never sees the object under
// validation, so it cannot mutate it.
package validate

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Reader exposes the current value of each attribute.
type Reader interface {
	Get(attr string) any
}

// Failure is one reported problem: the attributes it concerns and a
// message.
type Failure struct {
	Attrs   []string
	Message string
}

// Scope is handed to a rule while it runs.
type Scope struct {
	attrs  []string
	report func(Failure)
}

// Invalid reports message against the rule's own attributes.
func (s *Scope) Invalid(message string) {
	s.InvalidOn(s.attrs, message)
}

// InvalidOn reports message against attrs.
func (s *Scope) InvalidOn(attrs []string, message string) {
	s.report(Failure{Attrs: slices.Clone(attrs), Message: message})
}

// RuleFunc checks values, which hold the rule's attributes in declaration
// order.
type RuleFunc func(s *Scope, values []any)

type rule struct {
	attrs []string
	fn    RuleFunc
}

// Validator is an ordered list of rules.
type Validator struct {
	rules []rule
}

// New returns an empty validator.
func New() *Validator {
	return &Validator{}
}

// Validate appends a rule over attrs and returns v for chaining.
func (v *Validator) Validate(fn RuleFunc, attrs ...string) *Validator {
	v.rules = append(v.rules, rule{attrs: slices.Clone(attrs), fn: fn})
	return v
}

// Len returns the number of rules.
func (v *Validator) Len() int {
	return len(v.rules)
}

// RunAll runs every rule in order and returns all failures. It never
// returns an error; an empty slice means the subject is valid.
func (v *Validator) RunAll(r Reader) []Failure {
	failures := []Failure{}
	if v == nil {
		return failures
	}
	for _, rl := range v.rules {
		values := make([]any, len(rl.attrs))
		for i, a := range rl.attrs {
			values[i] = r.Get(a)
		}
		scope := &Scope{
			attrs:  rl.attrs,
			report: func(f Failure) { failures = append(failures, f) },
		}
		rl.fn(scope, values)
	}
	return failures
}

// Check runs every rule and returns a *ValidationError if any failed.
func (v *Validator) Check(r Reader) error {
	failures := v.RunAll(r)
	if len(failures) == 0 {
		return nil
	}
	return &ValidationError{Subject: r, Failures: failures}
}

// ValidationError carries every failure reported for Subject.
type ValidationError struct {
	Subject  Reader
	Failures []Failure
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s", strings.Join(f.Attrs, ","), f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ErrorsOn returns the messages reported against attr, in order.
func (e *ValidationError) ErrorsOn(attr string) []string {
	var out []string
	for _, f := range e.Failures {
		if slices.Contains(f.Attrs, attr) {
			out = append(out, f.Message)
		}
	}
	return out
}

// HasErrorsOn reports whether any failure concerns attr.
func (e *ValidationError) HasErrorsOn(attr string) bool {
	return len(e.ErrorsOn(attr)) > 0
}

// IsValidationError reports whether err is a *ValidationError.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
