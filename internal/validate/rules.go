package validate

import (
	"fmt"
	"regexp"
)

type sized interface{ Len() int }

// Required fails when attr is nil, an empty string or an empty set.
func Required(attr string) (RuleFunc, []string) {
	return func(s *Scope, values []any) {
		switch v := values[0].(type) {
		case nil:
			s.Invalid("is required")
		case string:
			if v == "" {
				s.Invalid("is required")
			}
		case sized:
			if v.Len() == 0 {
				s.Invalid("is required")
			}
		}
	}, []string{attr}
}

// Pattern fails when attr holds a string that does not match re. Other
// values, including nil, pass.
func Pattern(attr string, re *regexp.Regexp) (RuleFunc, []string) {
	return func(s *Scope, values []any) {
		if str, ok := values[0].(string); ok && !re.MatchString(str) {
			s.Invalid(fmt.Sprintf("must match %s", re))
		}
	}, []string{attr}
}

// Add appends a rule built by Required or Pattern.
func (v *Validator) Add(fn RuleFunc, attrs []string) *Validator {
	return v.Validate(fn, attrs...)
}
