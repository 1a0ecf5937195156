package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/translate"
)

// RefResolver maps a textual reference to a value Ref.Dump accepts.
type RefResolver func(string) (any, error)

// Coerce converts loosely typed input, as decoded from YAML or typed on a
// command line, into the host value t expects. Numbers may arrive as int
// or float64, keywords and instants as strings, sets as lists. Assign still
// applies the strict type check to the result.
//
// String references go through resolve. Without a resolver they must be
// decimal entity ids.
func Coerce(t Type, v any, resolve RefResolver) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch tt := t.(type) {
	case Scalar:
		return coerceScalar(tt.Kind, v)
	case Ref:
		return coerceRef(v, resolve)
	case SetOf:
		list, ok := v.([]any)
		if !ok {
			list = []any{v}
		}
		members := make([]any, 0, len(list))
		for _, m := range list {
			c, err := Coerce(tt.Elem, m, resolve)
			if err != nil {
				return nil, err
			}
			members = append(members, c)
		}
		return translate.NewSet(members...)
	case AutoType:
		switch val := v.(type) {
		case []any:
			return Coerce(SetOfType(tt), val, resolve)
		case int:
			return int64(val), nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("cannot coerce input for %s", t)
	}
}

func coerceScalar(k Kind, v any) (any, error) {
	switch k {
	case KindLong:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("%v is not an integer", n)
			}
			return int64(n), nil
		}
	case KindDouble:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindKeyword:
		if s, ok := v.(string); ok {
			return translate.Symbol(strings.TrimPrefix(s, ":")), nil
		}
	case KindInstant:
		if s, ok := v.(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, err
			}
			return ts.UTC(), nil
		}
	case KindString:
		// Unquoted YAML scalars such as 42 or true are still text here.
		switch s := v.(type) {
		case int:
			return strconv.Itoa(s), nil
		case bool:
			return strconv.FormatBool(s), nil
		}
	}
	return v, nil
}

func coerceRef(v any, resolve RefResolver) (any, error) {
	switch r := v.(type) {
	case int:
		return ir.EntityID(r), nil
	case int64:
		return ir.EntityID(r), nil
	case string:
		if resolve != nil {
			return resolve(r)
		}
		id, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("reference %q is not an entity id", r)
		}
		return ir.EntityID(id), nil
	}
	return v, nil
}
