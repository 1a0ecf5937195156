package translate

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/dalton/internal/ir"
)

// Symbol is a host-side identifier. Symbols that begin with a variable sigil
// (? or $) encode as query symbols; all others encode as keywords.
type Symbol string

// EntityRef is implemented by host values that stand for a stored entity,
// such as entity handles and model instances.
type EntityRef interface {
	EntityID() ir.EntityID
}

// Referent is implemented by host values that stand for an entity which may
// not have been created yet, such as a pending changer. Ref returns a temp
// id until the entity exists.
type Referent interface {
	Ref() ir.EntityRef
}

// TranslationError reports a host value with no wire encoding.
type TranslationError struct {
	Value  any
	Reason string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation error: %s (value %#v of type %T)", e.Reason, e.Value, e.Value)
}

// ToWire converts a host value to its wire representation.
//
// FromWire(ToWire(v)) == v holds for the canonical host types: string, bool,
// int64, float64, UTC time.Time truncated to milliseconds, Symbol, Set,
// []any and nil. Other integer widths widen to int64 and float32 widens to
// float64, so they come back as the canonical type.
func ToWire(v any) (ir.Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case ir.Value:
		return val, nil
	case Referent:
		return val.Ref(), nil
	case EntityRef:
		return val.EntityID(), nil
	case string:
		return ir.String(val), nil
	case bool:
		return ir.Bool(val), nil
	case int:
		return ir.Long(val), nil
	case int8:
		return ir.Long(val), nil
	case int16:
		return ir.Long(val), nil
	case int32:
		return ir.Long(val), nil
	case int64:
		return ir.Long(val), nil
	case uint8:
		return ir.Long(val), nil
	case uint16:
		return ir.Long(val), nil
	case uint32:
		return ir.Long(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, &TranslationError{Value: v, Reason: "integer overflows a long"}
		}
		return ir.Long(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, &TranslationError{Value: v, Reason: "integer overflows a long"}
		}
		return ir.Long(val), nil
	case float32:
		return checkDouble(v, float64(val))
	case float64:
		return checkDouble(v, val)
	case Symbol:
		if ir.HasVariableSigil(string(val)) {
			return ir.Symbol(val), nil
		}
		return ir.KW(string(val)), nil
	case time.Time:
		return ir.InstantOf(val), nil
	case Set:
		vals := make([]ir.Value, 0, val.Len())
		for _, m := range val.Members() {
			w, err := ToWire(m)
			if err != nil {
				return nil, err
			}
			vals = append(vals, w)
		}
		return ir.NewSet(vals...)
	case []any:
		seq := make(ir.Seq, len(val))
		for i, m := range val {
			w, err := ToWire(m)
			if err != nil {
				return nil, err
			}
			if w == nil {
				return nil, &TranslationError{Value: v, Reason: fmt.Sprintf("element %d is nil", i)}
			}
			seq[i] = w
		}
		return seq, nil
	default:
		return nil, &TranslationError{Value: v, Reason: "unsupported host type"}
	}
}

func checkDouble(orig any, f float64) (ir.Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &TranslationError{Value: orig, Reason: "non-finite number"}
	}
	return ir.Double(f), nil
}

// Decoder converts wire values back to host values.
type Decoder struct {
	// Promote turns a store-native entity reference into a host handle.
	// When nil, entity ids decode to themselves.
	Promote func(id ir.EntityID) (any, error)
}

// FromWire decodes with a Decoder that does not promote entity references.
func FromWire(v ir.Value) (any, error) {
	return Decoder{}.FromWire(v)
}

// FromWire converts a wire value to its host representation.
func (d Decoder) FromWire(v ir.Value) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case ir.String:
		return string(val), nil
	case ir.Long:
		return int64(val), nil
	case ir.Double:
		return float64(val), nil
	case ir.Bool:
		return bool(val), nil
	case ir.Keyword:
		return Symbol(val), nil
	case ir.Symbol:
		return Symbol(val), nil
	case ir.Instant:
		return val.Time(), nil
	case ir.EntityID:
		if d.Promote == nil {
			return val, nil
		}
		return d.Promote(val)
	case ir.TempID:
		return val, nil
	case ir.Set:
		members := make([]any, len(val))
		for i, m := range val {
			h, err := d.FromWire(m)
			if err != nil {
				return nil, err
			}
			members[i] = h
		}
		return NewSet(members...)
	case ir.Seq:
		out := make([]any, len(val))
		for i, m := range val {
			h, err := d.FromWire(m)
			if err != nil {
				return nil, err
			}
			out[i] = h
		}
		return out, nil
	default:
		return nil, &TranslationError{Value: v, Reason: "unsupported wire type"}
	}
}
