package model

import (
	"fmt"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/translate"
)

// Type is the codec and edit policy of one attribute.
//
// Type is a sealed interface: only Scalar, Ref, SetOf and AutoType
// implement it.
type Type interface {
	// ValueType is the store value type the attribute is installed with.
	// Empty for AutoType, which cannot be installed.
	ValueType() ir.Keyword

	// Cardinality is the store cardinality the attribute is installed with.
	Cardinality() ir.Keyword

	// Load decodes a stored value. A nil raw value is absent.
	Load(lc LoadContext, raw ir.Value) (any, error)

	// Dump encodes a host value. It rejects values of the wrong shape.
	Dump(v any) (ir.Value, error)

	// Edits returns the edits that move attribute ident of entity e from
	// original to value. value is never nil; clearing an attribute is a
	// retraction, not an edit produced here.
	Edits(e ir.EntityRef, ident ir.Keyword, original, value any) ([]ir.Edit, error)

	String() string

	attributeType() // Sealed
}

// LoadContext is what a Type needs to decode references: the repo that
// knows the models, and the snapshot the value was read from.
type LoadContext struct {
	Repo     *Repo
	Snapshot fact.Snapshot
}

// Kind is a scalar value kind.
type Kind string

const (
	KindString  Kind = "string"
	KindLong    Kind = "long"
	KindDouble  Kind = "double"
	KindBoolean Kind = "boolean"
	KindKeyword Kind = "keyword"
	KindInstant Kind = "instant"
)

var kindValueTypes = map[Kind]ir.Keyword{
	KindString:  fact.TypeString,
	KindLong:    fact.TypeLong,
	KindDouble:  fact.TypeDouble,
	KindBoolean: fact.TypeBoolean,
	KindKeyword: fact.TypeKeyword,
	KindInstant: fact.TypeInstant,
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	_, ok := kindValueTypes[k]
	return k, ok
}

// Scalar is a single value of one kind. Values are never coerced between
// kinds: a long attribute rejects a double even when it is integral.
type Scalar struct {
	Kind Kind
}

// String returns a string attribute type.
func String() Scalar { return Scalar{Kind: KindString} }

// Long returns an integer attribute type.
func Long() Scalar { return Scalar{Kind: KindLong} }

// Double returns a floating point attribute type.
func Double() Scalar { return Scalar{Kind: KindDouble} }

// Boolean returns a boolean attribute type.
func Boolean() Scalar { return Scalar{Kind: KindBoolean} }

// Keyword returns a keyword attribute type. Host values are
// translate.Symbol.
func Keyword() Scalar { return Scalar{Kind: KindKeyword} }

// Instant returns a timestamp attribute type. Host values are time.Time.
func Instant() Scalar { return Scalar{Kind: KindInstant} }

func (Scalar) attributeType() {}

// ValueType implements Type.
func (s Scalar) ValueType() ir.Keyword { return kindValueTypes[s.Kind] }

// Cardinality implements Type.
func (Scalar) Cardinality() ir.Keyword { return fact.CardinalityOne }

func (s Scalar) String() string { return string(s.Kind) }

func (s Scalar) accepts(w ir.Value) bool {
	switch w.(type) {
	case ir.String:
		return s.Kind == KindString
	case ir.Long:
		return s.Kind == KindLong
	case ir.Double:
		return s.Kind == KindDouble
	case ir.Bool:
		return s.Kind == KindBoolean
	case ir.Keyword:
		return s.Kind == KindKeyword
	case ir.Instant:
		return s.Kind == KindInstant
	default:
		return false
	}
}

// Load implements Type.
func (s Scalar) Load(_ LoadContext, raw ir.Value) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if !s.accepts(raw) {
		return nil, &TypeMismatchError{Value: raw, Expected: s.String()}
	}
	return translate.FromWire(raw)
}

// Dump implements Type.
func (s Scalar) Dump(v any) (ir.Value, error) {
	w, err := translate.ToWire(v)
	if err != nil {
		return nil, err
	}
	if w == nil || !s.accepts(w) {
		return nil, &TypeMismatchError{Value: v, Expected: s.String()}
	}
	return w, nil
}

// Edits implements Type. Assigning the original value again emits nothing.
func (s Scalar) Edits(e ir.EntityRef, ident ir.Keyword, original, value any) ([]ir.Edit, error) {
	return addOne(s, e, ident, original, value)
}

func addOne(t Type, e ir.EntityRef, ident ir.Keyword, original, value any) ([]ir.Edit, error) {
	w, err := t.Dump(value)
	if err != nil {
		return nil, err
	}
	if original != nil {
		if o, err := t.Dump(original); err == nil && ir.Equal(o, w) {
			return nil, nil
		}
	}
	return []ir.Edit{ir.Add(e, ident, w)}, nil
}

// Ref points at an entity of the model named Target. An empty Target
// accepts any model and decodes by discriminator.
type Ref struct {
	Target string
}

// RefTo returns a reference to the model named target.
func RefTo(target string) Ref { return Ref{Target: target} }

func (Ref) attributeType() {}

// ValueType implements Type.
func (Ref) ValueType() ir.Keyword { return fact.TypeRef }

// Cardinality implements Type.
func (Ref) Cardinality() ir.Keyword { return fact.CardinalityOne }

func (r Ref) String() string {
	if r.Target == "" {
		return "ref"
	}
	return "ref(" + r.Target + ")"
}

// Load implements Type. The referenced entity must carry the target
// model's type tag.
func (r Ref) Load(lc LoadContext, raw ir.Value) (any, error) {
	if raw == nil {
		return nil, nil
	}
	id, ok := raw.(ir.EntityID)
	if !ok {
		return nil, &TypeMismatchError{Value: raw, Expected: r.String()}
	}
	return lc.Repo.load(lc.Snapshot, r.Target, id)
}

// Dump implements Type. Accepted values are entity ids, temp ids,
// instances and handles of stored entities, and pending changers.
func (r Ref) Dump(v any) (ir.Value, error) {
	switch val := v.(type) {
	case *Instance:
		if err := r.check(val.model, v); err != nil {
			return nil, err
		}
		return val.EntityID(), nil
	case *Changer:
		if err := r.check(val.model, v); err != nil {
			return nil, err
		}
		return val.Ref(), nil
	case ir.EntityID:
		return val, nil
	case ir.TempID:
		return val, nil
	case translate.Referent:
		return val.Ref(), nil
	case translate.EntityRef:
		return val.EntityID(), nil
	default:
		return nil, &TypeMismatchError{Value: v, Expected: r.String()}
	}
}

func (r Ref) check(m *Model, v any) error {
	if r.Target != "" && m.Name() != r.Target {
		return &TypeMismatchError{Value: v, Expected: r.String()}
	}
	return nil
}

// Edits implements Type.
func (r Ref) Edits(e ir.EntityRef, ident ir.Keyword, original, value any) ([]ir.Edit, error) {
	return addOne(r, e, ident, original, value)
}

// SetOf holds any number of distinct values of its element type.
type SetOf struct {
	Elem Type
}

// SetOfType returns a set attribute type over elem.
func SetOfType(elem Type) SetOf { return SetOf{Elem: elem} }

func (SetOf) attributeType() {}

// ValueType implements Type.
func (s SetOf) ValueType() ir.Keyword { return s.Elem.ValueType() }

// Cardinality implements Type.
func (SetOf) Cardinality() ir.Keyword { return fact.CardinalityMany }

func (s SetOf) String() string { return "set(" + s.Elem.String() + ")" }

// Load implements Type. An absent value loads as the empty set.
func (s SetOf) Load(lc LoadContext, raw ir.Value) (any, error) {
	if raw == nil {
		return translate.NewSet()
	}
	set, ok := raw.(ir.Set)
	if !ok {
		// A single stored value of a many attribute still loads as a set.
		set = ir.Set{raw}
	}
	members := make([]any, 0, len(set))
	for _, m := range set {
		h, err := s.Elem.Load(lc, m)
		if err != nil {
			return nil, err
		}
		members = append(members, h)
	}
	return translate.NewSet(members...)
}

// Dump implements Type.
func (s SetOf) Dump(v any) (ir.Value, error) {
	switch val := v.(type) {
	case translate.Set:
		out := make([]ir.Value, 0, val.Len())
		for _, m := range val.Members() {
			w, err := s.Elem.Dump(m)
			if err != nil {
				return nil, err
			}
			out = append(out, w)
		}
		return ir.NewSet(out...)
	case ir.Set:
		for _, m := range val {
			if _, err := s.Elem.Dump(m); err != nil {
				return nil, err
			}
		}
		return val, nil
	default:
		return nil, &TypeMismatchError{Value: v, Expected: s.String()}
	}
}

// Edits implements Type. The update is a diff: members of original that
// are not in value are retracted, then members of value that are not in
// original are asserted.
func (s SetOf) Edits(e ir.EntityRef, ident ir.Keyword, original, value any) ([]ir.Edit, error) {
	next, err := s.Dump(value)
	if err != nil {
		return nil, err
	}
	prev := ir.Set{}
	if original != nil {
		w, err := s.Dump(original)
		if err != nil {
			return nil, fmt.Errorf("dump original %s: %w", ident, err)
		}
		prev = w.(ir.Set)
	}
	var edits []ir.Edit
	for _, m := range prev.Minus(next.(ir.Set)) {
		edits = append(edits, ir.Retract(e, ident, m))
	}
	for _, m := range next.(ir.Set).Minus(prev) {
		edits = append(edits, ir.Add(e, ident, m))
	}
	return edits, nil
}

// AutoType picks its behaviour from the runtime shape of each value: a
// set behaves as SetOf, an entity as Ref, anything else as a scalar.
// It must be chosen explicitly and cannot be installed as schema.
type AutoType struct{}

// Auto returns the shape-inferred attribute type.
func Auto() AutoType { return AutoType{} }

func (AutoType) attributeType() {}

// ValueType implements Type. It is always empty.
func (AutoType) ValueType() ir.Keyword { return "" }

// Cardinality implements Type. It is always empty.
func (AutoType) Cardinality() ir.Keyword { return "" }

func (AutoType) String() string { return "auto" }

// Load implements Type.
func (a AutoType) Load(lc LoadContext, raw ir.Value) (any, error) {
	switch raw.(type) {
	case nil:
		return nil, nil
	case ir.Set:
		return SetOf{Elem: a}.Load(lc, raw)
	case ir.EntityID:
		return Ref{}.Load(lc, raw)
	default:
		return translate.FromWire(raw)
	}
}

// Dump implements Type.
func (a AutoType) Dump(v any) (ir.Value, error) {
	switch v.(type) {
	case translate.Set, ir.Set:
		return SetOf{Elem: a}.Dump(v)
	case *Instance, *Changer, translate.Referent, translate.EntityRef:
		return Ref{}.Dump(v)
	}
	w, err := translate.ToWire(v)
	if err != nil {
		return nil, err
	}
	if _, ok := w.(ir.Seq); ok {
		return nil, &TypeMismatchError{Value: v, Expected: "a set, an entity or a scalar"}
	}
	return w, nil
}

// Edits implements Type.
func (a AutoType) Edits(e ir.EntityRef, ident ir.Keyword, original, value any) ([]ir.Edit, error) {
	switch value.(type) {
	case translate.Set, ir.Set:
		if _, isSet := original.(translate.Set); original != nil && !isSet {
			original = nil
		}
		return SetOf{Elem: a}.Edits(e, ident, original, value)
	}
	return addOne(a, e, ident, original, value)
}

// ParseType builds a Type from its declared name. of names the element
// kind of a set; target names the referenced model for refs.
func ParseType(name, of, target string) (Type, error) {
	switch name {
	case "":
		return nil, fmt.Errorf("attribute type is required")
	case "ref":
		return RefTo(target), nil
	case "auto":
		return Auto(), nil
	case "set":
		if of == "" {
			return nil, fmt.Errorf("set type requires an element type")
		}
		if of == "set" || of == "auto" {
			return nil, fmt.Errorf("set element type cannot be %s", of)
		}
		elem, err := ParseType(of, "", target)
		if err != nil {
			return nil, fmt.Errorf("set element: %w", err)
		}
		return SetOfType(elem), nil
	}
	k, ok := ParseKind(name)
	if !ok {
		return nil, fmt.Errorf("unknown attribute type %q", name)
	}
	return Scalar{Kind: k}, nil
}

// refTarget returns the referenced model of t, if t is a reference or a
// set of references.
func refTarget(t Type) (string, bool) {
	switch tt := t.(type) {
	case Ref:
		return tt.Target, true
	case SetOf:
		return refTarget(tt.Elem)
	default:
		return "", false
	}
}
