package ir

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Value is a sealed interface representing the values a fact store accepts.
// Only String, Long, Double, Bool, Keyword, Symbol, Instant, Set, Seq,
// EntityID and TempID implement it. Absence is represented by a nil Value.
type Value interface {
	wireValue() // Sealed - only these types implement it
}

// EntityRef is a Value that can stand in the entity position of an edit:
// a real id, a temporary id, or the ident keyword of an existing entity.
type EntityRef interface {
	Value
	entityRef()
}

// String is a string value.
type String string

func (String) wireValue() {}

// Long is a 64-bit integer value.
type Long int64

func (Long) wireValue() {}

// Double is a 64-bit floating point value.
type Double float64

func (Double) wireValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) wireValue() {}

// Keyword is a namespaced name such as "blog.post/title", stored without the
// leading colon. Keywords are data; see Symbol for query variables.
type Keyword string

func (Keyword) wireValue() {}
func (Keyword) entityRef() {}

// KW builds a Keyword, dropping a leading colon if present.
func KW(s string) Keyword {
	return Keyword(strings.TrimPrefix(s, ":"))
}

// Namespace returns the part before the slash, or "" for a bare keyword.
func (k Keyword) Namespace() string {
	if i := strings.IndexByte(string(k), '/'); i >= 0 {
		return string(k[:i])
	}
	return ""
}

// Name returns the part after the slash.
func (k Keyword) Name() string {
	if i := strings.IndexByte(string(k), '/'); i >= 0 {
		return string(k[i+1:])
	}
	return string(k)
}

// String renders the keyword with its leading colon.
func (k Keyword) String() string {
	return ":" + string(k)
}

// Symbol is a query variable ("?e") or source ("$"). Symbols never appear as data.
type Symbol string

func (Symbol) wireValue() {}

// IsVariable reports whether the symbol starts with a variable sigil.
func (s Symbol) IsVariable() bool {
	return HasVariableSigil(string(s))
}

// HasVariableSigil reports whether name begins with '?' or '$'.
func HasVariableSigil(name string) bool {
	return strings.HasPrefix(name, "?") || strings.HasPrefix(name, "$")
}

// Instant is a point in time with millisecond precision, stored as
// milliseconds since the Unix epoch.
type Instant int64

func (Instant) wireValue() {}

// InstantOf truncates t to milliseconds.
func InstantOf(t time.Time) Instant {
	return Instant(t.UnixMilli())
}

// Time returns the instant as a UTC time.Time.
func (i Instant) Time() time.Time {
	return time.UnixMilli(int64(i)).UTC()
}

// EntityID is a store-assigned entity identity.
type EntityID int64

func (EntityID) wireValue() {}
func (EntityID) entityRef() {}

// TempID is a placeholder identity scoped to a partition, resolved to an
// EntityID when the transaction that mentions it commits. Two TempIDs with the
// same partition and key denote the same new entity within one transaction.
type TempID struct {
	Partition Keyword
	Key       string
}

func (TempID) wireValue() {}
func (TempID) entityRef() {}

// String renders the temp id in the store's literal form.
func (t TempID) String() string {
	return fmt.Sprintf("#db/id[%s %q]", t.Partition, t.Key)
}

// Seq is an ordered sequence, as returned by queries.
type Seq []Value

func (Seq) wireValue() {}

// Set is an unordered collection of unique values. Sets built with NewSet are
// canonical: duplicates removed and members ordered by canonical encoding, so
// two equal sets compare equal element by element.
type Set []Value

func (Set) wireValue() {}

// NewSet builds a canonical Set from vals.
func NewSet(vals ...Value) (Set, error) {
	type keyed struct {
		key []byte
		val Value
	}
	items := make([]keyed, 0, len(vals))
	for i, v := range vals {
		key, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("set[%d]: %w", i, err)
		}
		items = append(items, keyed{key: key, val: v})
	}
	slices.SortFunc(items, func(a, b keyed) int { return bytes.Compare(a.key, b.key) })

	out := make(Set, 0, len(items))
	var last []byte
	for i, it := range items {
		if i > 0 && bytes.Equal(it.key, last) {
			continue
		}
		out = append(out, it.val)
		last = it.key
	}
	return out, nil
}

// MustSet is NewSet for values known to be encodable. It panics otherwise.
func MustSet(vals ...Value) Set {
	s, err := NewSet(vals...)
	if err != nil {
		panic(err)
	}
	return s
}

// Contains reports whether v is a member of s.
func (s Set) Contains(v Value) bool {
	for _, m := range s {
		if Equal(m, v) {
			return true
		}
	}
	return false
}

// Minus returns the members of s that are not in other, in s's order.
func (s Set) Minus(other Set) Set {
	out := Set{}
	for _, m := range s {
		if !other.Contains(m) {
			out = append(out, m)
		}
	}
	return out
}

// Equal reports whether a and b are the same wire value. Two nil values are
// equal; values that cannot be encoded are never equal to anything.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ea, err := Encode(a)
	if err != nil {
		return false
	}
	eb, err := Encode(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// TypeName returns a short description of v's wire type for error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case String:
		return "string"
	case Long:
		return "long"
	case Double:
		return "double"
	case Bool:
		return "boolean"
	case Keyword:
		return "keyword"
	case Symbol:
		return "symbol"
	case Instant:
		return "instant"
	case EntityID:
		return "ref"
	case TempID:
		return "tempid"
	case Set:
		return "set"
	case Seq:
		return "seq"
	default:
		return fmt.Sprintf("%T", v)
	}
}
