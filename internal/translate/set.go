package translate

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/roach88/dalton/internal/ir"
)

// Set is an immutable host-side set. Membership is decided by the wire
// encoding of each member, so two handles to the same entity are one member.
// Members are kept in canonical order.
type Set struct {
	keys  []string
	items map[string]any
}

// NewSet builds a Set from host values. Fails with a TranslationError if a
// member has no wire encoding or is nil.
func NewSet(members ...any) (Set, error) {
	s := Set{items: make(map[string]any, len(members))}
	for _, m := range members {
		key, err := memberKey(m)
		if err != nil {
			return Set{}, err
		}
		if _, dup := s.items[key]; dup {
			continue
		}
		s.items[key] = m
		s.keys = append(s.keys, key)
	}
	sort.Strings(s.keys)
	return s, nil
}

// MustSet is NewSet for members known to be encodable. It panics otherwise.
func MustSet(members ...any) Set {
	s, err := NewSet(members...)
	if err != nil {
		panic(err)
	}
	return s
}

func memberKey(m any) (string, error) {
	w, err := ToWire(m)
	if err != nil {
		return "", err
	}
	if w == nil {
		return "", &TranslationError{Value: m, Reason: "set member is nil"}
	}
	return ir.EncodeString(w)
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s.keys)
}

// Members returns the members in canonical order.
func (s Set) Members() []any {
	out := make([]any, len(s.keys))
	for i, k := range s.keys {
		out[i] = s.items[k]
	}
	return out
}

// Contains reports whether m is a member.
func (s Set) Contains(m any) bool {
	key, err := memberKey(m)
	if err != nil {
		return false
	}
	_, ok := s.items[key]
	return ok
}

// With returns a new set that also contains m.
func (s Set) With(m any) (Set, error) {
	return NewSet(append(s.Members(), m)...)
}

// Without returns a new set that does not contain m.
func (s Set) Without(m any) Set {
	key, err := memberKey(m)
	if err != nil {
		return s
	}
	out := Set{items: make(map[string]any, len(s.keys))}
	for _, k := range s.keys {
		if k == key {
			continue
		}
		out.keys = append(out.keys, k)
		out.items[k] = s.items[k]
	}
	return out
}

// Equal reports whether both sets have the same members.
func (s Set) Equal(other Set) bool {
	if len(s.keys) != len(other.keys) {
		return false
	}
	for i := range s.keys {
		if s.keys[i] != other.keys[i] {
			return false
		}
	}
	return true
}

// String renders the set in literal form, e.g. #{"a" "b"}.
func (s Set) String() string {
	parts := make([]string, 0, len(s.keys))
	for _, k := range s.keys {
		v, err := ir.DecodeString(k)
		if err != nil {
			continue
		}
		parts = append(parts, ir.Format(v))
	}
	return "#{" + strings.Join(parts, " ") + "}"
}

// MarshalJSON encodes the set as an array of its members in canonical order.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Members())
}
