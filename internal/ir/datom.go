package ir

import (
	"fmt"
	"strings"
)

// Op identifies the kind of an Edit.
type Op string

const (
	// OpAdd asserts the fact (E, A, V).
	OpAdd Op = "db/add"

	// OpRetract retracts the fact (E, A, V).
	OpRetract Op = "db/retract"

	// OpRetractEntity retracts every fact about E and every reference to E.
	OpRetractEntity Op = "db.fn/retractEntity"
)

// Edit is one instruction in a transaction. A and V are unused for
// OpRetractEntity.
type Edit struct {
	Op Op
	E  EntityRef
	A  Keyword
	V  Value
}

// Add builds an assertion edit.
func Add(e EntityRef, a Keyword, v Value) Edit {
	return Edit{Op: OpAdd, E: e, A: a, V: v}
}

// Retract builds a retraction edit.
func Retract(e EntityRef, a Keyword, v Value) Edit {
	return Edit{Op: OpRetract, E: e, A: a, V: v}
}

// RetractEntity builds an entity retraction edit.
func RetractEntity(e EntityRef) Edit {
	return Edit{Op: OpRetractEntity, E: e}
}

// String renders the edit in list form, e.g. [:db/add 17 :blog.post/title "hi"].
func (e Edit) String() string {
	if e.Op == OpRetractEntity {
		return fmt.Sprintf("[:%s %s]", e.Op, Format(e.E))
	}
	return fmt.Sprintf("[:%s %s %s %s]", e.Op, Format(e.E), e.A, Format(e.V))
}

// Datom is an atomic fact in the store's log: entity, attribute, value, the
// transaction that wrote it, and whether it was asserted or retracted.
type Datom struct {
	E     EntityID
	A     Keyword
	V     Value
	Tx    int64
	Added bool
}

// String renders the datom as [e :a v tx added].
func (d Datom) String() string {
	return fmt.Sprintf("[%d %s %s %d %t]", d.E, d.A, Format(d.V), d.Tx, d.Added)
}

// Format renders v in the store's literal syntax. Used for error messages,
// query rendering and CLI text output.
func Format(v Value) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case String:
		return fmt.Sprintf("%q", string(val))
	case Long:
		return fmt.Sprintf("%d", int64(val))
	case Double:
		return fmt.Sprintf("%v", float64(val))
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	case Keyword:
		return val.String()
	case Symbol:
		return string(val)
	case Instant:
		return fmt.Sprintf("#inst %q", val.Time().Format("2006-01-02T15:04:05.000Z"))
	case EntityID:
		return fmt.Sprintf("%d", int64(val))
	case TempID:
		return val.String()
	case Set:
		return "#{" + formatList(val) + "}"
	case Seq:
		return "[" + formatList(val) + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatList(vals []Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = Format(v)
	}
	return strings.Join(parts, " ")
}
