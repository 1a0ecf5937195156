package queryir

import (
	"strings"

	"github.com/roach88/dalton/internal/ir"
)

// Term is one position of a clause.
type Term interface {
	term() // seals the interface to this package
}

// Var is a query variable such as "?e".
type Var string

func (Var) term() {}

// Const is a constant wire value.
type Const struct {
	Value ir.Value
}

func (Const) term() {}

// C is shorthand for Const{Value: v}.
func C(v ir.Value) Const { return Const{Value: v} }

// Clause matches datoms whose entity, attribute and value satisfy E, A and V.
type Clause struct {
	E Term
	A Term
	V Term
}

// Vars returns the variables of the clause in E, A, V order.
func (c Clause) Vars() []Var {
	var out []Var
	for _, t := range []Term{c.E, c.A, c.V} {
		if v, ok := t.(Var); ok {
			out = append(out, v)
		}
	}
	return out
}

// String renders the clause as [?e :a/b "v"].
func (c Clause) String() string {
	return "[" + formatTerm(c.E) + " " + formatTerm(c.A) + " " + formatTerm(c.V) + "]"
}

// Query finds the distinct bindings of Find that satisfy every clause.
type Query struct {
	Find  []Var
	Where []Clause
}

// String renders the query as [:find ?e :where [...] ...].
func (q Query) String() string {
	var b strings.Builder
	b.WriteString("[:find")
	for _, v := range q.Find {
		b.WriteString(" ")
		b.WriteString(string(v))
	}
	b.WriteString(" :where ")
	b.WriteString(FormatClauses(q.Where))
	b.WriteString("]")
	return b.String()
}

// FormatClauses renders clauses separated by spaces.
func FormatClauses(clauses []Clause) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

func formatTerm(t Term) string {
	switch t := t.(type) {
	case Var:
		return string(t)
	case Const:
		return ir.Format(t.Value)
	default:
		return "nil"
	}
}
