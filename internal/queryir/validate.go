package queryir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/dalton/internal/ir"
)

// ValidationResult lists the problems found in a query.
type ValidationResult struct {
	// IsValid is true when Problems is empty.
	IsValid bool

	// Problems describes each rule the query breaks, in clause order.
	Problems []string
}

// Err returns nil for a valid query, else an error joining the problems.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return errors.New("invalid query: " + strings.Join(r.Problems, "; "))
}

// Validate checks that q can be executed:
//   - at least one find variable and one clause
//   - variables are spelled with a leading '?'
//   - every find variable appears in some clause
//   - attributes are keyword constants
//   - entity constants are entity ids
//   - value constants are scalars or entity ids (no sets, sequences or temp ids)
//
// Validate is a pure function.
func Validate(q Query) ValidationResult {
	v := &validator{problems: []string{}}
	v.validate(q)
	return ValidationResult{
		IsValid:  len(v.problems) == 0,
		Problems: v.problems,
	}
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validate(q Query) {
	if len(q.Find) == 0 {
		v.addProblem("empty find list")
	}
	if len(q.Where) == 0 {
		v.addProblem("empty where clause list")
	}

	bound := make(map[Var]bool)
	for i, c := range q.Where {
		v.validateClause(i, c)
		for _, name := range c.Vars() {
			bound[name] = true
		}
	}

	for _, name := range q.Find {
		v.validateVar("find", name)
		if !bound[name] {
			v.addProblem("find variable %s is not bound by any clause", name)
		}
	}
}

func (v *validator) validateClause(i int, c Clause) {
	where := fmt.Sprintf("clause %d", i)

	switch e := c.E.(type) {
	case Var:
		v.validateVar(where, e)
	case Const:
		if _, ok := e.Value.(ir.EntityID); !ok {
			v.addProblem("%s: entity constant must be an entity id, got %s", where, ir.TypeName(e.Value))
		}
	default:
		v.addProblem("%s: missing entity term", where)
	}

	switch a := c.A.(type) {
	case Const:
		if _, ok := a.Value.(ir.Keyword); !ok {
			v.addProblem("%s: attribute must be a keyword, got %s", where, ir.TypeName(a.Value))
		}
	case Var:
		v.addProblem("%s: attribute variables are not supported (%s)", where, a)
	default:
		v.addProblem("%s: missing attribute term", where)
	}

	switch val := c.V.(type) {
	case Var:
		v.validateVar(where, val)
	case Const:
		switch val.Value.(type) {
		case nil:
			v.addProblem("%s: value constant is nil", where)
		case ir.Set, ir.Seq, ir.TempID:
			v.addProblem("%s: value constant cannot be a %s", where, ir.TypeName(val.Value))
		}
	default:
		v.addProblem("%s: missing value term", where)
	}
}

func (v *validator) validateVar(where string, name Var) {
	if len(name) < 2 || name[0] != '?' {
		v.addProblem("%s: variable %q must start with '?'", where, string(name))
	}
}
