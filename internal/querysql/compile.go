// Package querysql compiles queryir queries into parameterised SQLite SQL
// over the datom log.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/queryir"
)

// ColumnKind says how a result column must be decoded.
type ColumnKind int

const (
	// ColumnEntity holds an integer entity id.
	ColumnEntity ColumnKind = iota
	// ColumnValue holds a canonically encoded wire value.
	ColumnValue
)

// Compiled is a query ready to run.
type Compiled struct {
	SQL     string
	Params  []any
	Columns []ColumnKind
}

// SQLCompiler compiles queryir queries against a datom table.
//
// Every query selects DISTINCT rows and ends in an ORDER BY over all
// selected columns, so results are deterministic. Values are always bound
// as parameters, never interpolated.
type SQLCompiler struct {
	// Table is the datom table name.
	Table string
}

// NewSQLCompiler creates a compiler for the "datoms" table.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Table: "datoms"}
}

// CurrentDatoms returns a SELECT over the datoms current as of a basis,
// which must be bound twice. A datom is current when it is an assertion and
// no later event for the same (e, a, v) exists at or before the basis.
func (c *SQLCompiler) CurrentDatoms() string {
	return fmt.Sprintf(
		"SELECT d.e, d.a, d.v FROM %[1]s d WHERE d.tx <= ? AND d.added = 1 "+
			"AND NOT EXISTS (SELECT 1 FROM %[1]s r WHERE r.e = d.e AND r.a = d.a AND r.v = d.v AND r.tx <= ? AND r.id > d.id)",
		c.Table)
}

type position int

const (
	posE position = iota
	posV
)

type occurrence struct {
	clause int
	pos    position
}

func (o occurrence) column() string {
	if o.pos == posE {
		return fmt.Sprintf("c%d.e", o.clause)
	}
	return fmt.Sprintf("c%d.v", o.clause)
}

// Compile converts q into SQL over the datoms current as of basis.
func (c *SQLCompiler) Compile(q queryir.Query, basis int64) (Compiled, error) {
	if err := queryir.Validate(q).Err(); err != nil {
		return Compiled{}, err
	}

	params := []any{basis, basis}
	var from []string
	var conds []string
	occurrences := make(map[queryir.Var][]occurrence)
	var order []queryir.Var

	note := func(v queryir.Var, o occurrence) {
		if _, seen := occurrences[v]; !seen {
			order = append(order, v)
		}
		occurrences[v] = append(occurrences[v], o)
	}

	for i, clause := range q.Where {
		from = append(from, fmt.Sprintf("cur c%d", i))

		switch e := clause.E.(type) {
		case queryir.Var:
			note(e, occurrence{clause: i, pos: posE})
		case queryir.Const:
			conds = append(conds, fmt.Sprintf("c%d.e = ?", i))
			params = append(params, int64(e.Value.(ir.EntityID)))
		}

		attr := clause.A.(queryir.Const).Value.(ir.Keyword)
		conds = append(conds, fmt.Sprintf("c%d.a = ?", i))
		params = append(params, string(attr))

		switch v := clause.V.(type) {
		case queryir.Var:
			note(v, occurrence{clause: i, pos: posV})
		case queryir.Const:
			enc, err := ir.EncodeString(v.Value)
			if err != nil {
				return Compiled{}, fmt.Errorf("clause %d value: %w", i, err)
			}
			conds = append(conds, fmt.Sprintf("c%d.v = ?", i))
			params = append(params, enc)
		}
	}

	for _, v := range order {
		occ := occurrences[v]
		first := occ[0]
		for _, o := range occ[1:] {
			conds = append(conds, joinCondition(first, o))
		}
	}

	var selects []string
	var orderBy []string
	var columns []ColumnKind
	for i, v := range q.Find {
		o := outputOccurrence(occurrences[v])
		col := fmt.Sprintf("col%d", i)
		selects = append(selects, o.column()+" AS "+col)
		if o.pos == posE {
			columns = append(columns, ColumnEntity)
			orderBy = append(orderBy, col+" ASC")
		} else {
			columns = append(columns, ColumnValue)
			orderBy = append(orderBy, col+" ASC COLLATE BINARY")
		}
	}

	sql := fmt.Sprintf("WITH cur AS (%s) SELECT DISTINCT %s FROM %s WHERE %s ORDER BY %s",
		c.CurrentDatoms(),
		strings.Join(selects, ", "),
		strings.Join(from, ", "),
		strings.Join(conds, " AND "),
		strings.Join(orderBy, ", "))

	return Compiled{SQL: sql, Params: params, Columns: columns}, nil
}

// outputOccurrence prefers an entity position so variables that name
// entities come back as ids.
func outputOccurrence(occ []occurrence) occurrence {
	for _, o := range occ {
		if o.pos == posE {
			return o
		}
	}
	return occ[0]
}

// joinCondition equates two occurrences of one variable. Entity positions
// are integers and value positions canonical text, so a mixed pair compares
// the value against the canonical encoding of a reference.
func joinCondition(a, b occurrence) string {
	switch {
	case a.pos == b.pos:
		return a.column() + " = " + b.column()
	case a.pos == posE:
		return fmt.Sprintf("%s = '%s' || %s || '%s'", b.column(), ir.RefPrefix, a.column(), ir.RefSuffix)
	default:
		return fmt.Sprintf("%s = '%s' || %s || '%s'", a.column(), ir.RefPrefix, b.column(), ir.RefSuffix)
	}
}
