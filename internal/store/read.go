package store

import (
	"context"
	"fmt"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/querysql"
)

// reader answers questions about the datoms current as of basis. It runs on
// the database for snapshots and on the open SQL transaction inside
// Transact, where basis is the transaction being written.
//
// Methods never issue a query while rows of another are still open: the
// pool has a single connection.
type reader struct {
	q        querier
	basis    int64
	compiler *querysql.SQLCompiler
}

func (r reader) current() string {
	return "(" + r.compiler.CurrentDatoms() + ")"
}

// rawEntity returns the current values of e grouped by attribute, in
// attribute then value order.
func (r reader) rawEntity(ctx context.Context, e ir.EntityID) (map[ir.Keyword][]ir.Value, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT c.a, c.v FROM "+r.current()+" c WHERE c.e = ? ORDER BY c.a COLLATE BINARY, c.v COLLATE BINARY",
		r.basis, r.basis, int64(e))
	if err != nil {
		return nil, fmt.Errorf("query entity %d: %w", e, err)
	}
	defer rows.Close()

	out := make(map[ir.Keyword][]ir.Value)
	for rows.Next() {
		var a, enc string
		if err := rows.Scan(&a, &enc); err != nil {
			return nil, fmt.Errorf("scan entity %d: %w", e, err)
		}
		v, err := ir.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode %s of entity %d: %w", a, e, err)
		}
		out[ir.Keyword(a)] = append(out[ir.Keyword(a)], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity %d: %w", e, err)
	}
	return out, nil
}

// entity builds the view of e, folding cardinality-many attributes into sets.
func (r reader) entity(ctx context.Context, e ir.EntityID) (fact.EntityView, bool, error) {
	raw, err := r.rawEntity(ctx, e)
	if err != nil {
		return fact.EntityView{}, false, err
	}
	if len(raw) == 0 {
		return fact.EntityView{}, false, nil
	}

	view := fact.EntityView{ID: e, Attrs: make(map[ir.Keyword]ir.Value, len(raw))}
	for a, vals := range raw {
		def, ok, err := r.attribute(ctx, a)
		if err != nil {
			return fact.EntityView{}, false, err
		}
		if ok && def.Many() {
			set, err := ir.NewSet(vals...)
			if err != nil {
				return fact.EntityView{}, false, fmt.Errorf("entity %d %s: %w", e, a, err)
			}
			view.Attrs[a] = set
			continue
		}
		view.Attrs[a] = vals[len(vals)-1]
	}
	return view, true, nil
}

// resolveIdent returns the entity named by ident.
func (r reader) resolveIdent(ctx context.Context, ident ir.Keyword) (ir.EntityID, bool, error) {
	ids, err := r.holders(ctx, fact.AttrIdent, ident)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// attribute returns the definition of the attribute named ident.
func (r reader) attribute(ctx context.Context, ident ir.Keyword) (fact.AttributeDef, bool, error) {
	id, ok, err := r.resolveIdent(ctx, ident)
	if err != nil || !ok {
		return fact.AttributeDef{}, false, err
	}
	raw, err := r.rawEntity(ctx, id)
	if err != nil {
		return fact.AttributeDef{}, false, err
	}

	one := func(a ir.Keyword) ir.Value {
		vals := raw[a]
		if len(vals) == 0 {
			return nil
		}
		return vals[len(vals)-1]
	}

	valueType, ok := one(fact.AttrValueType).(ir.Keyword)
	if !ok {
		return fact.AttributeDef{}, false, nil
	}
	def := fact.AttributeDef{
		ID:          id,
		Ident:       ident,
		ValueType:   valueType,
		Cardinality: fact.CardinalityOne,
	}
	if c, ok := one(fact.AttrCardinality).(ir.Keyword); ok {
		def.Cardinality = c
	}
	if u, ok := one(fact.AttrUnique).(ir.Keyword); ok {
		def.Unique = u
	}
	if d, ok := one(fact.AttrDoc).(ir.String); ok {
		def.Doc = string(d)
	}
	return def, true, nil
}

// values returns the current values of (e, a).
func (r reader) values(ctx context.Context, e ir.EntityID, a ir.Keyword) ([]ir.Value, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT c.v FROM "+r.current()+" c WHERE c.e = ? AND c.a = ? ORDER BY c.v COLLATE BINARY",
		r.basis, r.basis, int64(e), string(a))
	if err != nil {
		return nil, fmt.Errorf("query %d %s: %w", e, a, err)
	}
	defer rows.Close()

	var out []ir.Value
	for rows.Next() {
		var enc string
		if err := rows.Scan(&enc); err != nil {
			return nil, fmt.Errorf("scan %d %s: %w", e, a, err)
		}
		v, err := ir.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode %d %s: %w", e, a, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// holders returns the entities whose current a is v, in id order.
func (r reader) holders(ctx context.Context, a ir.Keyword, v ir.Value) ([]ir.EntityID, error) {
	enc, err := ir.EncodeString(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", a, err)
	}
	rows, err := r.q.QueryContext(ctx,
		"SELECT DISTINCT c.e FROM "+r.current()+" c WHERE c.a = ? AND c.v = ? ORDER BY c.e ASC",
		r.basis, r.basis, string(a), enc)
	if err != nil {
		return nil, fmt.Errorf("query holders of %s: %w", a, err)
	}
	defer rows.Close()

	var out []ir.EntityID
	for rows.Next() {
		var e int64
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scan holder of %s: %w", a, err)
		}
		out = append(out, ir.EntityID(e))
	}
	return out, rows.Err()
}

// references returns every current datom whose value is a reference to e.
func (r reader) references(ctx context.Context, e ir.EntityID) ([]ir.Datom, error) {
	enc, err := ir.EncodeString(e)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx,
		"SELECT c.e, c.a FROM "+r.current()+" c WHERE c.v = ? ORDER BY c.e ASC, c.a COLLATE BINARY",
		r.basis, r.basis, enc)
	if err != nil {
		return nil, fmt.Errorf("query references to %d: %w", e, err)
	}
	defer rows.Close()

	var out []ir.Datom
	for rows.Next() {
		var src int64
		var a string
		if err := rows.Scan(&src, &a); err != nil {
			return nil, fmt.Errorf("scan reference to %d: %w", e, err)
		}
		out = append(out, ir.Datom{E: ir.EntityID(src), A: ir.Keyword(a), V: e, Added: true})
	}
	return out, rows.Err()
}

// entityExists reports whether id was ever allocated.
func (r reader) entityExists(ctx context.Context, id ir.EntityID) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE id = ?`, int64(id)).Scan(&n); err != nil {
		return false, fmt.Errorf("query entity %d: %w", id, err)
	}
	return n > 0, nil
}
