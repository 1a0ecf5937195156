package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/queryir"
	"github.com/roach88/dalton/internal/querysql"
)

// Snapshot is the store as of one basis t. It is an immutable value.
type Snapshot struct {
	store *Store
	basis int64
}

var _ fact.Snapshot = (*Snapshot)(nil)

func (s *Snapshot) reader() reader {
	return reader{q: s.store.db, basis: s.basis, compiler: s.store.compiler}
}

// ID identifies the snapshot.
func (s *Snapshot) ID() fact.SnapshotID {
	return fact.SnapshotID{Store: s.store.id, BasisT: s.basis}
}

// BasisT is the last transaction visible in the snapshot.
func (s *Snapshot) BasisT() int64 {
	return s.basis
}

// Entity returns the current attributes of id.
func (s *Snapshot) Entity(id ir.EntityID) (fact.EntityView, bool, error) {
	key := entityKey{basis: s.basis, id: id}
	if s.store.entities != nil {
		if view, ok := s.store.entities.Get(key); ok {
			return view, true, nil
		}
	}

	view, ok, err := s.reader().entity(context.Background(), id)
	if err != nil || !ok {
		return view, ok, err
	}
	if s.store.entities != nil {
		s.store.entities.Add(key, view)
	}
	return view, true, nil
}

// Attribute returns the definition of an installed attribute.
func (s *Snapshot) Attribute(ident ir.Keyword) (fact.AttributeDef, bool, error) {
	key := attrKey{basis: s.basis, ident: ident}
	if s.store.attrs != nil {
		if def, ok := s.store.attrs.Get(key); ok {
			return def, true, nil
		}
	}

	def, ok, err := s.reader().attribute(context.Background(), ident)
	if err != nil || !ok {
		return def, ok, err
	}
	if s.store.attrs != nil {
		s.store.attrs.Add(key, def)
	}
	return def, true, nil
}

// Referrers returns the entities whose attr points at id, in id order.
func (s *Snapshot) Referrers(attr ir.Keyword, id ir.EntityID) ([]ir.EntityID, error) {
	return s.reader().holders(context.Background(), attr, id)
}

// Instant returns the wall-clock time of the snapshot's basis transaction.
func (s *Snapshot) Instant(ctx context.Context) (time.Time, error) {
	var ms int64
	if err := s.store.db.QueryRowContext(ctx,
		`SELECT instant FROM transactions WHERE tx = ?`, s.basis).Scan(&ms); err != nil {
		return time.Time{}, fmt.Errorf("read instant of %d: %w", s.basis, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Query executes q against the snapshot.
func (s *Snapshot) Query(ctx context.Context, q queryir.Query) ([]ir.Seq, error) {
	start := time.Now()
	defer func() { s.store.metrics.queryDuration.Observe(time.Since(start).Seconds()) }()

	compiled, err := s.store.compiler.Compile(q, s.basis)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	s.store.logger.Debug("query", "basis", s.basis, "query", q.String())

	rows, err := s.store.db.QueryContext(ctx, compiled.SQL, compiled.Params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	results := []ir.Seq{}
	for rows.Next() {
		cols := make([]any, len(compiled.Columns))
		for i, kind := range compiled.Columns {
			if kind == querysql.ColumnEntity {
				cols[i] = new(int64)
			} else {
				cols[i] = new(string)
			}
		}
		if err := rows.Scan(cols...); err != nil {
			return nil, fmt.Errorf("scan query row: %w", err)
		}

		tuple := make(ir.Seq, len(cols))
		for i, col := range cols {
			switch c := col.(type) {
			case *int64:
				tuple[i] = ir.EntityID(*c)
			case *string:
				v, err := ir.DecodeString(*c)
				if err != nil {
					return nil, fmt.Errorf("decode query column %d: %w", i, err)
				}
				tuple[i] = v
			}
		}
		results = append(results, tuple)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query rows: %w", err)
	}
	return results, nil
}
