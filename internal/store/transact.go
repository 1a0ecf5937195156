package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
)

// Transact applies edits atomically as one new transaction.
//
// Rejections are returned as *fact.StoreError and leave the store
// unchanged. Any other failure is returned as *fact.TransactionFailed.
func (s *Store) Transact(ctx context.Context, edits []ir.Edit) (*fact.TxOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("transact", "edits", len(edits))

	out, err := s.transact(ctx, edits)
	if err != nil {
		var se *fact.StoreError
		if errors.As(err, &se) {
			s.metrics.transactions.WithLabelValues("rejected").Inc()
			s.logger.Info("transaction rejected", "code", se.Code, "error", se.Message)
			return nil, se
		}
		s.metrics.transactions.WithLabelValues("failed").Inc()
		s.logger.Error("transaction failed", "error", err)
		var tf *fact.TransactionFailed
		if errors.As(err, &tf) {
			return nil, tf
		}
		return nil, &fact.TransactionFailed{Cause: err}
	}

	s.metrics.transactions.WithLabelValues("ok").Inc()
	for _, d := range out.Data {
		if d.Added {
			s.metrics.datoms.WithLabelValues("add").Inc()
		} else {
			s.metrics.datoms.WithLabelValues("retract").Inc()
		}
	}
	s.logger.Info("transaction committed",
		"tx", out.After.BasisT(),
		"datoms", len(out.Data),
		"tempids", len(out.TempIDs))
	return out, nil
}

func (s *Store) transact(ctx context.Context, edits []ir.Edit) (*fact.TxOutcome, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	before, err := latestBasis(ctx, sqlTx)
	if err != nil {
		return nil, err
	}
	t := &txn{
		ctx:      ctx,
		tx:       sqlTx,
		id:       before + 1,
		r:        reader{q: sqlTx, basis: before + 1, compiler: s.compiler},
		tempids:  make(map[ir.TempID]ir.EntityID),
		asserted: make(map[eaKey]ir.Value),
		touched:  make(map[eavKey]bool),
	}

	if _, err := sqlTx.ExecContext(ctx, `INSERT INTO transactions (tx, instant) VALUES (?, ?)`,
		t.id, s.clock.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	for i, edit := range edits {
		if err := t.apply(edit); err != nil {
			var se *fact.StoreError
			if errors.As(err, &se) {
				return nil, se
			}
			return nil, fmt.Errorf("edit %d %s: %w", i, edit, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	data := t.data
	if data == nil {
		data = []ir.Datom{}
	}
	return &fact.TxOutcome{
		Before:  &Snapshot{store: s, basis: before},
		After:   &Snapshot{store: s, basis: t.id},
		Data:    data,
		TempIDs: t.tempids,
	}, nil
}

type eaKey struct {
	e ir.EntityID
	a ir.Keyword
}

type eavKey struct {
	e ir.EntityID
	a ir.Keyword
	v string
}

// txn is the state of one transaction being applied.
type txn struct {
	ctx context.Context
	tx  *sql.Tx
	id  int64
	r   reader

	tempids  map[ir.TempID]ir.EntityID
	asserted map[eaKey]ir.Value // cardinality-one assertions made by this transaction
	touched  map[eavKey]bool    // true if asserted, false if retracted by this transaction
	data     []ir.Datom
}

func (t *txn) apply(edit ir.Edit) error {
	switch edit.Op {
	case ir.OpAdd:
		return t.add(edit.E, edit.A, edit.V)
	case ir.OpRetract:
		return t.retract(edit.E, edit.A, edit.V)
	case ir.OpRetractEntity:
		return t.retractEntity(edit.E)
	default:
		return fmt.Errorf("unknown op %q", edit.Op)
	}
}

func notAnEntity(ref any) *fact.StoreError {
	return &fact.StoreError{Code: fact.ErrNotAnEntity, Message: fmt.Sprintf("Unable to resolve entity: %v", ref)}
}

// resolve turns an entity position into a real id, allocating temp ids on
// first use.
func (t *txn) resolve(ref ir.EntityRef) (ir.EntityID, error) {
	switch ref := ref.(type) {
	case ir.EntityID:
		ok, err := t.r.entityExists(t.ctx, ref)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, notAnEntity(int64(ref))
		}
		return ref, nil
	case ir.TempID:
		if id, ok := t.tempids[ref]; ok {
			return id, nil
		}
		if _, ok, err := t.r.resolveIdent(t.ctx, ref.Partition); err != nil {
			return 0, err
		} else if !ok {
			return 0, notAnEntity(ref.Partition)
		}
		res, err := t.tx.ExecContext(t.ctx, `INSERT INTO entities (part) VALUES (?)`, string(ref.Partition))
		if err != nil {
			return 0, fmt.Errorf("allocate %s: %w", ref, err)
		}
		n, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("allocate %s: %w", ref, err)
		}
		t.tempids[ref] = ir.EntityID(n)
		return ir.EntityID(n), nil
	case ir.Keyword:
		id, ok, err := t.r.resolveIdent(t.ctx, ref)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, notAnEntity(ref)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("unsupported entity position %T", ref)
	}
}

func (t *txn) attribute(a ir.Keyword) (fact.AttributeDef, error) {
	def, ok, err := t.r.attribute(t.ctx, a)
	if err != nil {
		return fact.AttributeDef{}, err
	}
	if !ok {
		return fact.AttributeDef{}, &fact.StoreError{
			Code:    fact.ErrNotAnAttribute,
			Message: fmt.Sprintf("%s is not an attribute", a),
		}
	}
	return def, nil
}

// conform checks v against the attribute's value type and resolves
// reference values.
func (t *txn) conform(def fact.AttributeDef, v ir.Value) (ir.Value, error) {
	ok := false
	switch def.ValueType {
	case fact.TypeString:
		_, ok = v.(ir.String)
	case fact.TypeLong:
		_, ok = v.(ir.Long)
	case fact.TypeDouble:
		_, ok = v.(ir.Double)
	case fact.TypeBoolean:
		_, ok = v.(ir.Bool)
	case fact.TypeKeyword:
		_, ok = v.(ir.Keyword)
	case fact.TypeInstant:
		_, ok = v.(ir.Instant)
	case fact.TypeRef:
		if ref, isRef := v.(ir.EntityRef); isRef {
			return t.resolve(ref)
		}
	}
	if !ok {
		return nil, fact.WrongTypeError(def.Ident, v, def.ValueType.Name())
	}
	return v, nil
}

func (t *txn) add(ref ir.EntityRef, a ir.Keyword, raw ir.Value) error {
	e, err := t.resolve(ref)
	if err != nil {
		return err
	}
	def, err := t.attribute(a)
	if err != nil {
		return err
	}
	v, err := t.conform(def, raw)
	if err != nil {
		return err
	}
	enc, err := ir.EncodeString(v)
	if err != nil {
		return err
	}

	key := eavKey{e: e, a: a, v: enc}
	if added, seen := t.touched[key]; seen && !added {
		return t.conflict(e, a, v, v)
	}
	if !def.Many() {
		ea := eaKey{e: e, a: a}
		if prev, seen := t.asserted[ea]; seen && !ir.Equal(prev, v) {
			return t.conflict(e, a, prev, v)
		}
		t.asserted[ea] = v
	}

	if def.Unique != "" {
		holders, err := t.r.holders(t.ctx, a, v)
		if err != nil {
			return err
		}
		for _, h := range holders {
			if h != e {
				return fact.UniqueConflictError(a, v, h, e)
			}
		}
	}

	current, err := t.r.values(t.ctx, e, a)
	if err != nil {
		return err
	}
	t.touched[key] = true
	for _, c := range current {
		if ir.Equal(c, v) {
			return nil
		}
	}
	if !def.Many() {
		for _, c := range current {
			if err := t.insert(e, a, c, false); err != nil {
				return err
			}
		}
	}
	return t.insert(e, a, v, true)
}

func (t *txn) retract(ref ir.EntityRef, a ir.Keyword, raw ir.Value) error {
	e, err := t.resolve(ref)
	if err != nil {
		return err
	}
	def, err := t.attribute(a)
	if err != nil {
		return err
	}
	v, err := t.conform(def, raw)
	if err != nil {
		return err
	}
	enc, err := ir.EncodeString(v)
	if err != nil {
		return err
	}

	key := eavKey{e: e, a: a, v: enc}
	if added, seen := t.touched[key]; seen && added {
		return t.conflict(e, a, v, v)
	}

	current, err := t.r.values(t.ctx, e, a)
	if err != nil {
		return err
	}
	for _, c := range current {
		if ir.Equal(c, v) {
			t.touched[key] = false
			return t.insert(e, a, v, false)
		}
	}
	return nil
}

func (t *txn) retractEntity(ref ir.EntityRef) error {
	e, err := t.resolve(ref)
	if err != nil {
		return err
	}
	raw, err := t.r.rawEntity(t.ctx, e)
	if err != nil {
		return err
	}
	refs, err := t.r.references(t.ctx, e)
	if err != nil {
		return err
	}

	attrs := make([]ir.Keyword, 0, len(raw))
	for a := range raw {
		attrs = append(attrs, a)
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i] < attrs[j] })
	for _, a := range attrs {
		for _, v := range raw[a] {
			if err := t.insert(e, a, v, false); err != nil {
				return err
			}
		}
	}
	for _, d := range refs {
		if d.E == e {
			continue // already retracted above
		}
		if err := t.insert(d.E, d.A, d.V, false); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) conflict(e ir.EntityID, a ir.Keyword, v1, v2 ir.Value) *fact.StoreError {
	return &fact.StoreError{
		Code: fact.ErrDatomsConflict,
		Message: fmt.Sprintf("Two datoms in the same transaction conflict: [%d %s %s] and [%d %s %s]",
			e, a, ir.Format(v1), e, a, ir.Format(v2)),
	}
}

func (t *txn) insert(e ir.EntityID, a ir.Keyword, v ir.Value, added bool) error {
	enc, err := ir.EncodeString(v)
	if err != nil {
		return err
	}
	flag := 0
	if added {
		flag = 1
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO datoms (e, a, v, tx, added) VALUES (?, ?, ?, ?, ?)`,
		int64(e), string(a), enc, t.id, flag); err != nil {
		return fmt.Errorf("insert datom: %w", err)
	}
	t.data = append(t.data, ir.Datom{E: e, A: a, V: v, Tx: t.id, Added: added})
	return nil
}
