package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/queryir"
)

// BaseSchema returns the edits that install a namespace: its partition
// and its type discriminator attribute.
func BaseSchema(ns, partition string) []ir.Edit {
	if partition == "" {
		partition = ns
	}
	part := ir.Keyword("db.part/" + partition)
	key := TypeKey(ns)
	ptmp := fact.TempID(fact.PartDB, string(part))
	ktmp := fact.TempID(fact.PartDB, string(key))
	return []ir.Edit{
		ir.Add(ptmp, fact.AttrIdent, part),
		ir.Add(ktmp, fact.AttrIdent, key),
		ir.Add(ktmp, fact.AttrValueType, fact.TypeKeyword),
		ir.Add(ktmp, fact.AttrCardinality, fact.CardinalityOne),
		ir.Add(ktmp, fact.AttrDoc, ir.String("A model's type")),
	}
}

// Schema returns the transactions that install m: first its type tag as
// an ident, then one transaction per stored attribute. Inverse attributes
// are derived and install nothing.
func (m *Model) Schema() ([][]ir.Edit, error) {
	tag := m.TypeTag()
	txs := [][]ir.Edit{{
		ir.Add(fact.TempID(fact.PartDB, string(tag)), fact.AttrIdent, tag),
	}}
	for _, a := range m.attrs {
		if a.Inverse {
			continue
		}
		edits, err := a.schema()
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.name, err)
		}
		txs = append(txs, edits)
	}
	return txs, nil
}

func (a Attribute) schema() ([]ir.Edit, error) {
	if a.Type.ValueType() == "" {
		return nil, fmt.Errorf("attribute %s: %s attributes have no stored type", a.Name, a.Type)
	}
	tmp := fact.TempID(fact.PartDB, string(a.Ident))
	edits := []ir.Edit{
		ir.Add(tmp, fact.AttrIdent, a.Ident),
		ir.Add(tmp, fact.AttrValueType, a.Type.ValueType()),
		ir.Add(tmp, fact.AttrCardinality, a.Type.Cardinality()),
	}
	if a.Doc != "" {
		edits = append(edits, ir.Add(tmp, fact.AttrDoc, ir.String(a.Doc)))
	}
	if a.Unique != "" {
		edits = append(edits, ir.Add(tmp, fact.AttrUnique, a.Unique))
	}
	return edits, nil
}

// InstallBase installs the partition and type attribute of a namespace
// unless the latest snapshot already has them.
func (r *Repo) InstallBase(ctx context.Context, ns, partition string) error {
	snap, err := r.conn.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if _, ok, err := snap.Attribute(TypeKey(ns)); err != nil {
		return err
	} else if ok {
		r.logger.Debug("base schema present", "namespace", ns)
		return nil
	}
	if _, err := r.conn.Transact(ctx, BaseSchema(ns, partition)); err != nil {
		return fmt.Errorf("install base schema %s: %w", ns, err)
	}
	r.logger.Info("installed base schema", "namespace", ns, "partition", partition)
	return nil
}

// Install installs everything the registry's models need: the base schema
// of each namespace, every partition, then each model's schema. It returns
// the number of model schema transactions submitted.
func (r *Repo) Install(ctx context.Context) (int, error) {
	seen := make(map[string]bool)
	for _, m := range r.registry.Models() {
		if !seen[m.namespace] {
			seen[m.namespace] = true
			part := strings.TrimPrefix(string(m.partition), "db.part/")
			if err := r.InstallBase(ctx, m.namespace, part); err != nil {
				return 0, err
			}
		}
		if err := r.installPartition(ctx, m.partition); err != nil {
			return 0, err
		}
	}

	n := 0
	for _, m := range r.registry.Models() {
		k, err := r.InstallSchema(ctx, m)
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (r *Repo) installPartition(ctx context.Context, part ir.Keyword) error {
	tx := []ir.Edit{ir.Add(fact.TempID(fact.PartDB, string(part)), fact.AttrIdent, part)}
	snap, err := r.conn.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	present, err := identPresent(ctx, snap, part, tx)
	if err != nil || present {
		return err
	}
	if _, err := r.conn.Transact(ctx, tx); err != nil {
		return fmt.Errorf("install partition %s: %w", part, err)
	}
	r.logger.Info("installed partition", "partition", part)
	return nil
}

// InstallSchema installs the type tag and attributes of m, skipping
// whatever the latest snapshot already has. It returns the number of
// transactions submitted.
func (r *Repo) InstallSchema(ctx context.Context, m *Model) (int, error) {
	txs, err := m.Schema()
	if err != nil {
		return 0, err
	}
	snap, err := r.conn.Snapshot()
	if err != nil {
		return 0, fmt.Errorf("snapshot: %w", err)
	}

	n := 0
	for _, tx := range txs {
		ident := tx[0].V.(ir.Keyword)
		present, err := identPresent(ctx, snap, ident, tx)
		if err != nil {
			return n, err
		}
		if present {
			r.logger.Debug("schema present", "model", m.name, "ident", ident)
			continue
		}
		if _, err := r.conn.Transact(ctx, tx); err != nil {
			return n, fmt.Errorf("install %s: %w", ident, err)
		}
		n++
		r.logger.Info("installed schema", "model", m.name, "ident", ident)
	}
	return n, nil
}

// identPresent reports whether the ident declared by tx exists. The type
// tag transaction declares a bare ident; attribute transactions declare an
// attribute.
func identPresent(ctx context.Context, snap fact.Snapshot, ident ir.Keyword, tx []ir.Edit) (bool, error) {
	if len(tx) > 1 {
		_, ok, err := snap.Attribute(ident)
		return ok, err
	}
	rows, err := snap.Query(ctx, queryir.Query{
		Find:  []queryir.Var{"?e"},
		Where: []queryir.Clause{{E: queryir.Var("?e"), A: queryir.C(fact.AttrIdent), V: queryir.C(ident)}},
	})
	if err != nil {
		return false, fmt.Errorf("look up ident %s: %w", ident, err)
	}
	return len(rows) > 0, nil
}
