package fact

import (
	"fmt"
	"maps"

	"github.com/roach88/dalton/internal/ir"
)

// TxResult is the outcome of one successful transaction. It is immutable:
// accessors return copies.
type TxResult struct {
	before  Snapshot
	after   Snapshot
	data    []ir.Datom
	tempids map[ir.TempID]ir.EntityID
}

// NewTxResult wraps a store outcome.
func NewTxResult(out *TxOutcome) *TxResult {
	return &TxResult{
		before:  out.Before,
		after:   out.After,
		data:    append([]ir.Datom(nil), out.Data...),
		tempids: maps.Clone(out.TempIDs),
	}
}

// Before returns the snapshot the transaction was applied to.
func (r *TxResult) Before() Snapshot { return r.before }

// After returns the snapshot including the transaction.
func (r *TxResult) After() Snapshot { return r.after }

// Data returns the datoms the transaction asserted and retracted, in order.
func (r *TxResult) Data() []ir.Datom {
	return append([]ir.Datom(nil), r.data...)
}

// TempIDs returns the temp id resolution map.
func (r *TxResult) TempIDs() map[ir.TempID]ir.EntityID {
	return maps.Clone(r.tempids)
}

// Resolve returns the real id for ref. Real ids resolve to themselves.
func (r *TxResult) Resolve(ref ir.EntityRef) (ir.EntityID, error) {
	switch ref := ref.(type) {
	case ir.EntityID:
		return ref, nil
	case ir.TempID:
		id, ok := r.tempids[ref]
		if !ok {
			return 0, fmt.Errorf("temp id %s was not resolved by transaction", ref)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("cannot resolve %v (%T) to an entity id", ref, ref)
	}
}
