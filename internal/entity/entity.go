// Package entity provides read-only handles over one entity of one
// snapshot.
//
// A Handle fetches its entity lazily, at most once, and decodes attribute
// values through the Value Translator. References decode to further
// handles on the same snapshot, so a handle graph never mixes two points in
// time.
package entity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/translate"
)

// Handle is a view of entity id as of snapshot snap.
type Handle struct {
	snap fact.Snapshot
	id   ir.EntityID

	once  sync.Once
	view  fact.EntityView
	found bool
	err   error
}

// New returns a handle for id on snap. Nothing is fetched until an
// attribute is read.
func New(snap fact.Snapshot, id ir.EntityID) *Handle {
	return &Handle{snap: snap, id: id}
}

// ID returns the entity id.
func (h *Handle) ID() ir.EntityID { return h.id }

// EntityID implements translate.EntityRef.
func (h *Handle) EntityID() ir.EntityID { return h.id }

// Snapshot returns the snapshot the handle reads from.
func (h *Handle) Snapshot() fact.Snapshot { return h.snap }

func (h *Handle) load() (fact.EntityView, bool, error) {
	h.once.Do(func() {
		h.view, h.found, h.err = h.snap.Entity(h.id)
		if h.err != nil {
			h.err = fmt.Errorf("fetch entity %d: %w", h.id, h.err)
		}
	})
	return h.view, h.found, h.err
}

// Exists reports whether the entity has any facts in the snapshot.
func (h *Handle) Exists() (bool, error) {
	_, found, err := h.load()
	return found, err
}

// Raw returns the wire value of attr, or nil when absent.
func (h *Handle) Raw(attr ir.Keyword) (ir.Value, error) {
	view, _, err := h.load()
	if err != nil {
		return nil, err
	}
	return view.Get(attr), nil
}

// IsReverse reports whether attr names the reverse of a reference
// attribute, spelled with a leading underscore: :ns/_name.
func IsReverse(attr ir.Keyword) bool {
	return strings.HasPrefix(attr.Name(), "_")
}

// Forward returns the reference attribute a reverse attribute walks back.
func Forward(attr ir.Keyword) ir.Keyword {
	return ir.Keyword(attr.Namespace() + "/" + strings.TrimPrefix(attr.Name(), "_"))
}

// Get returns the decoded value of attr. References become handles on the
// same snapshot; reverse attributes return the set of referring entities.
// Absent attributes decode to nil, except reverse attributes which are
// never absent: they return an empty set.
func (h *Handle) Get(attr ir.Keyword) (any, error) {
	if IsReverse(attr) {
		return h.referrers(Forward(attr))
	}
	raw, err := h.Raw(attr)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return h.decoder().FromWire(raw)
}

func (h *Handle) referrers(forward ir.Keyword) (translate.Set, error) {
	ids, err := h.snap.Referrers(forward, h.id)
	if err != nil {
		return translate.Set{}, fmt.Errorf("referrers of %d via %s: %w", h.id, forward, err)
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = New(h.snap, id)
	}
	return translate.NewSet(members...)
}

func (h *Handle) decoder() translate.Decoder {
	return translate.Decoder{
		Promote: func(id ir.EntityID) (any, error) {
			return New(h.snap, id), nil
		},
	}
}

// Keys returns the entity's attributes in sorted order.
func (h *Handle) Keys() ([]ir.Keyword, error) {
	view, _, err := h.load()
	if err != nil {
		return nil, err
	}
	return view.Keys(), nil
}

// ToMap decodes every attribute. References are rendered as entity ids so
// cyclic graphs terminate.
func (h *Handle) ToMap() (map[ir.Keyword]any, error) {
	view, _, err := h.load()
	if err != nil {
		return nil, err
	}
	out := make(map[ir.Keyword]any, len(view.Attrs))
	for _, k := range view.Keys() {
		v, err := translate.FromWire(view.Attrs[k])
		if err != nil {
			return nil, fmt.Errorf("decode %s of %d: %w", k, h.id, err)
		}
		out[k] = v
	}
	return out, nil
}

// Equal reports whether h and other denote the same entity in the same
// snapshot.
func (h *Handle) Equal(other *Handle) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.id == other.id && h.snap.ID() == other.snap.ID()
}

// String renders the handle as #<Entity id @basis>.
func (h *Handle) String() string {
	return fmt.Sprintf("#<Entity %d @%d>", h.id, h.snap.BasisT())
}
