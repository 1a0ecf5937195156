package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/dalton/internal/entity"
	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/translate"
)

// Instance is a stored entity read through its model, pinned to one
// snapshot.
type Instance struct {
	repo   *Repo
	model  *Model
	handle *entity.Handle
}

func (r *Repo) instance(snap fact.Snapshot, m *Model, id ir.EntityID) *Instance {
	return &Instance{repo: r, model: m, handle: entity.New(snap, id)}
}

// ID returns the entity id.
func (i *Instance) ID() ir.EntityID { return i.handle.ID() }

// EntityID implements translate.EntityRef.
func (i *Instance) EntityID() ir.EntityID { return i.handle.ID() }

// Model returns the instance's model.
func (i *Instance) Model() *Model { return i.model }

// Snapshot returns the snapshot the instance reads from.
func (i *Instance) Snapshot() fact.Snapshot { return i.handle.Snapshot() }

// Handle returns the underlying entity handle.
func (i *Instance) Handle() *entity.Handle { return i.handle }

func (i *Instance) loadContext() LoadContext {
	return LoadContext{Repo: i.repo, Snapshot: i.handle.Snapshot()}
}

// Get returns the value of attribute name, or its default when the entity
// has none. References load as instances on the same snapshot and set
// attributes as translate.Set.
func (i *Instance) Get(name string) (any, error) {
	a, ok := i.model.Attribute(name)
	if !ok {
		return nil, &InvalidValueError{Model: i.model.Name(), Attr: name, Reason: "unknown attribute"}
	}
	v, err := i.stored(a)
	if err != nil {
		return nil, err
	}
	if isEmpty(v) {
		return emptyValue(a), nil
	}
	return v, nil
}

// stored returns the value the snapshot holds for a, without defaults.
func (i *Instance) stored(a Attribute) (any, error) {
	if a.Inverse {
		return i.referrers(a)
	}
	raw, err := i.handle.Raw(a.Ident)
	if err != nil {
		return nil, err
	}
	v, err := a.Type.Load(i.loadContext(), raw)
	if err != nil {
		var tm *TypeMismatchError
		if errors.As(err, &tm) && tm.Attr == "" {
			tm.Attr = a.Ident
		}
		return nil, fmt.Errorf("%s: %w", i, err)
	}
	return v, nil
}

func (i *Instance) referrers(a Attribute) (translate.Set, error) {
	ids, err := i.Snapshot().Referrers(a.Forward(), i.ID())
	if err != nil {
		return translate.Set{}, fmt.Errorf("%s: %s: %w", i, a.Name, err)
	}
	target, _ := refTarget(a.Type)
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		v, err := i.repo.load(i.Snapshot(), target, id)
		if err != nil {
			return translate.Set{}, err
		}
		members = append(members, v)
	}
	return translate.NewSet(members...)
}

// Attributes returns the value of every attribute that has one, defaults
// included.
func (i *Instance) Attributes() (map[string]any, error) {
	out := map[string]any{}
	for _, a := range i.model.attrs {
		v, err := i.Get(a.Name)
		if err != nil {
			return nil, err
		}
		if !isEmpty(v) {
			out[a.Name] = v
		}
	}
	return out, nil
}

// ToMap returns Attributes plus "id". References are rendered as entity
// ids so the result has no cycles.
func (i *Instance) ToMap() (map[string]any, error) {
	attrs, err := i.Attributes()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(attrs)+1)
	out["id"] = i.ID()
	for k, v := range attrs {
		out[k] = flatten(v)
	}
	return out, nil
}

func flatten(v any) any {
	switch val := v.(type) {
	case translate.EntityRef:
		return val.EntityID()
	case translate.Set:
		members := val.Members()
		out := make([]any, len(members))
		for j, m := range members {
			out[j] = flatten(m)
		}
		return translate.MustSet(out...)
	default:
		return v
	}
}

// Change returns a changer seeded with the instance's current values.
func (i *Instance) Change(fn func(*Changer) error) (*Changer, error) {
	c := newChanger(i.repo, i.model, i.ID(), Modified, i)
	for _, a := range i.model.attrs {
		if a.Inverse {
			continue
		}
		v, err := i.stored(a)
		if err != nil {
			return nil, err
		}
		if !isEmpty(v) {
			c.original[a.Name] = v
		}
	}
	if fn != nil {
		if err := fn(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Update is Change followed by Commit.
func (i *Instance) Update(ctx context.Context, fn func(*Changer) error) (*Instance, error) {
	c, err := i.Change(fn)
	if err != nil {
		return nil, err
	}
	return c.Commit(ctx)
}

// Retract removes the entity and every reference to it.
func (i *Instance) Retract(ctx context.Context) (*fact.TxResult, error) {
	c := newChanger(i.repo, i.model, i.ID(), Modified, i)
	return i.repo.transact(ctx, c, []ir.Edit{ir.RetractEntity(i.ID())})
}

// Finder returns a finder for the instance's model on its snapshot.
func (i *Instance) Finder() Finder {
	return i.repo.Finder(i.model, i.Snapshot())
}

// Equal reports whether both instances denote the same entity in the same
// snapshot.
func (i *Instance) Equal(other *Instance) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.handle.Equal(other.handle)
}

func (i *Instance) String() string {
	return fmt.Sprintf("#<%s %d @%d>", i.model.Name(), i.ID(), i.Snapshot().BasisT())
}
