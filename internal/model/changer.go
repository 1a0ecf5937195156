package model

import (
	"context"
	"fmt"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/translate"
)

// State is where a changer is in its lifecycle.
type State int

const (
	// Unsaved changers stage a new entity under a temp id.
	Unsaved State = iota

	// Modified changers stage edits to a stored entity.
	Modified

	// Saving changers are part of a transaction in flight.
	Saving

	// Saved changers have committed; their id is real.
	Saved
)

func (s State) String() string {
	switch s {
	case Unsaved:
		return "unsaved"
	case Modified:
		return "modified"
	case Saving:
		return "saving"
	case Saved:
		return "saved"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Changer stages assignments and retractions against a frozen copy of an
// entity's original values, then commits them as one transaction.
//
// A Changer is not safe for concurrent use. It commits at most once.
type Changer struct {
	repo  *Repo
	model *Model
	ref   ir.EntityRef
	state State

	// source is the instance a Modified changer was derived from.
	source *Instance

	original    map[string]any
	changes     map[string]any
	retractions map[string]bool
	associated  []*Changer

	result   *Instance
	txResult *fact.TxResult
}

func newChanger(r *Repo, m *Model, ref ir.EntityRef, state State, source *Instance) *Changer {
	return &Changer{
		repo:        r,
		model:       m,
		ref:         ref,
		state:       state,
		source:      source,
		original:    map[string]any{},
		changes:     map[string]any{},
		retractions: map[string]bool{},
	}
}

// Model returns the model being changed.
func (c *Changer) Model() *Model { return c.model }

// State returns the lifecycle state.
func (c *Changer) State() State { return c.state }

// Ref returns the entity reference: a temp id until a new entity is
// saved, its real id afterwards. Implements translate.Referent.
func (c *Changer) Ref() ir.EntityRef { return c.ref }

// Instance returns the committed entity, or nil before commit.
func (c *Changer) Instance() *Instance { return c.result }

// Result returns the transaction the changer committed in, or nil.
func (c *Changer) Result() *fact.TxResult { return c.txResult }

func (c *Changer) writable(name string) (Attribute, error) {
	if c.state == Saving || c.state == Saved {
		return Attribute{}, ErrAlreadyCommitted
	}
	a, ok := c.model.Attribute(name)
	if !ok {
		return Attribute{}, &InvalidValueError{Model: c.model.Name(), Attr: name, Reason: "unknown attribute"}
	}
	if a.Inverse {
		return Attribute{}, &InvalidValueError{Model: c.model.Name(), Attr: name, Reason: "inverse attributes are read-only"}
	}
	return a, nil
}

// Assign stages value for attribute name, clearing any pending retraction.
// A nil value retracts. Values of the wrong shape are rejected here rather
// than at commit.
func (c *Changer) Assign(name string, value any) error {
	a, err := c.writable(name)
	if err != nil {
		return err
	}
	if value == nil {
		return c.Retract(name)
	}
	if _, err := a.Type.Dump(value); err != nil {
		return &InvalidValueError{
			Model:  c.model.Name(),
			Attr:   name,
			Value:  value,
			Reason: fmt.Sprintf("not a valid %s", a.Type),
			Cause:  err,
		}
	}
	c.changes[name] = value
	delete(c.retractions, name)
	return nil
}

// Retract stages removal of every value of attribute name, clearing any
// pending assignment.
func (c *Changer) Retract(name string) error {
	if _, err := c.writable(name); err != nil {
		return err
	}
	c.retractions[name] = true
	delete(c.changes, name)
	return nil
}

// Get returns the effective value of name: the pending assignment, else
// the original value, else the default. Unknown attributes read as nil.
// Implements validate.Reader.
func (c *Changer) Get(name string) any {
	a, ok := c.model.Attribute(name)
	if !ok {
		return nil
	}
	if a.Inverse {
		if c.source != nil {
			if v, err := c.source.Get(name); err == nil {
				return v
			}
		}
		return a.Default
	}
	if v, ok := c.changes[name]; ok {
		return v
	}
	if !c.retractions[name] {
		if v := c.original[name]; !isEmpty(v) {
			return v
		}
	}
	return emptyValue(a)
}

// Original returns the value name had when the changer was created.
func (c *Changer) Original(name string) any {
	return c.original[name]
}

// ChangesIn returns the original and the effective value of name.
func (c *Changer) ChangesIn(name string) (original, current any) {
	return c.Original(name), c.Get(name)
}

// Changed returns the attributes with a pending assignment or retraction,
// in declaration order.
func (c *Changer) Changed() []string {
	var out []string
	for _, a := range c.model.attrs {
		if _, ok := c.changes[a.Name]; ok || c.retractions[a.Name] {
			out = append(out, a.Name)
		}
	}
	return out
}

// UpdatedAttributes returns the effective value of every attribute that
// has one.
func (c *Changer) UpdatedAttributes() map[string]any {
	out := map[string]any{}
	for _, a := range c.model.attrs {
		if a.Inverse {
			continue
		}
		if v := c.Get(a.Name); !isEmpty(v) {
			out[a.Name] = v
		}
	}
	return out
}

// Change stages edits to a related entity that commit in the same
// transaction as c.
func (c *Changer) Change(related *Instance, fn func(*Changer) error) (*Changer, error) {
	sub, err := related.Change(fn)
	if err != nil {
		return nil, err
	}
	if err := c.Associate(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Associate commits sub in the same transaction as c, after c's own edits.
func (c *Changer) Associate(sub *Changer) error {
	if c.state == Saving || c.state == Saved {
		return ErrAlreadyCommitted
	}
	c.associated = append(c.associated, sub)
	return nil
}

// Edits compiles the pending changes of c and every changer it reaches
// into one ordered edit list.
func (c *Changer) Edits() ([]ir.Edit, error) {
	p, err := c.plan()
	if err != nil {
		return nil, err
	}
	return p.edits, nil
}

// Commit validates every changer in the graph, transacts their edits and
// returns the committed entity on the post-transaction snapshot.
//
// Validation failures return *validate.ValidationError before anything
// is sent to the store. On any failure the changers keep their staged
// changes and may be committed again.
func (c *Changer) Commit(ctx context.Context) (*Instance, error) {
	if c.state == Saving || c.state == Saved {
		return nil, ErrAlreadyCommitted
	}
	p, err := c.plan()
	if err != nil {
		return nil, err
	}
	for _, ch := range p.validationOrder(c) {
		if err := ch.model.Validator().Check(ch); err != nil {
			c.repo.logger.Info("validation failed", "model", ch.model.Name(), "error", err)
			return nil, err
		}
	}

	prev := make([]State, len(p.order))
	for i, ch := range p.order {
		prev[i] = ch.state
		ch.state = Saving
	}
	res, err := c.repo.transact(ctx, c, p.edits)
	if err != nil {
		for i, ch := range p.order {
			ch.state = prev[i]
		}
		return nil, err
	}

	for _, ch := range p.order {
		id, err := res.Resolve(ch.ref)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", ch, err)
		}
		ch.ref = id
		ch.state = Saved
		ch.txResult = res
		ch.result = c.repo.instance(res.After(), ch.model, id)
	}
	return c.result, nil
}

func (c *Changer) String() string {
	return fmt.Sprintf("#<Changer %s %s %s>", c.model.Name(), ir.Format(c.ref), c.state)
}

// plan is the flattened form of a changer graph.
type plan struct {
	order []*Changer // each changer once, in the order its edits appear
	edits []ir.Edit
}

// validationOrder returns root followed by every other changer in the
// plan.
func (p *plan) validationOrder(root *Changer) []*Changer {
	out := []*Changer{root}
	for _, ch := range p.order {
		if ch != root {
			out = append(out, ch)
		}
	}
	return out
}

type planner struct {
	plan
	done    map[*Changer]bool
	onStack map[*Changer]bool
	stack   []*Changer
}

func (c *Changer) plan() (*plan, error) {
	p := &planner{done: map[*Changer]bool{}, onStack: map[*Changer]bool{}}
	if err := p.visit(c); err != nil {
		return nil, err
	}
	return &p.plan, nil
}

// visit emits c's edits after those of every pending changer c refers to,
// so each referenced entity is created before the edit that points at it.
// The type fact comes first, then attributes in declaration order, then
// associated changers.
func (p *planner) visit(c *Changer) error {
	if p.done[c] || c.state == Saved {
		return nil
	}
	if p.onStack[c] {
		return p.cycle(c)
	}
	p.onStack[c] = true
	p.stack = append(p.stack, c)

	if c.state == Unsaved {
		p.edits = append(p.edits, ir.Add(c.ref, c.model.TypeKey(), c.model.TypeTag()))
	}
	for _, a := range c.model.attrs {
		if a.Inverse {
			continue
		}
		if c.retractions[a.Name] {
			edits, err := retractEdits(a, c.ref, c.original[a.Name])
			if err != nil {
				return fmt.Errorf("%s: retract %s: %w", c, a.Name, err)
			}
			p.edits = append(p.edits, edits...)
			continue
		}
		v, ok := c.changes[a.Name]
		if !ok {
			continue
		}
		for _, nested := range pendingChangers(v) {
			if err := p.visit(nested); err != nil {
				return err
			}
		}
		edits, err := a.Type.Edits(c.ref, a.Ident, c.original[a.Name], v)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", c, a.Name, err)
		}
		p.edits = append(p.edits, edits...)
	}

	p.stack = p.stack[:len(p.stack)-1]
	delete(p.onStack, c)
	p.done[c] = true
	p.order = append(p.order, c)

	for _, sub := range c.associated {
		if err := p.visit(sub); err != nil {
			return err
		}
	}
	return nil
}

func (p *planner) cycle(c *Changer) error {
	var path []string
	for i, s := range p.stack {
		if s == c {
			for _, t := range p.stack[i:] {
				path = append(path, t.String())
			}
			break
		}
	}
	return &CycleError{Path: append(path, c.String())}
}

// pendingChangers returns the changers held by v, directly or as set
// members.
func pendingChangers(v any) []*Changer {
	switch val := v.(type) {
	case *Changer:
		return []*Changer{val}
	case translate.Set:
		var out []*Changer
		for _, m := range val.Members() {
			if ch, ok := m.(*Changer); ok {
				out = append(out, ch)
			}
		}
		return out
	default:
		return nil
	}
}

// retractEdits retracts every value of original.
func retractEdits(a Attribute, e ir.EntityRef, original any) ([]ir.Edit, error) {
	if isEmpty(original) {
		return nil, nil
	}
	w, err := a.Type.Dump(original)
	if err != nil {
		return nil, err
	}
	if set, ok := w.(ir.Set); ok {
		edits := make([]ir.Edit, 0, len(set))
		for _, m := range set {
			edits = append(edits, ir.Retract(e, a.Ident, m))
		}
		return edits, nil
	}
	return []ir.Edit{ir.Retract(e, a.Ident, w)}, nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case translate.Set:
		return val.Len() == 0
	default:
		return false
	}
}

// emptyValue is what an attribute with no value reads as: its default,
// else the empty set for set attributes, else nil.
func emptyValue(a Attribute) any {
	if a.Default != nil {
		return a.Default
	}
	if _, ok := a.Type.(SetOf); ok {
		return translate.MustSet()
	}
	return nil
}
