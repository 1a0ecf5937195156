package model

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/roach88/dalton/internal/entity"
	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/queryir"
)

// entityVar is the variable every finder query binds to its results.
const entityVar queryir.Var = "?e"

// Constraint narrows a finder. Constraint is a sealed interface: only
// Attrs and the result of Raw implement it.
type Constraint interface {
	constraint()
}

// Attrs requires each named attribute to hold the given value. Values go
// through the attribute's codec, so a reference may be given as an
// instance; a set value requires every member.
type Attrs map[string]any

func (Attrs) constraint() {}

type rawConstraint struct {
	clause queryir.Clause
}

func (rawConstraint) constraint() {}

// Raw wraps a clause written directly against wire attributes. The
// finder's entity is ?e.
func Raw(c queryir.Clause) Constraint {
	return rawConstraint{clause: c}
}

// Finder is an immutable query over one model and one snapshot. Where
// returns a new Finder; the receiver never changes.
type Finder struct {
	repo    *Repo
	model   *Model
	snap    fact.Snapshot
	clauses []queryir.Clause
}

// Model returns the model the finder is scoped to.
func (f Finder) Model() *Model { return f.model }

// Snapshot returns the snapshot the finder reads.
func (f Finder) Snapshot() fact.Snapshot { return f.snap }

// Where returns a finder with cs appended to the constraints.
func (f Finder) Where(cs ...Constraint) (Finder, error) {
	clauses := slices.Clone(f.clauses)
	for _, c := range cs {
		switch c := c.(type) {
		case rawConstraint:
			clauses = append(clauses, c.clause)
		case Attrs:
			expanded, err := f.expand(c)
			if err != nil {
				return Finder{}, err
			}
			clauses = append(clauses, expanded...)
		default:
			return Finder{}, fmt.Errorf("unsupported constraint %T", c)
		}
	}
	next := f
	next.clauses = clauses
	return next, nil
}

// By returns a finder constrained on one attribute.
func (f Finder) By(name string, value any) (Finder, error) {
	return f.Where(Attrs{name: value})
}

// expand turns an attribute map into clauses, in declaration order so the
// query text does not depend on map iteration.
func (f Finder) expand(attrs Attrs) ([]queryir.Clause, error) {
	for name := range attrs {
		if _, ok := f.model.Attribute(name); !ok {
			return nil, &InvalidValueError{Model: f.model.Name(), Attr: name, Reason: "unknown attribute"}
		}
	}
	var out []queryir.Clause
	for _, a := range f.model.attrs {
		v, ok := attrs[a.Name]
		if !ok {
			continue
		}
		if v == nil {
			return nil, &InvalidValueError{Model: f.model.Name(), Attr: a.Name, Reason: "cannot constrain on nil"}
		}
		w, err := a.Type.Dump(v)
		if err != nil {
			return nil, &InvalidValueError{Model: f.model.Name(), Attr: a.Name, Value: v, Reason: "invalid constraint", Cause: err}
		}
		members := []ir.Value{w}
		if set, ok := w.(ir.Set); ok {
			members = set
		}
		for _, m := range members {
			if _, pending := m.(ir.TempID); pending {
				return nil, &InvalidValueError{Model: f.model.Name(), Attr: a.Name, Value: v, Reason: "entity is not saved"}
			}
			if a.Inverse {
				// The constraint value refers to us through the forward attribute.
				id, ok := m.(ir.EntityID)
				if !ok {
					return nil, &InvalidValueError{Model: f.model.Name(), Attr: a.Name, Value: v, Reason: "inverse constraint must be an entity"}
				}
				out = append(out, queryir.Clause{E: queryir.C(id), A: queryir.C(a.Forward()), V: entityVar})
				continue
			}
			out = append(out, queryir.Clause{E: entityVar, A: queryir.C(a.Ident), V: queryir.C(m)})
		}
	}
	return out, nil
}

// Constraints returns the clauses of the query, starting with the type
// discriminator.
func (f Finder) Constraints() []queryir.Clause {
	typeClause := queryir.Clause{
		E: entityVar,
		A: queryir.C(f.model.TypeKey()),
		V: queryir.C(f.model.TypeTag()),
	}
	return append([]queryir.Clause{typeClause}, f.clauses...)
}

// Query returns the query the finder runs.
func (f Finder) Query() queryir.Query {
	return queryir.Query{Find: []queryir.Var{entityVar}, Where: f.Constraints()}
}

// Entity returns id as an instance of the model. It fails with
// *NotFoundError when id does not carry the model's type tag.
func (f Finder) Entity(id ir.EntityID) (*Instance, error) {
	h := entity.New(f.snap, id)
	raw, err := h.Raw(f.model.TypeKey())
	if err != nil {
		return nil, err
	}
	if !ir.Equal(raw, f.model.TypeTag()) {
		return nil, &NotFoundError{Model: f.model.Name(), ID: id}
	}
	return &Instance{repo: f.repo, model: f.model, handle: h}, nil
}

// All runs the query each time the sequence is iterated and yields the
// matching instances in id order. Iterations never share cursor state, and
// every one sees the same snapshot.
//
// Each iteration fetches the full id list up front; only the instances are
// built as they are yielded, and their attributes load on first access.
// Memory grows with the result count, not with the entities' attributes.
func (f Finder) All(ctx context.Context) iter.Seq2[*Instance, error] {
	return func(yield func(*Instance, error) bool) {
		q := f.Query()
		f.repo.logger.Debug("finder query",
			"model", f.model.Name(),
			"basis", f.snap.BasisT(),
			"clauses", len(q.Where))
		rows, err := f.snap.Query(ctx, q)
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", f, err))
			return
		}
		for _, row := range rows {
			id, ok := row[0].(ir.EntityID)
			if !ok {
				yield(nil, fmt.Errorf("%s: result %s is not an entity", f, ir.Format(row[0])))
				return
			}
			if !yield(f.repo.instance(f.snap, f.model, id), nil) {
				return
			}
		}
	}
}

// Results collects All.
func (f Finder) Results(ctx context.Context) ([]*Instance, error) {
	out := []*Instance{}
	for inst, err := range f.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// First returns the first match, or nil when there is none.
func (f Finder) First(ctx context.Context) (*Instance, error) {
	next, stop := iter.Pull2(f.All(ctx))
	defer stop()
	inst, err, ok := next()
	if !ok {
		return nil, nil
	}
	return inst, err
}

// String renders the finder as #<Finder post #<Snapshot 4> :where [...]>.
func (f Finder) String() string {
	return fmt.Sprintf("#<Finder %s #<Snapshot %d> :where [%s]>",
		f.model.Name(), f.snap.BasisT(), queryir.FormatClauses(f.Constraints()))
}
