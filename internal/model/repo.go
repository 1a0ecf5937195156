package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/dalton/internal/entity"
	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
)

// Repo binds a registry of models to a store connection. It is the entry
// point for creating, finding and changing entities.
type Repo struct {
	conn     fact.Conn
	registry *Registry
	logger   *slog.Logger
	tempid   func(partition ir.Keyword) ir.TempID
}

// Option configures a Repo.
type Option func(*Repo)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repo) { r.logger = l }
}

// WithTempIDs sets the temp id allocator used for new entities. Defaults
// to fact.NewTempID.
func WithTempIDs(alloc func(partition ir.Keyword) ir.TempID) Option {
	return func(r *Repo) { r.tempid = alloc }
}

// NewRepo returns a repo over conn.
func NewRepo(conn fact.Conn, registry *Registry, opts ...Option) *Repo {
	r := &Repo{
		conn:     conn,
		registry: registry,
		logger:   slog.Default(),
		tempid:   fact.NewTempID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the repo's models.
func (r *Repo) Registry() *Registry { return r.registry }

// Conn returns the underlying connection.
func (r *Repo) Conn() fact.Conn { return r.conn }

// Create stages a new entity of model m. fn, if given, makes the initial
// assignments; its error is returned as is.
func (r *Repo) Create(m *Model, fn func(c *Changer) error) (*Changer, error) {
	c := newChanger(r, m, r.tempid(m.Partition()), Unsaved, nil)
	if fn != nil {
		if err := fn(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Insert is Create followed by Commit.
func (r *Repo) Insert(ctx context.Context, m *Model, fn func(c *Changer) error) (*Instance, error) {
	c, err := r.Create(m, fn)
	if err != nil {
		return nil, err
	}
	return c.Commit(ctx)
}

// Finder returns a finder for m over snap.
func (r *Repo) Finder(m *Model, snap fact.Snapshot) Finder {
	return Finder{repo: r, model: m, snap: snap}
}

// Latest returns a finder for m over the latest snapshot.
func (r *Repo) Latest(m *Model) (Finder, error) {
	snap, err := r.conn.Snapshot()
	if err != nil {
		return Finder{}, fmt.Errorf("snapshot: %w", err)
	}
	return r.Finder(m, snap), nil
}

// Find returns the entity id of model m as of the latest snapshot.
func (r *Repo) Find(m *Model, id ir.EntityID) (*Instance, error) {
	f, err := r.Latest(m)
	if err != nil {
		return nil, err
	}
	return f.Entity(id)
}

// Instance returns id as an instance of whichever registered model its
// type tag names.
func (r *Repo) Instance(snap fact.Snapshot, id ir.EntityID) (*Instance, error) {
	h := entity.New(snap, id)
	m, ok, err := r.registry.Interpret(h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotFoundError{Model: "entity", ID: id}
	}
	return &Instance{repo: r, model: m, handle: h}, nil
}

// load decodes a reference to id. With an empty target the model is taken
// from the entity's type tag, and an untagged entity stays a bare handle.
func (r *Repo) load(snap fact.Snapshot, target string, id ir.EntityID) (any, error) {
	h := entity.New(snap, id)
	if target == "" {
		m, ok, err := r.registry.Interpret(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			return h, nil
		}
		return &Instance{repo: r, model: m, handle: h}, nil
	}

	m, ok := r.registry.Lookup(target)
	if !ok {
		return nil, fmt.Errorf("unknown model %s", target)
	}
	if err := checkTag(m, h); err != nil {
		return nil, err
	}
	return &Instance{repo: r, model: m, handle: h}, nil
}

func checkTag(m *Model, h *entity.Handle) error {
	raw, err := h.Raw(m.TypeKey())
	if err != nil {
		return err
	}
	if !ir.Equal(raw, m.TypeTag()) {
		return &TypeMismatchError{Value: h.ID(), Expected: m.Name()}
	}
	return nil
}

// transact submits edits on behalf of c and maps store failures: unique
// conflicts and wrong types become *TransactionValidationError, anything
// else *fact.TransactionFailed.
func (r *Repo) transact(ctx context.Context, c *Changer, edits []ir.Edit) (*fact.TxResult, error) {
	r.logger.Debug("submitting transaction", "edits", len(edits))
	out, err := r.conn.Transact(ctx, edits)
	if err != nil {
		var se *fact.StoreError
		if errors.As(err, &se) {
			cause, ok, perr := fact.ParseStoreError(se)
			if perr != nil {
				r.logger.Warn("unparseable store error", "code", se.Code, "error", perr)
			}
			if ok {
				return nil, &TransactionValidationError{Changer: c, Cause: cause}
			}
			return nil, &fact.TransactionFailed{Cause: se}
		}
		var tf *fact.TransactionFailed
		if errors.As(err, &tf) {
			return nil, tf
		}
		return nil, &fact.TransactionFailed{Cause: err}
	}
	res := fact.NewTxResult(out)
	r.logger.Debug("transaction outcome",
		"tx", res.After().BasisT(),
		"datoms", len(out.Data),
		"tempids", len(out.TempIDs))
	return res, nil
}
