package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/dalton/internal/compiler"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/model"
	"github.com/roach88/dalton/internal/store"
	"github.com/roach88/dalton/internal/testutil"
)

// Harness executes one scenario against its own store.
type Harness struct {
	store    *store.Store
	repo     *model.Repo
	registry *model.Registry
	logger   *slog.Logger

	aliases map[string]ir.EntityID
	names   map[ir.EntityID]string
	// temp ids of the create in flight, by alias
	pending map[ir.TempID]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh store in a temporary directory, with a
// deterministic clock and sequential temp ids, so identical scenarios
// produce identical traces.
//
// Execution flow:
//  1. Compile the scenario's models and install their schema
//  2. Execute steps in order, checking each step's expectations
//  3. Return the result with pass/fail, trace and errors
//
// An error is returned only when the scenario cannot run at all; failed
// expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "dalton-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	defer os.RemoveAll(dir)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(dir, "scenario.db"),
		store.WithLogger(logger),
		store.WithRegisterer(prometheus.NewRegistry()),
		store.WithClock(testutil.NewDeterministicClock()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	registry, err := LoadModels(scenario.Models...)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:    st,
		registry: registry,
		logger:   logger,
		repo: model.NewRepo(st, registry,
			model.WithLogger(logger),
			model.WithTempIDs(testutil.NewSequentialTempIDs().Next),
		),
		aliases: make(map[string]ir.EntityID),
		names:   make(map[ir.EntityID]string),
		pending: make(map[ir.TempID]string),
	}
	if _, err := h.repo.Install(ctx); err != nil {
		return nil, fmt.Errorf("failed to install schema: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return result, nil
}

// LoadModels compiles and validates CUE model files into a registry.
func LoadModels(paths ...string) (*model.Registry, error) {
	specs, err := compiler.CompileFiles(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile models: %w", err)
	}
	if errs := compiler.Validate(specs); len(errs) > 0 {
		return nil, fmt.Errorf("invalid models: %w", errs[0])
	}
	return model.RegistryFromSpecs(specs)
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	ev := TraceEvent{Step: n, Op: step.Op(), Target: step.Target(), As: step.As}

	var msgs []string
	switch step.Op() {
	case OpCreate:
		m, ok := h.registry.Lookup(step.Create)
		if !ok {
			return fmt.Errorf("unknown model %q", step.Create)
		}
		alias := step.As
		if alias == "" {
			alias = fmt.Sprintf("%s-%d", m.Name(), n)
		}
		c, err := h.repo.Create(m, h.assign(m, step.Attrs))
		if err == nil {
			h.pending[c.Ref().(ir.TempID)] = alias
		}
		ev.Edits, msgs, err = h.commit(ctx, n, c, err, step.Expect)
		if err == nil {
			h.aliases[alias] = c.Instance().ID()
			h.names[c.Instance().ID()] = alias
		}
		clear(h.pending)
		ev.Error = ErrorKind(err)

	case OpChange:
		var c *model.Changer
		inst, err := h.latest(step.Change)
		if err == nil {
			c, err = inst.Change(h.assign(inst.Model(), step.Attrs))
		}
		ev.Edits, msgs, err = h.commit(ctx, n, c, err, step.Expect)
		ev.Error = ErrorKind(err)

	case OpRetract:
		inst, err := h.latest(step.Retract)
		if err == nil {
			ev.Edits = []string{h.render(ir.RetractEntity(inst.EntityID()))}
			_, err = inst.Retract(ctx)
		}
		msgs = checkError(n, step.Expect, err)
		ev.Error = ErrorKind(err)

	case OpFind:
		found, err := h.find(ctx, step)
		msgs = checkError(n, step.Expect, err)
		if err == nil {
			ev.Found = found
			msgs = append(msgs, checkFound(n, step.Expect, found)...)
		}
		ev.Error = ErrorKind(err)
	}

	result.AddTrace(ev)
	for _, msg := range msgs {
		result.AddError(msg)
	}
	h.logger.Info("step completed", "step", n, "op", ev.Op, "target", ev.Target, "error", ev.Error)
	return nil
}

// commit compiles and commits c. stageErr is the error from staging c,
// which counts as the step's outcome when set.
func (h *Harness) commit(ctx context.Context, n int, c *model.Changer, stageErr error, expect *Expect) ([]string, []string, error) {
	if stageErr != nil {
		return nil, checkError(n, expect, stageErr), stageErr
	}
	edits, err := c.Edits()
	if err != nil {
		return nil, checkError(n, expect, err), err
	}
	rendered := make([]string, len(edits))
	for i, e := range edits {
		rendered[i] = h.render(e)
	}

	inst, err := c.Commit(ctx)
	msgs := checkError(n, expect, err)
	if err == nil && expect != nil && expect.Attrs != nil {
		msgs = append(msgs, checkAttrs(n, inst, expect.Attrs, h.resolve)...)
	}
	return rendered, msgs, err
}

// assign returns a changer callback making the step's assignments in
// sorted attribute order.
func (h *Harness) assign(m *model.Model, attrs map[string]any) func(*model.Changer) error {
	return func(c *model.Changer) error {
		for _, name := range slices.Sorted(maps.Keys(attrs)) {
			raw := attrs[name]
			if raw == nil {
				if err := c.Retract(name); err != nil {
					return err
				}
				continue
			}
			attr, ok := m.Attribute(name)
			if !ok {
				// Let Assign report the unknown attribute.
				if err := c.Assign(name, raw); err != nil {
					return err
				}
				continue
			}
			v, err := model.Coerce(attr.Type, raw, h.resolve)
			if err != nil {
				return &model.InvalidValueError{Model: m.Name(), Attr: name, Value: raw, Reason: "unreadable input", Cause: err}
			}
			if err := c.Assign(name, v); err != nil {
				return err
			}
		}
		return nil
	}
}

// resolve maps "@alias" to the aliased entity id.
func (h *Harness) resolve(s string) (any, error) {
	if len(s) > 1 && s[0] == '@' {
		if id, ok := h.aliases[s[1:]]; ok {
			return id, nil
		}
		return nil, fmt.Errorf("unknown alias %s", s)
	}
	return nil, fmt.Errorf("reference %q must be an alias", s)
}

func (h *Harness) latest(alias string) (*model.Instance, error) {
	id, ok := h.aliases[alias]
	if !ok {
		return nil, fmt.Errorf("unknown alias %q", alias)
	}
	snap, err := h.store.Snapshot()
	if err != nil {
		return nil, err
	}
	return h.repo.Instance(snap, id)
}

func (h *Harness) find(ctx context.Context, step Step) ([]string, error) {
	m, ok := h.registry.Lookup(step.Find)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", step.Find)
	}
	where := make(model.Attrs, len(step.Where))
	for name, raw := range step.Where {
		v := raw
		if attr, ok := m.Attribute(name); ok {
			var err error
			if v, err = model.Coerce(attr.Type, raw, h.resolve); err != nil {
				return nil, &model.InvalidValueError{Model: m.Name(), Attr: name, Value: raw, Reason: "unreadable input", Cause: err}
			}
		}
		where[name] = v
	}

	f, err := h.repo.Latest(m)
	if err != nil {
		return nil, err
	}
	if f, err = f.Where(where); err != nil {
		return nil, err
	}
	insts, err := f.Results(ctx)
	if err != nil {
		return nil, err
	}
	found := make([]string, len(insts))
	for i, inst := range insts {
		found[i] = h.name(inst.EntityID())
	}
	return found, nil
}

// name renders an entity through its alias, falling back to the id.
func (h *Harness) name(v ir.Value) string {
	switch id := v.(type) {
	case ir.EntityID:
		if alias, ok := h.names[id]; ok {
			return "@" + alias
		}
	case ir.TempID:
		if alias, ok := h.pending[id]; ok {
			return "@" + alias
		}
	}
	return ir.Format(v)
}

func (h *Harness) render(e ir.Edit) string {
	if e.Op == ir.OpRetractEntity {
		return fmt.Sprintf("[:%s %s]", e.Op, h.name(e.E))
	}
	return fmt.Sprintf("[:%s %s %s %s]", e.Op, h.name(e.E), e.A, h.name(e.V))
}
