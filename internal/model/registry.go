package model

import (
	"fmt"
	"sort"

	"github.com/roach88/dalton/internal/entity"
	"github.com/roach88/dalton/internal/ir"
)

// Registry maps type tags to models. It is built once and never changes.
type Registry struct {
	models   []*Model
	byName   map[string]*Model
	byTag    map[ir.Keyword]*Model
	typeKeys []ir.Keyword
}

// NewRegistry builds a registry and checks that every reference and
// inverse attribute names a registered model.
func NewRegistry(models ...*Model) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*Model, len(models)),
		byTag:  make(map[ir.Keyword]*Model, len(models)),
	}
	keys := map[ir.Keyword]bool{}
	for _, m := range models {
		if _, dup := r.byName[m.Name()]; dup {
			return nil, fmt.Errorf("duplicate model %s", m.Name())
		}
		if other, dup := r.byTag[m.TypeTag()]; dup {
			return nil, fmt.Errorf("models %s and %s share type tag %s", other.Name(), m.Name(), m.TypeTag())
		}
		r.models = append(r.models, m)
		r.byName[m.Name()] = m
		r.byTag[m.TypeTag()] = m
		if !keys[m.TypeKey()] {
			keys[m.TypeKey()] = true
			r.typeKeys = append(r.typeKeys, m.TypeKey())
		}
	}
	sort.Slice(r.typeKeys, func(i, j int) bool { return r.typeKeys[i] < r.typeKeys[j] })

	for _, m := range r.models {
		for _, a := range m.attrs {
			if err := r.checkAttribute(m, a); err != nil {
				return nil, fmt.Errorf("model %s: attribute %s: %w", m.Name(), a.Name, err)
			}
		}
	}
	return r, nil
}

// RegistryFromSpecs builds every model in specs and registers them.
func RegistryFromSpecs(specs []ir.ModelSpec) (*Registry, error) {
	models := make([]*Model, 0, len(specs))
	for _, spec := range specs {
		m, err := FromSpec(spec)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return NewRegistry(models...)
}

func (r *Registry) checkAttribute(m *Model, a Attribute) error {
	target, isRef := refTarget(a.Type)
	if !isRef || target == "" {
		return nil
	}
	referring, ok := r.byName[target]
	if !ok {
		return fmt.Errorf("unknown model %s", target)
	}
	if !a.Inverse {
		return nil
	}

	for _, fwd := range referring.attrs {
		if fwd.Inverse || fwd.Ident != a.Forward() {
			continue
		}
		if t, ok := refTarget(fwd.Type); !ok || (t != "" && t != m.Name()) {
			return fmt.Errorf("%s.%s does not reference %s", referring.Name(), fwd.Name, m.Name())
		}
		return nil
	}
	return fmt.Errorf("%s has no reference attribute %s", referring.Name(), a.Forward())
}

// Lookup returns the model named name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// ByTag returns the model whose type tag is tag.
func (r *Registry) ByTag(tag ir.Keyword) (*Model, bool) {
	m, ok := r.byTag[tag]
	return m, ok
}

// Models returns the registered models in registration order.
func (r *Registry) Models() []*Model {
	return append([]*Model(nil), r.models...)
}

// Interpret returns the model an entity declares itself to be. The bool is
// false when the entity carries no known type tag.
func (r *Registry) Interpret(h *entity.Handle) (*Model, bool, error) {
	for _, key := range r.typeKeys {
		raw, err := h.Raw(key)
		if err != nil {
			return nil, false, err
		}
		if tag, ok := raw.(ir.Keyword); ok {
			if m, ok := r.byTag[tag]; ok {
				return m, true, nil
			}
		}
	}
	return nil, false, nil
}
