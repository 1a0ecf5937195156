package model

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/translate"
	"github.com/roach88/dalton/internal/validate"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// Attribute is one declared attribute of a model. Attributes are values;
// a model hands out copies.
type Attribute struct {
	// Name is the host name, e.g. "published_at".
	Name string

	// Ident is the wire name, e.g. :blog.post/published-at.
	Ident ir.Keyword

	Type    Type
	Default any
	Doc     string

	// Unique is fact.UniqueIdentity, fact.UniqueValue or empty.
	Unique ir.Keyword

	// Inverse attributes read a forward reference backwards. They are
	// read-only and always hold a set.
	Inverse bool
}

// Forward returns the reference attribute an inverse attribute reads.
func (a Attribute) Forward() ir.Keyword {
	return ir.Keyword(a.Ident.Namespace() + "/" + strings.TrimPrefix(a.Ident.Name(), "_"))
}

// Decl declares a model.
type Decl struct {
	Name      string
	Namespace string

	// Partition is the bare partition name; the model's entities are
	// allocated in db.part/<Partition>. Defaults to Namespace.
	Partition string

	Attrs []AttrDecl

	// Validator runs before every commit. Optional.
	Validator *validate.Validator
}

// AttrDecl declares one attribute.
type AttrDecl struct {
	Name    string
	Ident   string // optional override of the default wire name
	Type    Type
	Default any
	Doc     string
	Unique  ir.Keyword
	Inverse *InverseDecl
}

// InverseDecl names the forward reference an inverse attribute reads:
// attribute From of model Model.
type InverseDecl struct {
	Model string
	From  string
}

// Model describes one kind of entity: its type tag, partition and
// attributes in declaration order. A Model is immutable once built.
type Model struct {
	name      string
	namespace string
	partition ir.Keyword
	attrs     []Attribute
	byName    map[string]int
	validator *validate.Validator
}

// New builds a model from a declaration.
func New(d Decl) (*Model, error) {
	if !namePattern.MatchString(d.Name) {
		return nil, fmt.Errorf("model name %q must be kebab-case", d.Name)
	}
	if !namePattern.MatchString(d.Namespace) {
		return nil, fmt.Errorf("model %s: namespace %q must be kebab-case", d.Name, d.Namespace)
	}
	part := d.Partition
	if part == "" {
		part = d.Namespace
	}
	m := &Model{
		name:      d.Name,
		namespace: d.Namespace,
		partition: ir.Keyword("db.part/" + part),
		byName:    make(map[string]int, len(d.Attrs)),
		validator: d.Validator,
	}
	if m.validator == nil {
		m.validator = validate.New()
	}

	for _, ad := range d.Attrs {
		a, err := m.attribute(ad)
		if err != nil {
			return nil, fmt.Errorf("model %s: attribute %s: %w", d.Name, ad.Name, err)
		}
		if _, dup := m.byName[a.Name]; dup {
			return nil, fmt.Errorf("model %s: duplicate attribute %s", d.Name, a.Name)
		}
		m.byName[a.Name] = len(m.attrs)
		m.attrs = append(m.attrs, a)
	}
	return m, nil
}

// MustNew is New for declarations known to be valid. It panics otherwise.
func MustNew(d Decl) *Model {
	m, err := New(d)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Model) attribute(ad AttrDecl) (Attribute, error) {
	if ad.Name == "" || ad.Name == "id" {
		return Attribute{}, fmt.Errorf("invalid attribute name %q", ad.Name)
	}
	a := Attribute{
		Name:    ad.Name,
		Type:    ad.Type,
		Default: ad.Default,
		Doc:     ad.Doc,
		Unique:  ad.Unique,
	}

	if ad.Inverse != nil {
		if ad.Type != nil {
			return Attribute{}, fmt.Errorf("inverse attributes cannot declare a type")
		}
		if ad.Default != nil {
			return Attribute{}, fmt.Errorf("inverse attributes cannot declare a default")
		}
		a.Inverse = true
		a.Type = SetOfType(RefTo(ad.Inverse.Model))
		a.Ident = ir.Keyword(fmt.Sprintf("%s.%s/_%s", m.namespace, ad.Inverse.Model, wireName(ad.Inverse.From)))
		a.Default = translate.MustSet()
		return a, nil
	}

	if ad.Type == nil {
		return Attribute{}, fmt.Errorf("type is required")
	}
	switch ad.Unique {
	case "", fact.UniqueIdentity, fact.UniqueValue:
	default:
		return Attribute{}, fmt.Errorf("unknown uniqueness %s", ad.Unique)
	}

	if ad.Ident != "" {
		a.Ident = ir.KW(ad.Ident)
		if a.Ident.Namespace() == "" {
			return Attribute{}, fmt.Errorf("ident %s has no namespace", a.Ident)
		}
	} else {
		a.Ident = ir.Keyword(fmt.Sprintf("%s.%s/%s", m.namespace, m.name, wireName(ad.Name)))
	}
	if strings.HasPrefix(a.Ident.Name(), "_") {
		return Attribute{}, fmt.Errorf("ident %s is reserved for inverse attributes", a.Ident)
	}

	if a.Default != nil {
		if _, err := a.Type.Dump(a.Default); err != nil {
			return Attribute{}, fmt.Errorf("default: %w", err)
		}
	}
	return a, nil
}

func wireName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

// FromSpec builds a model from a compiled declaration. Required and
// pattern constraints become validator rules, in attribute order.
func FromSpec(spec ir.ModelSpec) (*Model, error) {
	d := Decl{
		Name:      spec.Name,
		Namespace: spec.Namespace,
		Partition: spec.Partition,
		Validator: validate.New(),
	}
	for _, as := range spec.Attributes {
		ad := AttrDecl{
			Name:   as.Name,
			Ident:  as.Ident,
			Doc:    as.Doc,
			Unique: uniqueKeyword(as.Unique),
		}
		if as.Inverse != nil {
			ad.Inverse = &InverseDecl{Model: as.Inverse.Model, From: as.Inverse.From}
		} else {
			t, err := ParseType(as.Type, as.Of, as.Model)
			if err != nil {
				return nil, fmt.Errorf("model %s: attribute %s: %w", spec.Name, as.Name, err)
			}
			ad.Type = t
			def, err := hostDefault(t, as.Default)
			if err != nil {
				return nil, fmt.Errorf("model %s: attribute %s: default: %w", spec.Name, as.Name, err)
			}
			ad.Default = def
		}
		d.Attrs = append(d.Attrs, ad)

		if as.Required {
			d.Validator.Add(validate.Required(as.Name))
		}
		if as.Pattern != "" {
			re, err := regexp.Compile(as.Pattern)
			if err != nil {
				return nil, fmt.Errorf("model %s: attribute %s: pattern: %w", spec.Name, as.Name, err)
			}
			d.Validator.Add(validate.Pattern(as.Name, re))
		}
	}
	return New(d)
}

func uniqueKeyword(s string) ir.Keyword {
	switch s {
	case "":
		return ""
	case "identity":
		return fact.UniqueIdentity
	case "value":
		return fact.UniqueValue
	default:
		return ir.KW(s)
	}
}

// hostDefault converts a default decoded from a declaration file into the
// host type the attribute expects. Numbers arrive as int64 or float64,
// keywords and instants as strings.
func hostDefault(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := t.(Scalar)
	if !ok {
		return nil, fmt.Errorf("only scalar attributes can declare a default")
	}
	switch s.Kind {
	case KindLong:
		if f, ok := v.(float64); ok {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("%v is not an integer", f)
			}
			return int64(f), nil
		}
	case KindDouble:
		switch n := v.(type) {
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
	case KindKeyword:
		if str, ok := v.(string); ok {
			return translate.Symbol(strings.TrimPrefix(str, ":")), nil
		}
	case KindInstant:
		if str, ok := v.(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, str)
			if err != nil {
				return nil, err
			}
			return ts.UTC().Truncate(time.Millisecond), nil
		}
	}
	return v, nil
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Namespace returns the model namespace.
func (m *Model) Namespace() string { return m.namespace }

// Partition returns the partition new entities are allocated in.
func (m *Model) Partition() ir.Keyword { return m.partition }

// TypeKey returns the discriminator attribute, :<ns>/type.
func (m *Model) TypeKey() ir.Keyword {
	return TypeKey(m.namespace)
}

// TypeTag returns the discriminator value, :<ns>.type/<name>.
func (m *Model) TypeTag() ir.Keyword {
	return ir.Keyword(m.namespace + ".type/" + m.name)
}

// TypeKey returns the discriminator attribute of namespace ns.
func TypeKey(ns string) ir.Keyword {
	return ir.Keyword(ns + "/type")
}

// Attributes returns the attributes in declaration order.
func (m *Model) Attributes() []Attribute {
	return append([]Attribute(nil), m.attrs...)
}

// Attribute returns the attribute with host name name.
func (m *Model) Attribute(name string) (Attribute, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Attribute{}, false
	}
	return m.attrs[i], true
}

// Validator returns the model's validator.
func (m *Model) Validator() *validate.Validator { return m.validator }

func (m *Model) String() string {
	return fmt.Sprintf("#<Model %s %s>", m.name, m.TypeTag())
}
