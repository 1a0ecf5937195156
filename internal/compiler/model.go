package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/dalton/internal/ir"
)

// attributeFields are the keys an attribute declaration may carry.
var attributeFields = map[string]bool{
	"type":     true,
	"of":       true,
	"model":    true,
	"ident":    true,
	"doc":      true,
	"unique":   true,
	"default":  true,
	"required": true,
	"pattern":  true,
	"inverse":  true,
}

// CompileModels compiles every model under the top-level "models" struct,
// in declaration order.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`models: post: { namespace: "blog", attributes: title: type: "string" }`)
//	specs, err := CompileModels(v)
func CompileModels(v cue.Value) ([]ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	modelsVal := v.LookupPath(cue.ParsePath("models"))
	if !modelsVal.Exists() {
		return nil, &CompileError{Field: "models", Message: "no models declared", Pos: v.Pos()}
	}
	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []ir.ModelSpec
	for iter.Next() {
		spec, err := CompileModel(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}

// CompileModel parses one model declaration. name is the struct label the
// declaration was found under.
func CompileModel(name string, v cue.Value) (*ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	spec := &ir.ModelSpec{Name: name}

	ns, err := requiredString(v, "namespace")
	if err != nil {
		return nil, err
	}
	spec.Namespace = ns

	spec.Partition, err = optionalString(v, "partition")
	if err != nil {
		return nil, err
	}

	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrsVal.Exists() {
		return spec, nil
	}
	iter, err := attrsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		attr, err := parseAttribute(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Attributes = append(spec.Attributes, attr)
	}
	return spec, nil
}

func parseAttribute(name string, v cue.Value) (ir.AttributeSpec, error) {
	attr := ir.AttributeSpec{Name: name}
	field := "attributes." + name

	fields, err := v.Fields()
	if err != nil {
		return attr, formatCUEError(err)
	}
	for fields.Next() {
		if !attributeFields[fields.Label()] {
			return attr, &CompileError{
				Field:   field + "." + fields.Label(),
				Message: "unknown attribute field",
				Pos:     fields.Value().Pos(),
			}
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"type", &attr.Type},
		{"of", &attr.Of},
		{"model", &attr.Model},
		{"ident", &attr.Ident},
		{"doc", &attr.Doc},
		{"unique", &attr.Unique},
		{"pattern", &attr.Pattern},
	}
	for _, s := range strs {
		if *s.dst, err = optionalString(v, s.key); err != nil {
			return attr, err
		}
	}

	if req := v.LookupPath(cue.ParsePath("required")); req.Exists() {
		if attr.Required, err = req.Bool(); err != nil {
			return attr, formatCUEError(err)
		}
	}

	if def := v.LookupPath(cue.ParsePath("default")); def.Exists() {
		if attr.Default, err = scalarDefault(def); err != nil {
			return attr, err
		}
	}

	if inv := v.LookupPath(cue.ParsePath("inverse")); inv.Exists() {
		model, err := requiredString(inv, "model")
		if err != nil {
			return attr, err
		}
		from, err := requiredString(inv, "from")
		if err != nil {
			return attr, err
		}
		attr.Inverse = &ir.InverseSpec{Model: model, From: from}
		if attr.Type != "" {
			return attr, &CompileError{Field: field + ".type", Message: "inverse attributes cannot declare a type", Pos: v.Pos()}
		}
		return attr, nil
	}

	if attr.Type == "" {
		return attr, &CompileError{Field: field + ".type", Message: "type is required", Pos: v.Pos()}
	}
	return attr, nil
}

// scalarDefault decodes a default into int64, float64, string or bool.
// Keyword and instant defaults are written as strings.
func scalarDefault(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return n, nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return f, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return s, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return b, nil
	default:
		return nil, &CompileError{
			Field:   "default",
			Message: fmt.Sprintf("default must be a concrete scalar, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, key string) (string, error) {
	f := v.LookupPath(cue.ParsePath(key))
	if !f.Exists() {
		return "", &CompileError{Field: key, Message: key + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, key string) (string, error) {
	f := v.LookupPath(cue.ParsePath(key))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileFiles reads and unifies the given CUE files, then compiles their
// models. Models keep the order of the files and of their declarations.
func CompileFiles(paths ...string) ([]ir.ModelSpec, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no model files given")
	}
	ctx := cuecontext.New()
	var merged cue.Value
	for i, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		v := ctx.CompileBytes(src, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		if i == 0 {
			merged = v
		} else {
			merged = merged.Unify(v)
		}
	}
	return CompileModels(merged)
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// First error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
