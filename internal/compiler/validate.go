package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/dalton/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidName       = "E101" // malformed model, namespace or attribute name
	ErrMissingNamespace  = "E102" // namespace is required
	ErrDuplicateName     = "E103" // duplicate model name or type tag
	ErrInvalidType       = "E104" // unknown attribute type
	ErrInvalidSetElement = "E105" // set without element type, or nested set/auto
	ErrUnknownModel      = "E106" // ref or inverse names a model that is not declared
	ErrInvalidInverse    = "E107" // inverse does not mirror a reference attribute
	ErrInvalidUnique     = "E108" // unique must be "identity" or "value"
	ErrInvalidPattern    = "E109" // pattern is not a valid regular expression
	ErrConflictingIdent  = "E110" // one ident declared with two different types
	ErrInvalidDefault    = "E111" // default on a non-scalar attribute
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var (
	modelNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)
	attrNamePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

var scalarTypes = map[string]bool{
	"string":  true,
	"long":    true,
	"double":  true,
	"boolean": true,
	"keyword": true,
	"instant": true,
}

// Validate checks a set of compiled models against each other.
// Returns all errors found (does not fail-fast).
func Validate(specs []ir.ModelSpec) []ValidationError {
	var errs []ValidationError
	byName := make(map[string]*ir.ModelSpec, len(specs))
	tags := make(map[string]string)

	for i := range specs {
		spec := &specs[i]
		if !modelNamePattern.MatchString(spec.Name) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("models[%d].name", i),
				Message: fmt.Sprintf("invalid model name %q", spec.Name),
				Code:    ErrInvalidName,
			})
		}
		if spec.Namespace == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("models.%s.namespace", spec.Name),
				Message: "namespace is required",
				Code:    ErrMissingNamespace,
			})
		} else if !modelNamePattern.MatchString(spec.Namespace) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("models.%s.namespace", spec.Name),
				Message: fmt.Sprintf("invalid namespace %q", spec.Namespace),
				Code:    ErrInvalidName,
			})
		}
		if _, dup := byName[spec.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("models.%s", spec.Name),
				Message: fmt.Sprintf("duplicate model name %q", spec.Name),
				Code:    ErrDuplicateName,
			})
		} else {
			byName[spec.Name] = spec
		}

		tag := spec.Namespace + ".type/" + spec.Name
		if other, dup := tags[tag]; dup && other != spec.Name {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("models.%s", spec.Name),
				Message: fmt.Sprintf("type tag %s already used by %s", tag, other),
				Code:    ErrDuplicateName,
			})
		}
		tags[tag] = spec.Name
	}

	// ident -> "type/of" of the first declaration, to catch conflicting reuse
	idents := make(map[string]string)
	for _, spec := range specs {
		for _, attr := range spec.Attributes {
			errs = append(errs, validateAttribute(spec, attr, byName, idents)...)
		}
	}
	return errs
}

func validateAttribute(spec ir.ModelSpec, attr ir.AttributeSpec, byName map[string]*ir.ModelSpec, idents map[string]string) []ValidationError {
	var errs []ValidationError
	field := fmt.Sprintf("models.%s.attributes.%s", spec.Name, attr.Name)

	if !attrNamePattern.MatchString(attr.Name) || attr.Name == "id" {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid attribute name %q", attr.Name),
			Code:    ErrInvalidName,
		})
	}

	if attr.Inverse != nil {
		return append(errs, validateInverse(field, spec, attr.Inverse, byName)...)
	}

	switch {
	case scalarTypes[attr.Type], attr.Type == "auto":
	case attr.Type == "ref":
		errs = append(errs, validateTarget(field+".model", attr.Model, byName)...)
	case attr.Type == "set":
		switch {
		case attr.Of == "ref":
			errs = append(errs, validateTarget(field+".model", attr.Model, byName)...)
		case !scalarTypes[attr.Of]:
			errs = append(errs, ValidationError{
				Field:   field + ".of",
				Message: fmt.Sprintf("set element type must be a scalar kind or ref, got %q", attr.Of),
				Code:    ErrInvalidSetElement,
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   field + ".type",
			Message: fmt.Sprintf("invalid type %q", attr.Type),
			Code:    ErrInvalidType,
		})
	}

	if attr.Default != nil && !scalarTypes[attr.Type] {
		errs = append(errs, ValidationError{
			Field:   field + ".default",
			Message: fmt.Sprintf("only scalar attributes can declare a default, %q cannot", attr.Type),
			Code:    ErrInvalidDefault,
		})
	}

	switch attr.Unique {
	case "", "identity", "value":
	default:
		errs = append(errs, ValidationError{
			Field:   field + ".unique",
			Message: fmt.Sprintf("unique must be \"identity\" or \"value\", got %q", attr.Unique),
			Code:    ErrInvalidUnique,
		})
	}

	if attr.Pattern != "" {
		if _, err := regexp.Compile(attr.Pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".pattern",
				Message: err.Error(),
				Code:    ErrInvalidPattern,
			})
		}
	}

	ident := attr.Ident
	if ident == "" {
		ident = defaultIdent(spec, attr.Name)
	}
	shape := attr.Type + "/" + attr.Of
	if prev, ok := idents[ident]; ok && prev != shape {
		errs = append(errs, ValidationError{
			Field:   field + ".ident",
			Message: fmt.Sprintf("%s is already declared as %s", ident, prev),
			Code:    ErrConflictingIdent,
		})
	} else if !ok {
		idents[ident] = shape
	}
	return errs
}

func validateTarget(field, target string, byName map[string]*ir.ModelSpec) []ValidationError {
	if target == "" {
		return []ValidationError{{Field: field, Message: "ref attributes must name a model", Code: ErrUnknownModel}}
	}
	if _, ok := byName[target]; !ok {
		return []ValidationError{{Field: field, Message: fmt.Sprintf("unknown model %q", target), Code: ErrUnknownModel}}
	}
	return nil
}

func validateInverse(field string, spec ir.ModelSpec, inv *ir.InverseSpec, byName map[string]*ir.ModelSpec) []ValidationError {
	from, ok := byName[inv.Model]
	if !ok {
		return []ValidationError{{Field: field + ".inverse.model", Message: fmt.Sprintf("unknown model %q", inv.Model), Code: ErrUnknownModel}}
	}
	for _, a := range from.Attributes {
		if a.Name != inv.From {
			continue
		}
		refs := a.Type == "ref" || (a.Type == "set" && a.Of == "ref")
		if !refs || a.Model != spec.Name {
			return []ValidationError{{
				Field:   field + ".inverse.from",
				Message: fmt.Sprintf("%s.%s does not reference %s", from.Name, a.Name, spec.Name),
				Code:    ErrInvalidInverse,
			}}
		}
		return nil
	}
	return []ValidationError{{
		Field:   field + ".inverse.from",
		Message: fmt.Sprintf("%s has no attribute %s", from.Name, inv.From),
		Code:    ErrInvalidInverse,
	}}
}

// defaultIdent mirrors the wire name the model layer gives an attribute
// without an explicit ident.
func defaultIdent(spec ir.ModelSpec, attr string) string {
	return spec.Namespace + "." + spec.Name + "/" + strings.ReplaceAll(attr, "_", "-")
}
