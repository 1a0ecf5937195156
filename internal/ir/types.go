package ir

// ModelSpec is a compiled model declaration: everything needed to build a
// model descriptor and its schema facts, independent of the source format.
type ModelSpec struct {
	Name       string          `json:"name"`
	Namespace  string          `json:"namespace"`
	Partition  string          `json:"partition"`
	Attributes []AttributeSpec `json:"attributes"`
}

// AttributeSpec declares one attribute of a model, in declaration order.
type AttributeSpec struct {
	Name string `json:"name"`

	// Ident overrides the default wire name <ns>.<model>/<name>.
	Ident string `json:"ident,omitempty"`

	// Type is one of the scalar kinds (string, long, double, boolean, keyword,
	// instant), "ref", "set" or "auto".
	Type string `json:"type"`

	// Of is the element type of a set: a scalar kind or "ref".
	Of string `json:"of,omitempty"`

	// Model names the referenced model for "ref" attributes and "ref" set elements.
	Model string `json:"model,omitempty"`

	Doc      string `json:"doc,omitempty"`
	Unique   string `json:"unique,omitempty"` // "identity" | "value"
	Default  any    `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
	Pattern  string `json:"pattern,omitempty"`

	// Inverse declares a read-only reverse reference.
	Inverse *InverseSpec `json:"inverse,omitempty"`
}

// InverseSpec names the forward attribute an inverse attribute reads backwards:
// Model is the referring model, From the forward attribute's name on it.
type InverseSpec struct {
	Model string `json:"model"`
	From  string `json:"from"`
}
