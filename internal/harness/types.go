package harness

// TraceEvent records one executed step. Entity ids and temp ids in Edits
// and Found are rendered as "@<alias>" so traces do not depend on id
// allocation.
type TraceEvent struct {
	Step   int      `json:"step"`
	Op     string   `json:"op"`
	Target string   `json:"target"`
	As     string   `json:"as,omitempty"`
	Edits  []string `json:"edits,omitempty"`
	Found  []string `json:"found,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates every expectation matched.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
