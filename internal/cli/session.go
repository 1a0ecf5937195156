package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dalton/internal/harness"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/model"
	"github.com/roach88/dalton/internal/store"
	"github.com/roach88/dalton/internal/validate"
)

// StoreOptions are the flags of commands that work on a database.
type StoreOptions struct {
	*RootOptions
	Database string
	Models   string
}

func addStoreFlags(cmd *cobra.Command, opts *StoreOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Models, "models", "", "directory of CUE model declarations (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("models")
}

// session is an open store with the models it is used through.
type session struct {
	store    *store.Store
	registry *model.Registry
	repo     *model.Repo
}

func openSession(opts *StoreOptions) (*session, error) {
	reg, err := LoadRegistry(opts.Models)
	if err != nil {
		return nil, err
	}
	slog.Debug("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database, store.WithLogger(slog.Default()))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return &session{
		store:    st,
		registry: reg,
		repo:     model.NewRepo(st, reg, model.WithLogger(slog.Default())),
	}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

func (s *session) model(name string) (*model.Model, error) {
	m, ok := s.registry.Lookup(name)
	if !ok {
		names := make([]string, 0, len(s.registry.Models()))
		for _, m := range s.registry.Models() {
			names = append(names, m.Name())
		}
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown model %q (have %s)", name, strings.Join(names, ", ")))
	}
	return m, nil
}

// parseAssignments reads attr=value arguments. Values are YAML, so
// tags=[go,db] is a list and views=3 a number; an empty value is nil.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not attr=value", arg)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// coerceAll converts parsed input to the host values of m's attributes.
// Unknown attributes pass through unchanged for the model layer to reject.
func coerceAll(m *model.Model, in map[string]any) (model.Attrs, error) {
	out := make(model.Attrs, len(in))
	for name, raw := range in {
		attr, ok := m.Attribute(name)
		if !ok || raw == nil {
			out[name] = raw
			continue
		}
		v, err := model.Coerce(attr.Type, raw, nil)
		if err != nil {
			return nil, &model.InvalidValueError{Model: m.Name(), Attr: name, Value: raw, Reason: "unreadable input", Cause: err}
		}
		out[name] = v
	}
	return out, nil
}

func parseID(s string) (ir.EntityID, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q is not an entity id", s)
	}
	return ir.EntityID(n), nil
}

// Codes reported for rejected operations, by harness error kind.
var kindCodes = map[string]string{
	harness.ErrKindValidation:  "E201",
	harness.ErrKindUnique:      "E202",
	harness.ErrKindWrongType:   "E203",
	harness.ErrKindInvalid:     "E204",
	harness.ErrKindMismatch:    "E205",
	harness.ErrKindNotFound:    "E206",
	harness.ErrKindCycle:       "E207",
	harness.ErrKindTransaction: "E208",
}

// failOperation reports err from a create, find or show. Rejections by the
// model layer or the store exit with ExitFailure; anything else is a
// command error.
func failOperation(f *OutputFormatter, err error) error {
	kind := harness.ErrorKind(err)
	code, ok := kindCodes[kind]
	if !ok {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	var ve *validate.ValidationError
	if errors.As(err, &ve) {
		details := validationDetails(ve)
		if f.Format == "json" {
			return f.Fail(ExitFailure, code, "validation failed", details)
		}
		fmt.Fprintln(f.Writer, "✗ Validation failed")
		for _, attr := range slices.Sorted(maps.Keys(details)) {
			for _, msg := range details[attr] {
				fmt.Fprintf(f.Writer, "  %s: %s\n", attr, msg)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s: validation failed", code))
	}
	return f.Fail(ExitFailure, code, err.Error(), nil)
}

// validationDetails groups failure messages by attribute. Failures not
// tied to an attribute are listed under "base".
func validationDetails(ve *validate.ValidationError) map[string][]string {
	out := map[string][]string{}
	for _, fl := range ve.Failures {
		if len(fl.Attrs) == 0 {
			out["base"] = append(out["base"], fl.Message)
			continue
		}
		for _, a := range fl.Attrs {
			out[a] = append(out[a], fl.Message)
		}
	}
	return out
}

// renderInstance formats the attributes of inst in declaration order, in
// the store's notation: #17 title="Hello" tags=#{:db :go}.
func renderInstance(inst *model.Instance) (string, error) {
	parts := []string{"#" + strconv.FormatInt(int64(inst.ID()), 10)}
	for _, a := range inst.Model().Attributes() {
		v, err := inst.Get(a.Name)
		if err != nil {
			return "", err
		}
		if v == nil {
			continue
		}
		w, err := a.Type.Dump(v)
		if err != nil {
			return "", fmt.Errorf("%s: %w", a.Name, err)
		}
		if set, ok := w.(ir.Set); ok && len(set) == 0 {
			continue
		}
		parts = append(parts, a.Name+"="+ir.Format(w))
	}
	return strings.Join(parts, " "), nil
}
