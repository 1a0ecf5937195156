package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/dalton/internal/model"
)

// EntityResult is an entity as reported by create, find and show.
type EntityResult struct {
	Model string         `json:"model"`
	ID    int64          `json:"id"`
	Attrs map[string]any `json:"attrs"`
	Line  string         `json:"-"`
}

func entityResult(inst *model.Instance) (EntityResult, error) {
	attrs, err := inst.ToMap()
	if err != nil {
		return EntityResult{}, err
	}
	delete(attrs, "id")
	line, err := renderInstance(inst)
	if err != nil {
		return EntityResult{}, err
	}
	return EntityResult{Model: inst.Model().Name(), ID: int64(inst.ID()), Attrs: attrs, Line: line}, nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <model> [attr=value...]",
		Short: "Create an entity",
		Long: `Create an entity of a model and commit it in one transaction.

Values are read as YAML: numbers, lists and strings need no quoting.
References are entity ids. The model's validation rules run before
anything is written, and every failing attribute is reported.

Example:
  dalton create --db ./blog.db --models ./models post title=Hello tags=[go,db] author=17`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, args[0], args[1:], cmd)
		},
	}
	addStoreFlags(cmd, opts)
	return cmd
}

func runCreate(opts *StoreOptions, modelName string, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	input, err := parseAssignments(args)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}

	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := s.model(modelName)
	if err != nil {
		return err
	}
	attrs, err := coerceAll(m, input)
	if err != nil {
		return failOperation(formatter, err)
	}

	inst, err := s.repo.Insert(cmd.Context(), m, func(c *model.Changer) error {
		for _, name := range slices.Sorted(maps.Keys(attrs)) {
			if err := c.Assign(name, attrs[name]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return failOperation(formatter, err)
	}
	formatter.VerboseLog("Committed %s in transaction %d", inst, inst.Snapshot().BasisT())

	result, err := entityResult(inst)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Created %s %s\n", result.Model, result.Line)
	})
}
