package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	StoreOptions
	Query bool // print the query instead of running it
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "find <model> [attr=value...]",
		Short: "Find entities by attribute values",
		Long: `Find every entity of a model whose attributes hold the given values,
in entity id order. A set value matches entities holding every member.
Inverse attributes are matched through the references pointing at them.

Example:
  dalton find --db ./blog.db --models ./models post author=17
  dalton find --db ./blog.db --models ./models author posts=42`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], args[1:], cmd)
		},
	}
	addStoreFlags(cmd, &opts.StoreOptions)
	cmd.Flags().BoolVar(&opts.Query, "query", false, "print the finder instead of its results")
	return cmd
}

func runFind(opts *FindOptions, modelName string, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	input, err := parseAssignments(args)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}

	s, err := openSession(&opts.StoreOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := s.model(modelName)
	if err != nil {
		return err
	}
	where, err := coerceAll(m, input)
	if err != nil {
		return failOperation(formatter, err)
	}

	f, err := s.repo.Latest(m)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	if f, err = f.Where(where); err != nil {
		return failOperation(formatter, err)
	}
	if opts.Query {
		return formatter.Success(f.String(), nil)
	}
	formatter.VerboseLog("Running %s", f)

	insts, err := f.Results(cmd.Context())
	if err != nil {
		return failOperation(formatter, err)
	}
	results := make([]EntityResult, 0, len(insts))
	for _, inst := range insts {
		r, err := entityResult(inst)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		}
		results = append(results, r)
	}

	return formatter.Success(results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintln(w, r.Line)
		}
		fmt.Fprintf(w, "%d %s(s)\n", len(results), m.Name())
	})
}
