package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <model> <id>",
		Short: "Show one entity",
		Long: `Show the attributes of one entity, defaults and inverse attributes
included. The entity must carry the model's type tag.

Example:
  dalton show --db ./blog.db --models ./models post 42`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], args[1], cmd)
		},
	}
	addStoreFlags(cmd, opts)
	return cmd
}

func runShow(opts *StoreOptions, modelName, rawID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	id, err := parseID(rawID)
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
	inst, err := s.repo.Find(m, id)
	if err != nil {
		return failOperation(formatter, err)
	}

	result, err := entityResult(inst)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s\n", result.Model, result.Line)
	})
}
