package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// InstallResult reports what install transacted.
type InstallResult struct {
	Models       []string `json:"models"`
	Transactions int      `json:"transactions"`
}

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install model schema into a database",
		Long: `Install the base schema of each namespace and the attributes of each
model into a database, creating it if needed. Attributes already
installed are skipped, so install can be re-run after adding models.

Example:
  dalton install --db ./blog.db --models ./models`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(opts, cmd)
		},
	}
	addStoreFlags(cmd, opts)
	return cmd
}

func runInstall(opts *StoreOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.repo.Install(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("installing schema: %v", err), nil)
	}

	result := InstallResult{Transactions: n}
	for _, m := range s.registry.Models() {
		result.Models = append(result.Models, m.Name())
	}
	return formatter.Success(result, func(w io.Writer) {
		if n == 0 {
			fmt.Fprintf(w, "✓ Schema for %d model(s) already installed\n", len(result.Models))
			return
		}
		fmt.Fprintf(w, "✓ Installed %d model(s) in %d transaction(s)\n", len(result.Models), n)
	})
}
