package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dalton/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Models int                        `json:"models"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <models-dir>",
		Short: "Check model declarations without printing them",
		Long: `Check the CUE model declarations in a directory.

Reports every compile and consistency error with its code, for quick
feedback while editing models.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadModels(modelsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		return formatter.Fail(ExitCommandError, code, message, nil)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, modelsDir)

	result := ValidationResult{Valid: len(loadErrors) == 0, Models: len(loadResult.Models)}
	for _, err := range loadErrors {
		code, message := parseCompileError(err)
		ve := compiler.ValidationError{Field: "load", Code: code, Message: message}
		if v, ok := err.(compiler.ValidationError); ok {
			ve = v
		}
		result.Errors = append(result.Errors, ve)
	}

	if result.Valid {
		return formatter.Success(result, func(w io.Writer) {
			fmt.Fprintf(w, "✓ %d model(s) valid\n", result.Models)
		})
	}

	if formatter.Format == "json" {
		if err := formatter.Error(result.Errors[0].Code, result.Errors[0].Message, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %d error(s)\n", len(result.Errors))
		for _, ve := range result.Errors {
			fmt.Fprintf(formatter.Writer, "  %s\n", ve.Error())
		}
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
