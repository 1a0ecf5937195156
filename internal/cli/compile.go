package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dalton/internal/compiler"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/model"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
	Schema bool   // include schema facts
}

// CompilationResult holds the compiled models and, on request, the schema
// transactions that install them.
type CompilationResult struct {
	Models []ir.ModelSpec `json:"models"`
	Schema []SchemaTx     `json:"schema,omitempty"`
}

// SchemaTx is one schema transaction. Source is "base <namespace>" for the
// namespace's base schema, otherwise the model the attribute belongs to.
type SchemaTx struct {
	Source string   `json:"source"`
	Edits  []string `json:"edits"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <models-dir>",
		Short: "Compile CUE model declarations",
		Long: `Compile the CUE model declarations in a directory.

Every model is compiled and the set is validated as a whole, so all
errors are reported at once. With --schema the schema transactions
that install the models are printed as well.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().BoolVar(&opts.Schema, "schema", false, "print schema transactions")

	return cmd
}

func runCompile(opts *CompileOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadModels(modelsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseCompileError(loadErrors[0])
		return formatter.Fail(ExitCommandError, code, message, nil)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, modelsDir)

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}
	for _, spec := range loadResult.Models {
		formatter.VerboseLog("Compiled model: %s", spec.Name)
	}

	result := &CompilationResult{Models: loadResult.Models}
	if opts.Schema || opts.Output != "" {
		schema, err := schemaFacts(loadResult.Models)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		}
		result.Schema = schema
	}

	if opts.Output != "" {
		if err := writeResultToFile(result, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return formatter.Success(result, func(w io.Writer) {
		writeCompileText(w, result, opts.Output)
	})
}

// schemaFacts renders the base schema of each namespace, then the schema of
// each model, in the order Repo.Install transacts them.
func schemaFacts(specs []ir.ModelSpec) ([]SchemaTx, error) {
	reg, err := model.RegistryFromSpecs(specs)
	if err != nil {
		return nil, err
	}

	var out []SchemaTx
	seen := map[string]bool{}
	for _, m := range reg.Models() {
		if seen[m.Namespace()] {
			continue
		}
		seen[m.Namespace()] = true
		part := strings.TrimPrefix(string(m.Partition()), "db.part/")
		out = append(out, SchemaTx{
			Source: "base " + m.Namespace(),
			Edits:  renderEdits(model.BaseSchema(m.Namespace(), part)),
		})
	}
	for _, m := range reg.Models() {
		txs, err := m.Schema()
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Name(), err)
		}
		for _, tx := range txs {
			out = append(out, SchemaTx{Source: m.Name(), Edits: renderEdits(tx)})
		}
	}
	return out, nil
}

func renderEdits(edits []ir.Edit) []string {
	out := make([]string, len(edits))
	for i, e := range edits {
		out[i] = e.String()
	}
	return out
}

func writeCompileText(w io.Writer, result *CompilationResult, outputFile string) {
	fmt.Fprintf(w, "✓ Compiled %d model(s)\n\n", len(result.Models))

	fmt.Fprintln(w, "Models:")
	for _, spec := range result.Models {
		fmt.Fprintf(w, "  %s (:%s.type/%s): %d attribute(s)\n",
			spec.Name, spec.Namespace, spec.Name, len(spec.Attributes))
	}
	fmt.Fprintln(w)

	if len(result.Schema) > 0 {
		fmt.Fprintln(w, "Schema:")
		for _, tx := range result.Schema {
			fmt.Fprintf(w, "  ;; %s\n", tx.Source)
			for _, e := range tx.Edits {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		fmt.Fprintln(w)
	}

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote compiled models to %s\n", outputFile)
	}
}

// outputCompileErrors outputs every load and validation error.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}
		if err := formatter.Error(cliErrors[0].Code, cliErrors[0].Message, cliErrors); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var ve compiler.ValidationError
	if errors.As(err, &ve) {
		return ve.Code, fmt.Sprintf("%s: %s", ve.Field, ve.Message)
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

func writeResultToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling models: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
