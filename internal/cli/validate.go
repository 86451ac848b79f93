package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/statekit/internal/catalog"
)

// ValidationIssue is one catalog problem.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Kinds  []catalog.Kind    `json:"kinds,omitempty"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog>",
		Short: "Validate an operation catalog",
		Long: `Compile a CUE operation catalog (a file, or a directory holding one
CUE package) and list the kinds it declares.

Exit codes:
  0 - Catalog is valid
  1 - Catalog is invalid
  2 - Command error (path not found)

Examples:
  statekit validate ./catalog.cue
  statekit validate ./catalog --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if _, err := os.Stat(path); err != nil {
		return fail(formatter, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("catalog not found: %s", path), nil)
	}

	cat, err := catalog.Load(path)
	if err != nil {
		return outputValidationError(formatter, err)
	}
	formatter.VerboseLog("Compiled %d operation kind(s) from %s", cat.Len(), path)

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Kinds: cat.Kinds()})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Catalog valid (%d kinds)\n", cat.Len())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range cat.Kinds() {
		keyField := ""
		if k.Apply == catalog.ApplyUpsertMany {
			keyField = "key=" + k.KeyField
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", k.Name, k.Apply, k.Policy, keyField)
	}
	return tw.Flush()
}

func outputValidationError(formatter *OutputFormatter, err error) error {
	issue := ValidationIssue{Field: "catalog", Message: err.Error()}
	var cErr *catalog.CompileError
	if errors.As(err, &cErr) {
		issue.Field = cErr.Field
		issue.Message = cErr.Message
		if cErr.Pos.IsValid() {
			issue.File = cErr.Pos.Filename()
			issue.Line = cErr.Pos.Line()
		}
	}

	if formatter.JSON() {
		_ = formatter.Failure(ErrCodeInvalidCatalog, issue.Message, ValidationResult{
			Valid:  false,
			Errors: []ValidationIssue{issue},
		})
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s line %d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", ErrCodeInvalidCatalog, issue.Field, issue.Message)
	}
	return WrapExitError(ExitFailure, "catalog is invalid", err)
}
