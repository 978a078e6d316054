package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/msgpass/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool                     `json:"valid"`
	Nodes        int                      `json:"nodes,omitempty"`
	Groups       int                      `json:"groups,omitempty"`
	SendRules    int                      `json:"send_rules,omitempty"`
	ReceiveRules int                      `json:"receive_rules,omitempty"`
	Errors       []config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate a testbed configuration file without starting anything.

Runs the schema check and every semantic check (unique names, known
group members, mutual-exclusion groups, rule actions) and reports all
problems found.

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors
  2 - Command error (file not readable, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, path, cmd)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "configuration file")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := config.Load(path)
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			return outputValidationErrors(formatter, verrs)
		}
		_ = formatter.Error("E001", err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot read configuration", err)
	}

	result := ValidationResult{
		Valid:        true,
		Nodes:        len(cfg.Nodes),
		Groups:       len(cfg.Groups),
		SendRules:    len(cfg.SendRules),
		ReceiveRules: len(cfg.ReceiveRules),
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Configuration valid: %d nodes, %d groups, %d send rules, %d receive rules\n",
		result.Nodes, result.Groups, result.SendRules, result.ReceiveRules)
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs config.ValidationErrors) error {
	if formatter.Format == "json" {
		if err := formatter.Error(errs[0].Code, errs[0].Message, ValidationResult{Errors: errs}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", e.Code, e.Field, e.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
