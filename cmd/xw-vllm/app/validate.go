package app

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xw-vllm/internal/config"
	"github.com/tsingmao/xw-vllm/internal/launcher"
)

// ValidateOptions holds options for the validate command
type ValidateOptions struct {
	*GlobalOptions
	ProfileOptions

	// Python is shown as the interpreter in the printed command line
	Python string
}

// NewValidateCommand creates the validate command.
//
// validate is a dry run of serve: it loads and validates the profile, prints
// every check and the command line that serve would execute, and starts
// nothing.
func NewValidateCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ValidateOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a profile and print the server command",
		Example: `  # Check both shipped profiles
  xw-vllm validate --mode fast
  xw-vllm validate --mode slow

  # Check a custom profile
  xw-vllm validate --config ./my_profile.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd.OutOrStdout())
		},
	}

	opts.ProfileOptions.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Python, "python", launcher.DefaultPython,
		"Python interpreter shown in the command line")

	return cmd
}

func runValidate(opts *ValidateOptions, out io.Writer) error {
	path, err := opts.resolvePath()
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	result := config.Validate(cfg)
	fmt.Fprintf(out, "Profile: %s\n\n", path)
	for _, c := range result.Checks {
		if c.Passed {
			fmt.Fprintf(out, "  ✓ %s\n", c.Name)
		} else {
			fmt.Fprintf(out, "  ✗ %s: %s\n", c.Name, c.Message)
		}
	}
	fmt.Fprintln(out)

	if err := result.Err(); err != nil {
		return fmt.Errorf("%w: %d check(s) failed", config.ErrInvalidConfig, len(result.Failures()))
	}

	args, err := config.BuildArgs(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Model:   %s\n", cfg.ModelName())
	fmt.Fprintf(out, "Address: %s\n", cfg.Server.Address())
	fmt.Fprintf(out, "Command: %s\n", launcher.CommandLine(opts.Python, args))
	return nil
}
