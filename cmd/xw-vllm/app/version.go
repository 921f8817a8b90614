package app

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X .../app.Version=..." at release time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "dev"
)

// GetVersion returns the version string of this binary.
func GetVersion() string {
	return Version
}

// NewVersionCommand creates the version command.
func NewVersionCommand(globalOpts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func printVersion(out io.Writer) {
	fmt.Fprintln(out, "xw-vllm Version:")
	fmt.Fprintf(out, "  Version:    %s\n", GetVersion())
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
	fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
}
