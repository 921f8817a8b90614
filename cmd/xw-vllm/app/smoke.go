package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xw-vllm/internal/client"
	"github.com/tsingmao/xw-vllm/internal/logger"
	"github.com/tsingmao/xw-vllm/internal/smoke"
)

// SmokeOptions holds options for the smoke command
type SmokeOptions struct {
	*GlobalOptions

	// URL is the server base URL
	URL string

	// Model is sent with completion checks
	Model string

	// Wait polls /health for up to this long before running the checks
	Wait time.Duration
}

// NewSmokeCommand creates the smoke command.
//
// The smoke command runs the API acceptance checks against a running server
// and exits with status 1 if any check fails.
func NewSmokeCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &SmokeOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run API acceptance checks against a running server",
		Example: `  # Check the local server
  xw-vllm smoke

  # Wait up to five minutes for a freshly launched server
  xw-vllm smoke --wait 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmoke(opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", client.DefaultBaseURL,
		"API base URL")
	cmd.Flags().StringVar(&opts.Model, "model", smoke.DefaultModel,
		"model identifier sent with completion checks")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0,
		"wait for the server to become healthy before checking")

	return cmd
}

func runSmoke(opts *SmokeOptions, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := getClient(opts.URL)

	if opts.Wait > 0 {
		logger.Info("Waiting up to %s for %s to become ready", opts.Wait, c.BaseURL())
		waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
		err := c.WaitReady(waitCtx, 2*time.Second)
		cancel()
		if err != nil {
			return fmt.Errorf("server did not become ready: %w", err)
		}
	}

	fmt.Fprintf(out, "Running API checks against %s\n\n", c.BaseURL())
	results := smoke.NewSuite(c, opts.Model).Run(ctx)
	smoke.PrintResults(out, results)

	if !smoke.AllPassed(results) {
		return &ExitError{Code: 1}
	}
	return nil
}
