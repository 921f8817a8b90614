// Package app provides the command-line interface implementation for xw-vllm.
//
// This package contains all CLI commands and their implementations, built
// with cobra. Commands are organized hierarchically with a root command and
// subcommands:
//
//	xw-vllm serve      launch the vLLM-Ascend server from a mode profile
//	xw-vllm validate   check a profile and print the server flags
//	xw-vllm bench      benchmark a running server
//	xw-vllm smoke      run API acceptance checks against a running server
//	xw-vllm chat       interactive completion prompt
//	xw-vllm device     accelerator detection
//	xw-vllm version    version information
package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tsingmao/xw-vllm/internal/client"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

const (
	// cliName is the name of the CLI application
	cliName = "xw-vllm"

	// cliDescription is the short description shown in help text
	cliDescription = "xw-vllm - vLLM-Ascend deployment toolkit"

	// dotEnvFile is loaded from the working directory when present
	dotEnvFile = ".env"
)

// GlobalOptions holds options that are common to all commands
type GlobalOptions struct {
	// LogLevel is the minimum log level (DEBUG, INFO, WARNING, ERROR)
	LogLevel string

	// Verbose enables debug output, overriding LogLevel
	Verbose bool
}

// ExitError carries a process exit code through cobra. main prints Err, if
// any, and exits with Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewXWVLLMCommand creates the root xw-vllm command with all subcommands.
//
// The root command provides the main entry point for the CLI. Before any
// subcommand runs it loads a .env file from the working directory (without
// overriding variables already set) and applies the log level flags.
//
// Returns:
//   - A configured cobra.Command ready for execution
//
// Example:
//
//	cmd := NewXWVLLMCommand()
//	if err := cmd.Execute(); err != nil {
//	    os.Exit(1)
//	}
func NewXWVLLMCommand() *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:   cliName,
		Short: cliDescription,
		Long: `xw-vllm deploys and exercises the vLLM-Ascend OpenAI-compatible server.

It launches the server from a "fast" or "slow" thinking-mode profile on
Huawei Ascend NPUs, benchmarks a running server under concurrent load, and
runs API acceptance checks against it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupGlobals(opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "INFO",
		"log level (DEBUG, INFO, WARNING, ERROR)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"verbose output (same as --log-level DEBUG)")

	cmd.AddCommand(
		NewServeCommand(opts),
		NewValidateCommand(opts),
		NewBenchCommand(opts),
		NewSmokeCommand(opts),
		NewChatCommand(opts),
		NewDeviceCommand(opts),
		NewVersionCommand(opts),
	)

	return cmd
}

// setupGlobals loads .env and configures the logger.
func setupGlobals(opts *GlobalOptions) error {
	if err := godotenv.Load(dotEnvFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", dotEnvFile, err)
		}
	} else {
		logger.Debug("Loaded environment from %s", dotEnvFile)
	}

	if opts.Verbose {
		logger.SetDebug(true)
		return nil
	}
	if err := logger.SetLevel(opts.LogLevel); err != nil {
		return err
	}
	return nil
}

// getClient creates an API client for serverURL, defaulting to
// http://localhost:8000.
func getClient(serverURL string) *client.Client {
	if serverURL == "" {
		serverURL = client.DefaultBaseURL
	}
	return client.NewClient(serverURL)
}
