package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

const (
	// DefaultPython is the interpreter used when none is configured.
	DefaultPython = "python"

	// DefaultGracePeriod is how long the server may take to exit after
	// SIGINT before it is killed.
	DefaultGracePeriod = 30 * time.Second
)

// ProcessLauncher runs the server as a local child process.
type ProcessLauncher struct {
	// Python is the interpreter executable.
	Python string

	// GracePeriod bounds the shutdown after SIGINT.
	GracePeriod time.Duration

	// Stdout and Stderr receive the server output. Nil means the current
	// process's streams.
	Stdout io.Writer
	Stderr io.Writer

	// environ returns the parent environment. Tests replace it.
	environ func() []string
}

// NewProcessLauncher creates a launcher using the given interpreter.
func NewProcessLauncher(python string) *ProcessLauncher {
	if python == "" {
		python = DefaultPython
	}
	return &ProcessLauncher{
		Python:      python,
		GracePeriod: DefaultGracePeriod,
		environ:     os.Environ,
	}
}

// Name returns "process".
func (l *ProcessLauncher) Name() string {
	return RuntimeProcess
}

// Command builds the server command without starting it.
//
// The command is an argument vector; no shell is involved. Cancelling ctx
// sends SIGINT and, after GracePeriod, SIGKILL.
func (l *ProcessLauncher) Command(ctx context.Context, spec *Spec) *exec.Cmd {
	args := append([]string{"-m", ServerModule}, spec.Args...)
	cmd := exec.CommandContext(ctx, l.Python, args...)

	environ := l.environ
	if environ == nil {
		environ = os.Environ
	}
	cmd.Env = environ()
	if spec.Env != nil {
		cmd.Env = spec.Env.Merge(cmd.Env)
	}

	cmd.Stdout = l.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = l.GracePeriod

	return cmd
}

// Launch starts the server and waits for it to exit.
func (l *ProcessLauncher) Launch(ctx context.Context, spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("launch spec is required")
	}

	cmd := l.Command(ctx, spec)
	logger.Info("Starting vLLM server: %s", CommandLine(l.Python, spec.Args))

	if err := cmd.Start(); err != nil {
		logger.Error("Failed to start vLLM server: %v", err)
		return fmt.Errorf("failed to start vLLM server: %w", err)
	}
	logger.Debug("vLLM server started (pid %d)", cmd.Process.Pid)

	err := cmd.Wait()

	if ctx.Err() != nil {
		logger.Info("Server stopped by user")
		return ErrInterrupted
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() && status.Signal() == syscall.SIGINT {
				logger.Info("Server stopped by user")
				return ErrInterrupted
			}
			return fmt.Errorf("vLLM server exited with code %d: %w", exitErr.ExitCode(), err)
		}
		return fmt.Errorf("vLLM server failed: %w", err)
	}

	logger.Info("vLLM server exited")
	return nil
}
