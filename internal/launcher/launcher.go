// Package launcher starts the vLLM OpenAI-compatible server.
//
// Two launchers share one contract. ProcessLauncher runs the server as a
// local child process; DockerLauncher runs it inside the vllm-ascend
// container image. Both block until the server exits or the context is
// cancelled. Cancellation is the graceful shutdown path: the server is asked
// to stop, given a grace period, and Launch returns ErrInterrupted.
//
// A failed launch is never retried.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tsingmao/xw-vllm/internal/ascend"
)

// ErrInterrupted is returned by Launch when the context was cancelled and the
// server was shut down in response.
var ErrInterrupted = errors.New("server interrupted")

// ServerModule is the Python module serving the OpenAI-compatible API.
const ServerModule = "vllm.entrypoints.openai.api_server"

// Spec describes one server launch.
type Spec struct {
	// Args are the server flags produced by config.BuildArgs.
	Args []string

	// Env is the Ascend environment merged into the server environment.
	Env *ascend.Environment

	// ModelPath is the host model directory, bind-mounted by DockerLauncher.
	ModelPath string

	// Port is the server port, published by DockerLauncher.
	Port int

	// DeviceIDs are the NPU indices made visible to the server.
	DeviceIDs []int
}

// Launcher starts the server and waits for it.
type Launcher interface {
	// Name returns the launcher identifier ("process" or "docker").
	Name() string

	// Launch runs the server until it exits or ctx is cancelled.
	//
	// Returns nil when the server exited cleanly, ErrInterrupted after a
	// cancellation-driven shutdown, or the startup or exit error.
	Launch(ctx context.Context, spec *Spec) error
}

// Launcher names accepted by New.
const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

// Options configures the launcher returned by New.
type Options struct {
	// Python is the interpreter for the process launcher.
	Python string

	// Image is the container image for the docker launcher.
	Image string
}

// New returns the launcher registered under name.
func New(name string, opts Options) (Launcher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", RuntimeProcess:
		return NewProcessLauncher(opts.Python), nil
	case RuntimeDocker:
		return NewDockerLauncher(opts.Image)
	default:
		return nil, fmt.Errorf("unknown runtime %q (expected %s or %s)", name, RuntimeProcess, RuntimeDocker)
	}
}

// CommandLine renders the server invocation for logs.
func CommandLine(python string, args []string) string {
	parts := append([]string{python, "-m", ServerModule}, args...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}
