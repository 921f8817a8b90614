package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xw-vllm/internal/ascend"
	"github.com/tsingmao/xw-vllm/internal/config"
	"github.com/tsingmao/xw-vllm/internal/device"
	"github.com/tsingmao/xw-vllm/internal/launcher"
	"github.com/tsingmao/xw-vllm/internal/logger"
	"github.com/tsingmao/xw-vllm/internal/model"
)

// ProfileOptions selects the deployment profile
type ProfileOptions struct {
	// Mode is the thinking mode (fast or slow)
	Mode string

	// ConfigPath is an explicit profile path, overriding Mode
	ConfigPath string

	// ConfigDir is the directory holding <mode>_mode.yaml profiles
	ConfigDir string
}

// addFlags registers the profile flags on cmd.
func (o *ProfileOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Mode, "mode", "",
		"thinking mode: fast or slow (default: $THINKING_MODE or fast)")
	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "",
		"profile path (overrides --mode)")
	cmd.Flags().StringVar(&o.ConfigDir, "config-dir", "",
		"directory containing mode profiles (default: $XW_CONFIG_DIR or ./config)")
}

// ServeOptions holds options for the serve command
type ServeOptions struct {
	*GlobalOptions
	ProfileOptions

	// Runtime selects how the server runs: process or docker
	Runtime string

	// Python is the interpreter used by the process runtime
	Python string

	// Image is the container image used by the docker runtime
	Image string

	// SkipDeviceCheck disables the accelerator probe
	SkipDeviceCheck bool

	// SkipModelCheck disables model directory validation
	SkipModelCheck bool
}

// NewServeCommand creates the serve command.
//
// The serve command loads the profile of the selected thinking mode,
// validates it, prepares the Ascend environment, checks the NPU and the model
// directory, and then runs the vLLM OpenAI-compatible API server until it
// exits. Ctrl+C stops the server gracefully and exits with status 0.
//
// Usage:
//
//	xw-vllm serve [--mode fast|slow] [--config PATH] [--runtime process|docker]
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for launching the server
func NewServeCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ServeOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Launch the vLLM-Ascend server",
		Long: `Launch the vLLM-Ascend OpenAI-compatible API server from a mode profile.

The profile is validated before anything is started; every violated
constraint is reported. The server process inherits the current environment
with the Ascend CANN search paths and ASCEND_DEVICE_ID added. Press Ctrl+C to
stop the server.`,
		Example: `  # Launch the fast profile
  xw-vllm serve

  # Launch the slow profile with debug logging
  xw-vllm serve --mode slow --log-level DEBUG

  # Launch an explicit profile inside the vllm-ascend container
  xw-vllm serve --config ./my_profile.yaml --runtime docker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	opts.ProfileOptions.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Runtime, "runtime", launcher.RuntimeProcess,
		"server runtime: process or docker")
	cmd.Flags().StringVar(&opts.Python, "python", launcher.DefaultPython,
		"Python interpreter for the process runtime")
	cmd.Flags().StringVar(&opts.Image, "image", launcher.DefaultImage,
		"container image for the docker runtime")
	cmd.Flags().BoolVar(&opts.SkipDeviceCheck, "skip-device-check", false,
		"do not probe for accelerator devices")
	cmd.Flags().BoolVar(&opts.SkipModelCheck, "skip-model-check", false,
		"do not validate the model directory")

	return cmd
}

// resolvePath returns the profile named by --config, or the shipped profile
// for the selected mode. An unknown --mode is an error.
func (o *ProfileOptions) resolvePath() (string, error) {
	if o.ConfigPath != "" {
		return o.ConfigPath, nil
	}

	mode, err := config.ModeFromFlag(o.Mode)
	if err != nil {
		return "", err
	}
	logger.Info("Thinking mode: %s", mode)

	return config.ResolveProfilePath(mode, o.ConfigDir)
}

// loadProfile resolves, loads and validates the selected profile and
// translates it into server flags.
func loadProfile(opts *ProfileOptions) (*config.Config, []string, error) {
	path, err := opts.resolvePath()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if err := config.Validate(cfg).Err(); err != nil {
		return cfg, nil, err
	}

	args, err := config.BuildArgs(cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, args, nil
}

// deviceIndices lists the NPUs used by cfg: DeviceID followed by one more
// per extra tensor-parallel rank.
func deviceIndices(inf *config.InferenceConfig) []int {
	n := 1
	if inf.TensorParallelSize != nil && *inf.TensorParallelSize > 1 {
		n = *inf.TensorParallelSize
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = inf.DeviceID + i
	}
	return ids
}

// prepareLaunch runs the pre-flight checks and builds the launch spec.
func prepareLaunch(ctx context.Context, opts *ServeOptions, cfg *config.Config, args []string) (*launcher.Spec, error) {
	inf := cfg.Inference

	if opts.SkipDeviceCheck {
		logger.Warn("Skipping device check")
	} else {
		backend, err := device.ForName(inf.Device)
		if err != nil {
			return nil, err
		}
		probe, err := device.RequireAvailable(ctx, backend)
		if err != nil {
			return nil, err
		}
		if inf.DeviceID >= probe.Count {
			logger.Warn("device_id %d is outside the %d detected device(s)", inf.DeviceID, probe.Count)
		}
	}

	if opts.SkipModelCheck {
		logger.Warn("Skipping model directory check")
	} else {
		report, err := model.ValidatePath(cfg.Model.Path)
		if err != nil {
			return nil, err
		}
		if w := report.CheckContextLength(inf.MaxModelLen); w != "" {
			logger.Warn("%s", w)
		}
		if report.Architecture != "" || report.ModelType != "" {
			logger.Info("Model %s: architecture %s, type %s",
				cfg.ModelName(), orUnknown(report.Architecture), orUnknown(report.ModelType))
		}
	}

	env := ascend.NewEnvironment(nil).WithDeviceID(inf.DeviceID)

	return &launcher.Spec{
		Args:      args,
		Env:       env,
		ModelPath: cfg.Model.Path,
		Port:      cfg.Server.Port,
		DeviceIDs: deviceIndices(inf),
	}, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// runServe executes the serve command logic.
//
// Parameters:
//   - opts: Serve command options
//
// Returns:
//   - nil when the server exits cleanly or is interrupted
//   - error for configuration, pre-flight or server failures
func runServe(opts *ServeOptions) error {
	cfg, args, err := loadProfile(&opts.ProfileOptions)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, opts, cfg, args)
}

// serve runs the pre-flight checks and the server until it exits or ctx is
// cancelled. Cancellation at any point is a clean stop.
func serve(ctx context.Context, opts *ServeOptions, cfg *config.Config, args []string) error {
	spec, err := prepareLaunch(ctx, opts, cfg, args)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("Interrupted before the server started")
			return nil
		}
		return err
	}

	l, err := launcher.New(opts.Runtime, launcher.Options{
		Python: opts.Python,
		Image:  opts.Image,
	})
	if err != nil {
		return err
	}

	logger.Info("Starting %s on %s (runtime: %s)", cfg.ModelName(), cfg.Server.Address(), l.Name())
	logger.Info("Press Ctrl+C to stop")

	if err := l.Launch(ctx, spec); err != nil {
		if errors.Is(err, launcher.ErrInterrupted) {
			logger.Info("Server stopped by user")
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
