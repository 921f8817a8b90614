package config

import (
	"errors"
	"fmt"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

// MaxPort is the largest valid TCP port.
const MaxPort = 65535

// Check is the outcome of a single validation rule.
type Check struct {
	// Name identifies the checked field (e.g., "inference.max_model_len").
	Name string

	// Passed is true when the rule holds.
	Passed bool

	// Message is a human-readable diagnostic for failed checks.
	Message string
}

// ValidationResult collects the outcome of every check run by Validate.
type ValidationResult struct {
	Checks []Check
}

// Valid reports whether every check passed.
func (r *ValidationResult) Valid() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failures returns the failed checks in the order they ran.
func (r *ValidationResult) Failures() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Err returns nil if the configuration is valid, otherwise one error per
// failed check joined together. Every joined error wraps ErrInvalidConfig.
func (r *ValidationResult) Err() error {
	var errs []error
	for _, c := range r.Failures() {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalidConfig, c.Name, c.Message))
	}
	return errors.Join(errs...)
}

// validator accumulates checks and logs each one as it runs.
type validator struct {
	result ValidationResult
}

func (v *validator) check(name string, ok bool, format string, args ...interface{}) {
	c := Check{Name: name, Passed: ok}
	if ok {
		logger.Debug("Config check passed: %s", name)
	} else {
		c.Message = fmt.Sprintf(format, args...)
		logger.Error("Config check failed: %s: %s", name, c.Message)
	}
	v.result.Checks = append(v.result.Checks, c)
}

// Validate checks the presence and value-range constraints of a profile.
//
// Every applicable check runs, even after a failure, so the result lists all
// violated constraints at once. Field checks of a missing section are not
// run; the missing section itself is reported instead.
//
// Rules:
//   - model, inference, generation and server sections are present
//   - model.path is non-empty
//   - inference.device is non-empty
//   - inference.max_model_len > 0 and inference.max_num_seqs > 0
//   - inference.device_id >= 0
//   - inference.tensor_parallel_size > 0 when set
//   - inference.gpu_memory_utilization in (0, 1] when set
//   - server.host is non-empty and server.port is in (0, 65535]
//
// Validate never modifies cfg.
func Validate(cfg *Config) *ValidationResult {
	v := &validator{}

	if cfg == nil {
		v.check("config", false, "configuration is empty")
		return &v.result
	}

	v.check("model", cfg.Model != nil, "missing required config key: model")
	v.check("inference", cfg.Inference != nil, "missing required config key: inference")
	v.check("generation", cfg.Generation != nil, "missing required config key: generation")
	v.check("server", cfg.Server != nil, "missing required config key: server")

	if m := cfg.Model; m != nil {
		v.check("model.path", m.Path != "", "missing model path in config")
	}

	if inf := cfg.Inference; inf != nil {
		v.check("inference.device", inf.Device != "", "missing inference device")
		v.check("inference.max_model_len", inf.MaxModelLen > 0,
			"invalid max_model_len: %d (must be positive)", inf.MaxModelLen)
		v.check("inference.max_num_seqs", inf.MaxNumSeqs > 0,
			"invalid max_num_seqs: %d (must be positive)", inf.MaxNumSeqs)
		v.check("inference.device_id", inf.DeviceID >= 0,
			"invalid device_id: %d (must be non-negative)", inf.DeviceID)

		if tp := inf.TensorParallelSize; tp != nil {
			v.check("inference.tensor_parallel_size", *tp > 0,
				"invalid tensor_parallel_size: %d (must be positive)", *tp)
		}
		if mem := inf.GPUMemoryUtilization; mem != nil {
			v.check("inference.gpu_memory_utilization", *mem > 0 && *mem <= 1,
				"invalid gpu_memory_utilization: %g (must be in (0, 1])", *mem)
		}
	}

	if srv := cfg.Server; srv != nil {
		v.check("server.host", srv.Host != "", "missing server host")
		v.check("server.port", srv.Port > 0 && srv.Port <= MaxPort,
			"invalid server port: %d (must be between 1-%d)", srv.Port, MaxPort)
	}

	if v.result.Valid() {
		logger.Info("Configuration validation passed")
	} else {
		logger.Error("Configuration validation failed: %d of %d check(s) failed",
			len(v.result.Failures()), len(v.result.Checks))
	}

	return &v.result
}
