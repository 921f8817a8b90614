// Package config provides configuration management for xw-vllm.
//
// This package handles the deployment profile that drives the vLLM-Ascend
// server launch:
//   - Configuration types mirroring the YAML profile layout
//   - Profile resolution for the "fast" and "slow" thinking modes
//   - Validation of required fields and value ranges
//   - Translation into the command-line flags of the vLLM API server
//
// A Config is read once at process start, validated, translated into an
// argument list and then discarded. Nothing in this package writes to a
// Config after it has been loaded.
package config

import "errors"

const (
	// DefaultHost is the server host used by the shipped profiles.
	DefaultHost = "0.0.0.0"

	// DefaultPort is the server port used by the shipped profiles.
	DefaultPort = 8000

	// DefaultDevice is the inference device name understood by vLLM-Ascend.
	DefaultDevice = "npu"

	// EnvThinkingMode selects the profile when --mode is not given.
	EnvThinkingMode = "THINKING_MODE"

	// EnvConfigDir overrides the directory holding the mode profiles.
	EnvConfigDir = "XW_CONFIG_DIR"

	// DefaultConfigDirName is the profile directory name, relative to the
	// working directory or to the parent of the executable directory.
	DefaultConfigDirName = "config"
)

// ErrInvalidConfig is wrapped by every configuration error: unreadable or
// unparsable files, missing profiles and failed validation checks.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents a complete deployment profile.
//
// The four sections are pointers (or a map for Generation) so that a section
// absent from the YAML document can be told apart from one that is present
// with zero values. A section whose YAML value is null also decodes to nil
// and is treated as missing.
type Config struct {
	// Model describes the model weights to serve.
	Model *ModelConfig `yaml:"model"`

	// Inference holds vLLM engine settings.
	Inference *InferenceConfig `yaml:"inference"`

	// Generation holds generation defaults. The map is opaque to xw-vllm and
	// is passed through to the server unchanged.
	Generation map[string]interface{} `yaml:"generation"`

	// Server holds the API server listen address.
	Server *ServerConfig `yaml:"server"`

	// Source is the file this configuration was loaded from (empty when the
	// configuration was built in code).
	Source string `yaml:"-"`
}

// ModelConfig describes the model to load.
type ModelConfig struct {
	// Path is the directory containing weight files and tokenizer metadata.
	// Example: "/models/qwen3-0.6b"
	Path string `yaml:"path"`

	// Name is a human-readable model name used in log output.
	Name string `yaml:"name"`

	// Dtype is the optional weight data type (e.g., "float16", "bfloat16").
	Dtype string `yaml:"dtype,omitempty"`
}

// InferenceConfig holds engine settings passed to vLLM.
type InferenceConfig struct {
	// Device is the vLLM device name, "npu" for Ascend.
	Device string `yaml:"device"`

	// MaxModelLen is the maximum sequence length. Must be positive.
	MaxModelLen int `yaml:"max_model_len"`

	// MaxNumSeqs is the maximum number of concurrent sequences. Must be positive.
	MaxNumSeqs int `yaml:"max_num_seqs"`

	// DeviceID is the NPU index exported as ASCEND_DEVICE_ID.
	DeviceID int `yaml:"device_id"`

	// GPUMemoryUtilization is the fraction of device memory vLLM may use.
	GPUMemoryUtilization *float64 `yaml:"gpu_memory_utilization,omitempty"`

	// TensorParallelSize is the tensor parallel degree.
	TensorParallelSize *int `yaml:"tensor_parallel_size,omitempty"`

	// EnablePrefixCaching turns on automatic prefix caching.
	EnablePrefixCaching bool `yaml:"enable_prefix_caching,omitempty"`

	// DisableLogRequests silences per-request logging in the server.
	DisableLogRequests bool `yaml:"disable_log_requests,omitempty"`
}

// ServerConfig is the API server listen address.
type ServerConfig struct {
	// Host is the listen address (e.g., "0.0.0.0", "127.0.0.1").
	Host string `yaml:"host"`

	// Port is the TCP listen port, in (0, 65535].
	Port int `yaml:"port"`
}

// Address returns the base URL clients use to reach the configured server.
// A wildcard host is reported as localhost.
func (s *ServerConfig) Address() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + joinHostPort(host, s.Port)
}

// ModelName returns the configured model name, falling back to the path.
func (c *Config) ModelName() string {
	if c.Model == nil {
		return ""
	}
	if c.Model.Name != "" {
		return c.Model.Name
	}
	return c.Model.Path
}
