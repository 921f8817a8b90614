package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

// Mode is a thinking mode selecting one of the shipped profiles.
type Mode string

const (
	// ModeFast favours latency: short context, small batches.
	ModeFast Mode = "fast"

	// ModeSlow favours answer quality: long context, larger batches.
	ModeSlow Mode = "slow"
)

// ParseThinkingMode normalises a mode name.
//
// An empty name falls back to the THINKING_MODE environment variable and
// then to "fast". Names are trimmed and lower-cased; anything other than
// "fast" or "slow" logs a warning and resolves to "fast".
//
// Example:
//
//	config.ParseThinkingMode(" SLOW ") // ModeSlow
//	config.ParseThinkingMode("turbo")  // ModeFast, with a warning
func ParseThinkingMode(name string) Mode {
	if strings.TrimSpace(name) == "" {
		name = os.Getenv(EnvThinkingMode)
	}

	normalized := strings.ToLower(strings.TrimSpace(name))
	switch Mode(normalized) {
	case ModeFast, ModeSlow:
		return Mode(normalized)
	case "":
		return ModeFast
	default:
		logger.Warn("Invalid thinking mode: %s, defaulting to 'fast'", normalized)
		return ModeFast
	}
}

// ModeFromFlag resolves an explicitly passed mode name.
//
// Unlike ParseThinkingMode, a name other than "fast" or "slow" is rejected
// with an error wrapping ErrInvalidConfig. An empty name defers to
// ParseThinkingMode, so THINKING_MODE keeps its lenient fallback.
func ModeFromFlag(name string) (Mode, error) {
	if strings.TrimSpace(name) == "" {
		return ParseThinkingMode(""), nil
	}

	normalized := Mode(strings.ToLower(strings.TrimSpace(name)))
	switch normalized {
	case ModeFast, ModeSlow:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: invalid mode %q (choose from %s, %s)", ErrInvalidConfig, name, ModeFast, ModeSlow)
	}
}

// ProfileFileName returns the profile file name for a mode.
// Example: "fast_mode.yaml"
func ProfileFileName(mode Mode) string {
	return fmt.Sprintf("%s_mode.yaml", mode)
}

// DefaultConfigDir returns the directory searched for mode profiles.
//
// Priority:
//  1. XW_CONFIG_DIR environment variable
//  2. ./config, if it exists
//  3. <executable dir>/../config, if it exists
//  4. ./config
func DefaultConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}

	if info, err := os.Stat(DefaultConfigDirName); err == nil && info.IsDir() {
		return DefaultConfigDirName
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "..", DefaultConfigDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return filepath.Clean(candidate)
		}
	}

	return DefaultConfigDirName
}

// ResolveProfilePath returns the path of the profile for mode inside dir.
//
// Parameters:
//   - mode: Thinking mode selecting the profile
//   - dir: Profile directory (empty string uses DefaultConfigDir)
//
// Returns:
//   - Path to an existing profile file
//   - Error wrapping ErrInvalidConfig if the file does not exist
func ResolveProfilePath(mode Mode, dir string) (string, error) {
	if dir == "" {
		dir = DefaultConfigDir()
	}

	path := filepath.Join(dir, ProfileFileName(mode))
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: config file not found: %s", ErrInvalidConfig, path)
		}
		return "", fmt.Errorf("%w: cannot access config file %s: %v", ErrInvalidConfig, path, err)
	}

	return path, nil
}

// Load reads and decodes a YAML profile.
//
// Unknown keys are ignored. The result is not validated; call Validate
// before using it.
//
// Returns:
//   - Decoded configuration with Source set to path
//   - Error wrapping ErrInvalidConfig if the file cannot be read or parsed
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("Failed to load config from %s: %v", path, err)
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalidConfig, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		logger.Error("Failed to load config from %s: %v", path, err)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Source = path

	logger.Info("Successfully loaded config from %s", path)
	return cfg, nil
}

// Parse decodes a YAML profile from memory.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty configuration document", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

// joinHostPort formats host and port as host:port, bracketing IPv6 hosts.
func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
