// Package device provides accelerator detection for the vLLM-Ascend launcher.
//
// Detection is expressed through the Backend interface: one implementation
// per target platform, each answering "is the device present, and how many
// are there". The launcher treats an absent device as a fatal startup error
// and never retries; hardware absence is not transient.
//
// Supported backends:
//   - Ascend NPU (device "npu"), detected via PCI sysfs with a /dev fallback
//   - Host CPU (device "cpu"), reported through gopsutil
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

var (
	// ErrUnavailable is returned when a backend finds no usable device.
	ErrUnavailable = errors.New("device not available")

	// ErrUnsupported is returned for device names without a backend.
	ErrUnsupported = errors.New("unsupported device")
)

// Info describes a single detected device.
type Info struct {
	// Index is the 0-based device index as seen by the runtime.
	Index int `json:"index"`

	// Name is the human-readable model name (e.g., "Ascend 910B").
	Name string `json:"name"`

	// Location is where the device was found: a PCI bus address or a
	// device node path.
	Location string `json:"location"`
}

// Probe is the result of a device availability query.
type Probe struct {
	// Backend is the name of the backend that produced the probe.
	Backend string `json:"backend"`

	// Available is true when at least one device is usable.
	Available bool `json:"available"`

	// Count is the number of detected devices.
	Count int `json:"count"`

	// Devices lists the detected devices.
	Devices []Info `json:"devices"`

	// Details carries backend-specific facts (memory, detection source).
	Details map[string]string `json:"details,omitempty"`
}

// Backend queries an accelerator runtime for device presence.
type Backend interface {
	// Name returns the backend identifier (e.g., "ascend").
	Name() string

	// Probe detects devices. A nil error with Available=false means the
	// query worked but found nothing.
	Probe(ctx context.Context) (*Probe, error)
}

// ForName returns the backend for an inference device name.
//
// Names are case-insensitive: "npu" and "ascend" select the Ascend backend,
// "cpu" the host backend.
func ForName(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "npu", "ascend":
		return NewAscendBackend(), nil
	case "cpu":
		return NewHostBackend(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
}

// RequireAvailable probes b and fails unless a device is present.
//
// Returns:
//   - The probe on success
//   - Error wrapping ErrUnavailable if the probe fails or finds nothing
func RequireAvailable(ctx context.Context, b Backend) (*Probe, error) {
	probe, err := b.Probe(ctx)
	if err != nil {
		logger.Error("Error checking %s availability: %v", b.Name(), err)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, b.Name(), err)
	}

	if !probe.Available || probe.Count == 0 {
		logger.Warn("%s device is not available", b.Name())
		return probe, fmt.Errorf("%w: no %s devices detected", ErrUnavailable, b.Name())
	}

	logger.Info("%s is available, device count: %d", b.Name(), probe.Count)
	return probe, nil
}
