package device

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostBackend reports the host CPU as the inference device.
//
// It exists for "device: cpu" profiles and development machines without an
// NPU. The host is always available; Count is the number of logical CPUs.
type HostBackend struct {
	counts  func(ctx context.Context, logical bool) (int, error)
	virtual func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewHostBackend creates a backend backed by gopsutil.
func NewHostBackend() *HostBackend {
	return &HostBackend{
		counts:  cpu.CountsWithContext,
		virtual: mem.VirtualMemoryWithContext,
	}
}

// Name returns "cpu".
func (b *HostBackend) Name() string {
	return "cpu"
}

// Probe reports logical CPUs and total memory.
func (b *HostBackend) Probe(ctx context.Context) (*Probe, error) {
	cores, err := b.counts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count CPUs: %w", err)
	}

	probe := &Probe{
		Backend:   b.Name(),
		Available: cores > 0,
		Count:     cores,
		Details:   map[string]string{"source": "gopsutil"},
	}

	for i := 0; i < cores; i++ {
		probe.Devices = append(probe.Devices, Info{
			Index:    i,
			Name:     "CPU",
			Location: fmt.Sprintf("cpu%d", i),
		})
	}

	// memory is informational; a failure here does not make the host unusable
	if vm, err := b.virtual(ctx); err == nil {
		probe.Details["memory_total"] = fmt.Sprintf("%d", vm.Total)
		probe.Details["memory_available"] = fmt.Sprintf("%d", vm.Available)
	}

	return probe, nil
}
