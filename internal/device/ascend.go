package device

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

const (
	// HuaweiVendorID is the PCI vendor ID of Huawei Technologies.
	HuaweiVendorID = "0x19e5"

	// DefaultDevRoot holds the davinci device nodes created by the NPU driver.
	DefaultDevRoot = "/dev"
)

// ascendChips maps Ascend PCI device IDs to model names.
var ascendChips = map[string]string{
	"0xd100": "Ascend 310",
	"0xd500": "Ascend 310P",
	"0xd801": "Ascend 910",
	"0xd802": "Ascend 910B",
}

// AscendChipName returns the model name of a Huawei Ascend PCI device.
func AscendChipName(dev PCIDevice) (string, bool) {
	if dev.VendorID != HuaweiVendorID {
		return "", false
	}
	name, ok := ascendChips[dev.DeviceID]
	return name, ok
}

// davinciNode matches per-device nodes (davinci0, davinci1, ...) and not
// davinci_manager.
var davinciNode = regexp.MustCompile(`^davinci(\d+)$`)

// AscendBackend detects Huawei Ascend NPUs.
//
// Detection order:
//  1. PCI sysfs scan for Huawei vendor ID with a known Ascend device ID
//  2. `lspci -nn`, when sysfs cannot be read
//  3. /dev/davinci[N] device nodes, when the PCI scan finds nothing
//
// Both roots and the lspci runner are configurable so detection can run
// against fixtures.
type AscendBackend struct {
	// PCIRoot is the sysfs PCI device directory.
	PCIRoot string

	// DevRoot is the directory holding davinci device nodes.
	DevRoot string

	// Lspci returns the output of `lspci -nn`. Nil disables the fallback.
	Lspci func(ctx context.Context) (string, error)
}

// NewAscendBackend creates a backend reading the standard system paths.
func NewAscendBackend() *AscendBackend {
	return &AscendBackend{
		PCIRoot: DefaultPCIRoot,
		DevRoot: DefaultDevRoot,
		Lspci:   runLspci,
	}
}

func runLspci(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "lspci", "-nn").Output()
	if err != nil {
		return "", fmt.Errorf("lspci failed: %w", err)
	}
	return string(out), nil
}

// ScanPCI lists PCI devices from sysfs, falling back to lspci when sysfs
// cannot be read. It returns the source used ("pci" or "lspci").
func (b *AscendBackend) ScanPCI(ctx context.Context) ([]PCIDevice, string, error) {
	devices, err := ScanPCIDevices(b.PCIRoot)
	if err == nil {
		return devices, "pci", nil
	}
	logger.Debug("PCI sysfs scan unavailable: %v", err)

	if b.Lspci == nil {
		return nil, "", err
	}
	out, lspciErr := b.Lspci(ctx)
	if lspciErr != nil {
		return nil, "", fmt.Errorf("%v; %w", err, lspciErr)
	}
	return ParseLspciOutput(out), "lspci", nil
}

// Name returns "ascend".
func (b *AscendBackend) Name() string {
	return "ascend"
}

// Probe detects Ascend NPUs.
func (b *AscendBackend) Probe(ctx context.Context) (*Probe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probe := &Probe{Backend: b.Name(), Details: map[string]string{}}

	pciDevices, source, pciErr := b.ScanPCI(ctx)
	if pciErr != nil {
		logger.Debug("PCI scan unavailable: %v", pciErr)
	}

	for _, dev := range pciDevices {
		name, ok := AscendChipName(dev)
		if !ok {
			continue
		}
		probe.Devices = append(probe.Devices, Info{
			Index:    len(probe.Devices),
			Name:     name,
			Location: dev.BusAddress,
		})
	}

	if len(probe.Devices) > 0 {
		probe.Details["source"] = source
	} else {
		nodes, err := b.davinciNodes()
		if err != nil {
			if pciErr != nil {
				return nil, fmt.Errorf("no detection source available: %v; %v", pciErr, err)
			}
			return nil, err
		}
		probe.Devices = nodes
		if len(nodes) > 0 {
			probe.Details["source"] = "devfs"
		}
	}

	probe.Count = len(probe.Devices)
	probe.Available = probe.Count > 0

	logger.Debug("Ascend probe: %d device(s), source=%s", probe.Count, probe.Details["source"])
	return probe, nil
}

// davinciNodes lists /dev/davinci[N] nodes sorted by index.
func (b *AscendBackend) davinciNodes() ([]Info, error) {
	root := b.DevRoot
	if root == "" {
		root = DefaultDevRoot
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var nodes []Info
	for _, entry := range entries {
		m := davinciNode.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nodes = append(nodes, Info{
			Index:    idx,
			Name:     "Ascend NPU",
			Location: filepath.Join(root, entry.Name()),
		})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Index < nodes[j].Index })
	return nodes, nil
}
