package device

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPCIRoot is the sysfs directory listing PCI devices on Linux.
const DefaultPCIRoot = "/sys/bus/pci/devices"

// PCIDevice represents a PCI device with its identifiers
type PCIDevice struct {
	// VendorID is the PCI vendor ID (e.g., "0x19e5")
	VendorID string

	// DeviceID is the PCI device ID (e.g., "0xd802")
	DeviceID string

	// BusAddress is the PCI bus address (e.g., "0000:01:00.0")
	BusAddress string

	// Class is the PCI device class (optional)
	Class string
}

// ID returns the device as "vendor:device".
func (d PCIDevice) ID() string {
	return d.VendorID + ":" + d.DeviceID
}

// ScanPCIDevices reads PCI device information from a sysfs directory.
//
// Each entry under root is a device (usually a symlink) containing "vendor"
// and "device" files. Entries that cannot be read are skipped.
//
// Parameters:
//   - root: sysfs PCI directory (empty string uses DefaultPCIRoot)
//
// Returns:
//   - PCI devices sorted by bus address
//   - Error if root does not exist or cannot be listed
func ScanPCIDevices(root string) ([]PCIDevice, error) {
	if root == "" {
		root = DefaultPCIRoot
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("PCI devices path not found: %s", root)
		}
		return nil, fmt.Errorf("failed to read PCI devices: %w", err)
	}

	var devices []PCIDevice
	for _, entry := range entries {
		dev, err := readPCIDevice(filepath.Join(root, entry.Name()), entry.Name())
		if err != nil {
			continue
		}
		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].BusAddress < devices[j].BusAddress
	})

	return devices, nil
}

// readPCIDevice reads PCI device information from sysfs
func readPCIDevice(devicePath, busAddress string) (PCIDevice, error) {
	dev := PCIDevice{BusAddress: busAddress}

	vendorID, err := readPCIFile(filepath.Join(devicePath, "vendor"))
	if err != nil {
		return dev, err
	}
	dev.VendorID = strings.ToLower(vendorID)

	deviceID, err := readPCIFile(filepath.Join(devicePath, "device"))
	if err != nil {
		return dev, err
	}
	dev.DeviceID = strings.ToLower(deviceID)

	// optional
	if class, err := readPCIFile(filepath.Join(devicePath, "class")); err == nil {
		dev.Class = class
	}

	return dev, nil
}

// readPCIFile reads a single line from a PCI sysfs file
func readPCIFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ParseLspciOutput parses the output of `lspci -nn`.
//
// This is an alternative source for systems where sysfs access is restricted.
// Each line looks like:
//
//	01:00.0 Processing accelerators [1200]: Huawei Technologies Co., Ltd. Device [19e5:d802]
func ParseLspciOutput(output string) []PCIDevice {
	var devices []PCIDevice

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if dev := parseLspciLine(scanner.Text()); dev != nil {
			devices = append(devices, *dev)
		}
	}

	return devices
}

// parseLspciLine parses a single line from lspci -nn output
func parseLspciLine(line string) *PCIDevice {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}

	// the vendor:device pair is the last bracketed group on the line
	open := strings.LastIndex(line, "[")
	end := strings.LastIndex(line, "]")
	if open == -1 || end <= open {
		return nil
	}

	vendor, dev, ok := strings.Cut(line[open+1:end], ":")
	if !ok {
		return nil
	}

	return &PCIDevice{
		BusAddress: fields[0],
		VendorID:   "0x" + strings.ToLower(strings.TrimSpace(vendor)),
		DeviceID:   "0x" + strings.ToLower(strings.TrimSpace(dev)),
	}
}
