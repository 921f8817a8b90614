package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingmao/xw-vllm/internal/logger"
)

// addPCIDevice creates a fake sysfs PCI entry.
func addPCIDevice(t *testing.T, root, addr, vendor, dev string) {
	t.Helper()
	dir := filepath.Join(root, addr)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor"), []byte(vendor+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "device"), []byte(dev+"\n"), 0o644))
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestScanPCIDevices(t *testing.T) {
	root := t.TempDir()
	addPCIDevice(t, root, "0000:82:00.0", "0x19E5", "0xD802")
	addPCIDevice(t, root, "0000:01:00.0", "0x8086", "0x1234")
	// unreadable entry is skipped
	require.NoError(t, os.MkdirAll(filepath.Join(root, "0000:ff:00.0"), 0o755))

	devices, err := ScanPCIDevices(root)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "0000:01:00.0", devices[0].BusAddress)
	assert.Equal(t, "0x19e5:0xd802", devices[1].ID())
}

func TestScanPCIDevicesMissingRoot(t *testing.T) {
	_, err := ScanPCIDevices(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestParseLspciOutput(t *testing.T) {
	out := "82:00.0 Processing accelerators [1200]: Huawei Technologies Co., Ltd. Device [19e5:d802] (rev 20)\n" +
		"garbage\n" +
		"00:1f.2 SATA controller [0106]: Intel Corporation [8086:A102]\n"

	devices := ParseLspciOutput(out)
	require.Len(t, devices, 2)
	assert.Equal(t, PCIDevice{BusAddress: "82:00.0", VendorID: "0x19e5", DeviceID: "0xd802"}, devices[0])
	assert.Equal(t, "0x8086:0xa102", devices[1].ID())
}

func TestAscendBackendPCI(t *testing.T) {
	logger.UseTestLogger(t)

	pci := t.TempDir()
	addPCIDevice(t, pci, "0000:c1:00.0", "0x19e5", "0xd802")
	addPCIDevice(t, pci, "0000:c2:00.0", "0x19e5", "0xd802")
	addPCIDevice(t, pci, "0000:c3:00.0", "0x19e5", "0x0001") // Huawei, not an NPU

	b := &AscendBackend{PCIRoot: pci, DevRoot: t.TempDir()}
	probe, err := b.Probe(context.Background())
	require.NoError(t, err)

	assert.True(t, probe.Available)
	assert.Equal(t, 2, probe.Count)
	assert.Equal(t, "Ascend 910B", probe.Devices[0].Name)
	assert.Equal(t, 1, probe.Devices[1].Index)
	assert.Equal(t, "pci", probe.Details["source"])
}

func TestAscendBackendDevfsFallback(t *testing.T) {
	logger.UseTestLogger(t)

	dev := t.TempDir()
	touch(t, filepath.Join(dev, "davinci1"))
	touch(t, filepath.Join(dev, "davinci0"))
	touch(t, filepath.Join(dev, "davinci_manager"))

	b := &AscendBackend{PCIRoot: filepath.Join(t.TempDir(), "none"), DevRoot: dev}
	probe, err := b.Probe(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, probe.Count)
	assert.Equal(t, 0, probe.Devices[0].Index)
	assert.Equal(t, filepath.Join(dev, "davinci1"), probe.Devices[1].Location)
	assert.Equal(t, "devfs", probe.Details["source"])
}

func TestAscendBackendNothingFound(t *testing.T) {
	logger.UseTestLogger(t)

	b := &AscendBackend{PCIRoot: t.TempDir(), DevRoot: t.TempDir()}
	probe, err := b.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, probe.Available)

	_, err = RequireAvailable(context.Background(), b)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAscendBackendNoSources(t *testing.T) {
	logger.UseTestLogger(t)

	missing := filepath.Join(t.TempDir(), "missing")
	b := &AscendBackend{PCIRoot: missing, DevRoot: missing}

	_, err := b.Probe(context.Background())
	require.Error(t, err)

	_, err = RequireAvailable(context.Background(), b)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAscendBackendLspciFallback(t *testing.T) {
	logger.UseTestLogger(t)

	var calls int
	b := &AscendBackend{
		PCIRoot: filepath.Join(t.TempDir(), "restricted"),
		DevRoot: t.TempDir(),
		Lspci: func(context.Context) (string, error) {
			calls++
			return "c1:00.0 Processing accelerators [1200]: Huawei Technologies Co., Ltd. Device [19e5:d500]\n" +
				"00:1f.2 SATA controller [0106]: Intel Corporation [8086:a102]\n", nil
		},
	}

	probe, err := b.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.Equal(t, 1, probe.Count)
	assert.Equal(t, "Ascend 310P", probe.Devices[0].Name)
	assert.Equal(t, "c1:00.0", probe.Devices[0].Location)
	assert.Equal(t, "lspci", probe.Details["source"])
}

func TestAscendBackendLspciOnlyWhenSysfsFails(t *testing.T) {
	logger.UseTestLogger(t)

	pci := t.TempDir()
	addPCIDevice(t, pci, "0000:c1:00.0", "0x19e5", "0xd802")

	b := &AscendBackend{
		PCIRoot: pci,
		DevRoot: t.TempDir(),
		Lspci: func(context.Context) (string, error) {
			t.Fatal("lspci must not run when sysfs is readable")
			return "", nil
		},
	}
	devices, source, err := b.ScanPCI(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Equal(t, "pci", source)
}

func TestAscendBackendLspciFailsToo(t *testing.T) {
	logger.UseTestLogger(t)

	dev := t.TempDir()
	touch(t, filepath.Join(dev, "davinci0"))

	b := &AscendBackend{
		PCIRoot: filepath.Join(t.TempDir(), "restricted"),
		DevRoot: dev,
		Lspci: func(context.Context) (string, error) {
			return "", errors.New("lspci: not found")
		},
	}

	_, _, err := b.ScanPCI(context.Background())
	assert.ErrorContains(t, err, "lspci: not found")

	probe, err := b.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, probe.Count)
	assert.Equal(t, "devfs", probe.Details["source"])
}

func TestHostBackend(t *testing.T) {
	logger.UseTestLogger(t)

	b := &HostBackend{
		counts: func(context.Context, bool) (int, error) { return 4, nil },
		virtual: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Total: 1024, Available: 512}, nil
		},
	}

	probe, err := RequireAvailable(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 4, probe.Count)
	assert.Len(t, probe.Devices, 4)
	assert.Equal(t, "1024", probe.Details["memory_total"])
}

func TestHostBackendCountError(t *testing.T) {
	logger.UseTestLogger(t)

	b := &HostBackend{
		counts:  func(context.Context, bool) (int, error) { return 0, errors.New("no procfs") },
		virtual: mem.VirtualMemoryWithContext,
	}

	_, err := RequireAvailable(context.Background(), b)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestForName(t *testing.T) {
	for _, name := range []string{"npu", "NPU", "ascend"} {
		b, err := ForName(name)
		require.NoError(t, err)
		assert.Equal(t, "ascend", b.Name())
	}

	b, err := ForName("cpu")
	require.NoError(t, err)
	assert.Equal(t, "cpu", b.Name())

	_, err = ForName("cuda")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestAscendChipName(t *testing.T) {
	name, ok := AscendChipName(PCIDevice{VendorID: HuaweiVendorID, DeviceID: "0xd500"})
	assert.True(t, ok)
	assert.Equal(t, "Ascend 310P", name)

	_, ok = AscendChipName(PCIDevice{VendorID: HuaweiVendorID, DeviceID: "0x1234"})
	assert.False(t, ok)

	_, ok = AscendChipName(PCIDevice{VendorID: "0x8086", DeviceID: "0xd802"})
	assert.False(t, ok)
}
