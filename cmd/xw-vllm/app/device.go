package app

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xw-vllm/internal/config"
	"github.com/tsingmao/xw-vllm/internal/device"
	"github.com/tsingmao/xw-vllm/internal/logger"
)

// NewDeviceCommand creates the device command for hardware detection
//
// Usage:
//
//	xw-vllm device list [--device npu|cpu]   # Probe a backend
//	xw-vllm device scan [--all]              # Scan PCI devices
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for device operations
func NewDeviceCommand(globalOpts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Accelerator device detection",
		Long: `Detect the accelerator devices the server can run on.

"list" runs the same probe as serve; "scan" shows the raw PCI inventory.`,
		Example: `  # List Ascend NPUs
  xw-vllm device list

  # Show the host CPU backend
  xw-vllm device list --device cpu

  # Scan all PCI devices
  xw-vllm device scan --all`,
	}

	cmd.AddCommand(
		newDeviceListCommand(globalOpts),
		newDeviceScanCommand(globalOpts),
	)

	return cmd
}

// newDeviceListCommand creates the 'device list' subcommand
func newDeviceListCommand(globalOpts *GlobalOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List detected devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := device.ForName(name)
			if err != nil {
				return err
			}
			probe, err := backend.Probe(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to detect %s devices: %w", backend.Name(), err)
			}
			printProbe(cmd.OutOrStdout(), probe)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "device", "d", config.DefaultDevice,
		"inference device: npu or cpu")

	return cmd
}

// printProbe renders a probe as a table followed by its details.
func printProbe(out io.Writer, probe *device.Probe) {
	if !probe.Available {
		fmt.Fprintf(out, "No %s devices detected on this system.\n", probe.Backend)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tLOCATION")
	fmt.Fprintln(w, "-----\t----\t--------")
	for _, d := range probe.Devices {
		fmt.Fprintf(w, "%d\t%s\t%s\n", d.Index, d.Name, d.Location)
	}
	w.Flush()

	keys := make([]string, 0, len(probe.Details))
	for k := range probe.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintln(out)
	}
	for _, k := range keys {
		fmt.Fprintf(out, "%s: %s\n", k, probe.Details[k])
	}

	fmt.Fprintf(out, "\nTotal: %d %s device(s) detected\n", probe.Count, probe.Backend)
}

// newDeviceScanCommand creates the 'device scan' subcommand
func newDeviceScanCommand(globalOpts *GlobalOptions) *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan PCI devices",
		Long:  `Scan all PCI devices on the system and mark the Ascend NPUs.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, source, err := device.NewAscendBackend().ScanPCI(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to scan PCI devices: %w", err)
			}
			logger.Debug("PCI inventory read from %s", source)
			printPCIDevices(cmd.OutOrStdout(), devices, showAll)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false,
		"show all PCI devices, not just Ascend NPUs")

	return cmd
}

func printPCIDevices(out io.Writer, devices []device.PCIDevice, showAll bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PCI ADDRESS\tVENDOR:DEVICE\tCHIP")
	fmt.Fprintln(w, "-----------\t-------------\t----")

	npus := 0
	for _, dev := range devices {
		chip, ok := device.AscendChipName(dev)
		if !ok && !showAll {
			continue
		}
		if ok {
			npus++
		} else {
			chip = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", dev.BusAddress, dev.ID(), chip)
	}
	w.Flush()

	if showAll {
		fmt.Fprintf(out, "\nTotal: %d PCI device(s), %d Ascend NPU(s)\n", len(devices), npus)
	} else {
		fmt.Fprintf(out, "\nTotal: %d Ascend NPU(s) found\n", npus)
	}
}
