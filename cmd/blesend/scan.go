package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blesend/scanner"
)

type scanFlags struct {
	duration  time.Duration
	format    string
	allowList []string
	blockList []string
}

func newScanCmd() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed in the order they were first seen, with their latest
signal strength and how many advertisements were received.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, flags)
		},
	}

	cmd.Flags().DurationVarP(&flags.duration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVar(&flags.allowList, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&flags.blockList, "block", nil, "Hide devices with these addresses")
	return cmd
}

func runScan(cmd *cobra.Command, flags *scanFlags) error {
	if flags.format != "table" && flags.format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", flags.format)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := startApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := &scanner.ScanOptions{
		Duration:  a.cfg.ScanDuration,
		AllowList: flags.allowList,
		BlockList: flags.blockList,
	}
	if flags.duration > 0 {
		opts.Duration = flags.duration
	}

	out := cmd.OutOrStdout()
	progress := NewCountdownProgressPrinter(out, "Scanning for BLE devices", "Waiting for adapter", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := scanner.NewScanner(a.ctrl, a.logger).Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil {
		a.logger.WithError(err).Error("scan failed")
		return err
	}

	if flags.format == "json" {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices)
}

func displayDevicesTable(out io.Writer, devices []scanner.DeviceInfo) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tADDRESS\tRSSI\tSEEN")
	for i, d := range devices {
		name := d.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d dBm\t%d\n", i+1, name, d.ID, d.RSSI, d.Sightings)
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []scanner.DeviceInfo) error {
	if devices == nil {
		devices = []scanner.DeviceInfo{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
