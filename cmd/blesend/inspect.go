package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/session"
)

// endpointReport is what inspect prints about a connected device
type endpointReport struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Service        string `json:"service"`
	Characteristic string `json:"characteristic"`
	Properties     string `json:"properties"`
}

func newInspectCmd() *cobra.Command {
	flags := &connectFlags{}
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <device-address>",
		Short: "Show the characteristic commands would be written to",
		Long: `Connects to a BLE device by address, discovers its services and
characteristics, and reports the writable characteristic selected for
sending. The last writable characteristic discovered is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var report endpointReport
			err := withConnectedDevice(cmd, flags, args[0], "Inspecting", func(_ context.Context, _ *app, snap session.Snapshot) error {
				report = newEndpointReport(snap)
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(report)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Device:\t%s (%s)\n", report.Name, report.ID)
			fmt.Fprintf(w, "Service:\t%s\n", report.Service)
			fmt.Fprintf(w, "Characteristic:\t%s (%s)\n", report.Characteristic, report.Properties)
			return w.Flush()
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newEndpointReport(snap session.Snapshot) endpointReport {
	r := endpointReport{ID: snap.Device.ID, Name: snap.Device.Name}
	if snap.Endpoint.Service != nil {
		r.Service = device.ShortenUUID(snap.Endpoint.Service.UUID())
	}
	if c := snap.Endpoint.Characteristic; c != nil {
		r.Characteristic = device.ShortenUUID(c.UUID())
		r.Properties = c.GetProperties().String()
	}
	return r
}
