package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blesend/controller"
	"github.com/srg/blesend/inspector"
	"github.com/srg/blesend/pkg/config"
	"github.com/srg/blesend/scanner"
	"github.com/srg/blesend/session"
)

type connectFlags struct {
	connectTimeout time.Duration
	scanTimeout    time.Duration
}

func (f *connectFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVarP(&f.connectTimeout, "timeout", "t", 0, "Connection timeout (default from config, 10s)")
	cmd.Flags().DurationVar(&f.scanTimeout, "scan-timeout", 0, "How long to wait for the device to advertise (default from config, 10s)")
}

// apply puts the flags that were set over the loaded configuration
func (f *connectFlags) apply(cfg *config.Config) {
	if f.connectTimeout > 0 {
		cfg.ConnectTimeout = f.connectTimeout
	}
	if f.scanTimeout > 0 {
		cfg.ScanDuration = f.scanTimeout
	}
}

func newSendCmd() *cobra.Command {
	flags := &connectFlags{}
	cmd := &cobra.Command{
		Use:   "send <device-address> <N|F>",
		Short: "Send an on/off command to a device",
		Long: `Waits for the device to advertise, connects, selects its writable
characteristic and writes "N" (on) or "F" (off) with acknowledgment.
The device is disconnected afterwards.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, flags, args[0], args[1])
		},
	}
	flags.register(cmd)
	return cmd
}

func runSend(cmd *cobra.Command, flags *connectFlags, address, text string) error {
	command, err := controller.ParseCommand(text)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	var sent session.Snapshot
	err = withConnectedDevice(cmd, flags, address, "Sending to", func(ctx context.Context, a *app, snap session.Snapshot) error {
		sent = snap
		return a.ctrl.SendAndConfirm(ctx, string(command))
	})
	if err != nil {
		return err
	}

	ok := color.New(color.FgGreen)
	if !isTerminal(cmd.OutOrStdout()) {
		ok.DisableColor()
	}
	ok.Fprintf(cmd.OutOrStdout(), "Sent %q to %s via %s\n", string(command), sent.Device, sent.Endpoint)
	return nil
}

// withConnectedDevice starts the stack, waits for address to advertise and
// runs fn against the Ready session. The device is disconnected afterwards.
func withConnectedDevice(cmd *cobra.Command, flags *connectFlags, address, verb string, fn func(context.Context, *app, session.Snapshot) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := startApp(ctx, cmd, flags.apply)
	if err != nil {
		return err
	}
	defer a.Close()

	progress := NewProgressPrinter(cmd.OutOrStdout(), fmt.Sprintf("%s %s", verb, address), "Waiting for device", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	s := scanner.NewScanner(a.ctrl, a.logger)
	discoverCtx, cancel := context.WithTimeout(ctx, a.cfg.ScanDuration)
	defer cancel()
	if err := s.AwaitAdapter(discoverCtx); err != nil {
		return err
	}
	if _, err := s.WaitForDevice(discoverCtx, address); err != nil {
		return err
	}

	_, err = inspector.InspectDevice(ctx, a.ctrl, address, nil, a.logger, progress.Callback(),
		func(snap session.Snapshot) (struct{}, error) {
			progress.Stop()
			return struct{}{}, fn(ctx, a, snap)
		})
	return err
}
