package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blesend/controller"
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/groutine"
	"github.com/srg/blesend/session"
)

const consoleHelp = `Commands:
  list                 list discovered devices
  connect <n|address>  connect to a device, or disconnect if it is the connected one
  disconnect           disconnect the current device
  send <N|F>           send on (N) or off (F) to the connected device
  rescan               clear the list and scan again
  status               show adapter and session state
  help                 show this help
  quit                 leave the console`

var errMissingArgument = errors.New("missing argument")

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive console for connecting and sending",
		Long: `Starts scanning and reads commands from standard input.
Session changes (connection progress, failures, write acknowledgments)
are printed as they happen. Type 'help' for the list of commands.`,
		Args: cobra.NoArgs,
		RunE: runConsole,
	}
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := startApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	in := cmd.InOrStdin()
	f, isFile := in.(*os.File)
	interactive := isFile && isTerminal(f) && isTerminal(cmd.OutOrStdout())

	c := newConsole(a.ctrl, cmd.OutOrStdout(), interactive)

	sub := a.ctrl.Notifications()
	defer a.ctrl.StopNotifications(sub)
	groutine.Go(ctx, "console-notifications", func(ctx context.Context) {
		c.watch(ctx, sub)
	})

	return c.run(ctx, in)
}

// console executes line commands against a controller
type console struct {
	ctrl   *controller.Controller
	prompt bool

	mu  sync.Mutex
	out io.Writer

	connected  *color.Color
	connecting *color.Color
	failure    *color.Color
}

func newConsole(ctrl *controller.Controller, out io.Writer, interactive bool) *console {
	c := &console{
		ctrl:       ctrl,
		out:        out,
		prompt:     interactive,
		connected:  color.New(color.FgGreen),
		connecting: color.New(color.FgYellow),
		failure:    color.New(color.FgRed),
	}
	if !interactive {
		c.connected.DisableColor()
		c.connecting.DisableColor()
		c.failure.DisableColor()
	}
	return c
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run reads commands from in until quit, EOF or ctx ends
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	groutine.Go(ctx, "console-reader", func(ctx context.Context) {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	})

	for {
		if c.prompt {
			c.printf("> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			quit, err := c.exec(line)
			if err != nil {
				c.printf("%s\n", c.failure.Sprintf("error: %s", FormatUserError(err)))
			}
			if quit {
				return nil
			}
		}
	}
}

// exec runs one command line; quit is true when the console should exit
func (c *console) exec(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := func() (string, error) {
		if len(fields) < 2 {
			return "", fmt.Errorf("%w: usage is '%s <value>'", errMissingArgument, fields[0])
		}
		return fields[1], nil
	}

	switch strings.ToLower(fields[0]) {
	case "help", "?":
		c.printf("%s\n", consoleHelp)
	case "list", "ls":
		c.list()
	case "connect", "c":
		target, err := arg()
		if err != nil {
			return false, err
		}
		id, err := c.resolve(target)
		if err != nil {
			return false, err
		}
		return false, c.ctrl.RequestToggle(id)
	case "disconnect", "d":
		return false, c.ctrl.RequestDisconnect()
	case "send", "s":
		text, err := arg()
		if err != nil {
			return false, err
		}
		return false, c.ctrl.RequestSend(text)
	case "rescan", "r":
		return false, c.ctrl.RequestScan()
	case "status":
		c.status()
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type 'help' for a list", fields[0])
	}
	return false, nil
}

// resolve maps a list number or an address to a device address
func (c *console) resolve(target string) (string, error) {
	devices := c.ctrl.Devices()
	if n, err := strconv.Atoi(target); err == nil {
		if n < 1 || n > len(devices) {
			return "", device.NewError(device.KindUnknownDevice, nil, "no device number %d", n)
		}
		return devices[n-1].ID, nil
	}
	for _, d := range devices {
		if strings.EqualFold(d.ID, target) {
			return d.ID, nil
		}
	}
	return target, nil
}

func (c *console) list() {
	devices := c.ctrl.Devices()
	if len(devices) == 0 {
		c.printf("No devices discovered\n")
		return
	}

	var b strings.Builder
	for i, d := range devices {
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, d.Name, d.ID)
		if live, ok := c.ctrl.Liveness(d.ID); ok {
			fmt.Fprintf(&b, " %d dBm", live.RSSI)
		}
		switch label := c.ctrl.Status(d.ID); label {
		case controller.StatusConnected:
			fmt.Fprintf(&b, "  %s", c.connected.Sprint(label))
		case "":
		default:
			fmt.Fprintf(&b, "  %s", c.connecting.Sprint(label))
		}
		b.WriteString("\n")
	}
	c.printf("%s", b.String())
}

func (c *console) status() {
	snap := c.ctrl.Snapshot()

	adapter := snap.Adapter.String()
	if snap.Scanning {
		adapter += " (scanning)"
	}
	c.printf("Adapter: %s\n", adapter)

	switch snap.State {
	case session.Idle:
		c.printf("Session: idle\n")
	case session.Ready:
		c.printf("Session: ready, %s via %s\n", snap.Device, snap.Endpoint)
	default:
		c.printf("Session: %s, %s\n", snap.State, snap.Device)
	}
	if snap.LastFailure != nil {
		c.printf("Last failure: %s\n", FormatUserError(snap.LastFailure))
	}
}

// watch prints session notifications until sub closes or ctx ends
func (c *console) watch(ctx context.Context, sub session.Subscription) {
	for {
		select {
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			if msg := c.describe(n); msg != "" {
				c.printf("%s\n", msg)
			}
		case <-ctx.Done():
			return
		}
	}
}

// describe renders a notification as a console line, or "" to skip it
func (c *console) describe(n session.Notification) string {
	switch n.Kind {
	case session.KindAdapter:
		if n.Err != nil {
			return c.failure.Sprintf("Bluetooth adapter: %s (%s)", n.Adapter, n.Err)
		}
		return fmt.Sprintf("Bluetooth adapter: %s", n.Adapter)
	case session.KindWrite:
		if n.Err != nil {
			return c.failure.Sprintf("Write to %s failed: %s", n.Device, FormatUserError(n.Err))
		}
		return c.connected.Sprintf("%s acknowledged the write", n.Device)
	case session.KindState:
		switch n.State {
		case session.Connecting:
			return c.connecting.Sprintf("Connecting to %s...", n.Device)
		case session.Ready:
			return c.connected.Sprintf("Connected to %s via %s", n.Device, n.Endpoint)
		case session.Failed:
			return c.failure.Sprintf("Connection to %s failed: %s", n.Device, FormatUserError(n.Err))
		case session.Idle:
			if n.Device.IsZero() {
				return ""
			}
			return fmt.Sprintf("Disconnected from %s", n.Device)
		}
	}
	return ""
}
