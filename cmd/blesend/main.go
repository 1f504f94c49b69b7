package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Commands are built fresh per call so
// flag state never leaks between executions.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blesend",
		Short: "Send on/off commands to a BLE peripheral",
		Long: `Bluetooth Low Energy (BLE) central that provides:

- Scan and list nearby BLE peripherals
- Connect, discover services and pick the writable characteristic
- Send "N" (on) or "F" (off) with write acknowledgment
- An interactive console for connecting, sending and rescanning`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),

		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newConsoleCmd())

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
