package goble

import (
	"errors"
	"strings"

	"github.com/srg/blesend/internal/device"
)

// errLinkDropped is reported when the peripheral goes away without being asked to
var errLinkDropped = errors.New("connection dropped by peripheral")

// NormalizeError maps known go-ble error strings to SessionError kinds.
// The original error stays reachable through Unwrap.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var serr *device.SessionError
	if errors.As(err, &serr) {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return device.NewError(device.KindAdapterUnavailable, err, "bluetooth is off")
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return device.NewError(device.KindAdapterUnavailable, err, "bluetooth is off")
	case containsIgnoreCase(msg, "device not connected"):
		return device.NewError(device.KindNotConnected, err, "")
	case containsIgnoreCase(msg, "disconnected"):
		return device.NewError(device.KindNotConnected, err, "")
	case containsIgnoreCase(msg, "device already connected"):
		return device.NewError(device.KindAlreadyConnected, err, "")
	default:
		return err
	}
}

// AdapterStateFor guesses the adapter state behind a failure to open the radio
func AdapterStateFor(err error) device.AdapterState {
	if err == nil {
		return device.AdapterPoweredOn
	}
	msg := err.Error()
	switch {
	case errors.Is(err, errUnsupportedPlatform), containsIgnoreCase(msg, "not implemented"):
		return device.AdapterUnsupported
	case containsIgnoreCase(msg, "not permitted"),
		containsIgnoreCase(msg, "permission denied"),
		containsIgnoreCase(msg, "unauthorized"):
		return device.AdapterUnauthorized
	case device.IsKind(NormalizeError(err), device.KindAdapterUnavailable),
		containsIgnoreCase(msg, "powered off"):
		return device.AdapterPoweredOff
	case containsIgnoreCase(msg, "no devices available"),
		containsIgnoreCase(msg, "not supported"):
		return device.AdapterUnsupported
	default:
		return device.AdapterUnknown
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
