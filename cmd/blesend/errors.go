package main

import (
	"errors"
	"fmt"

	"github.com/srg/blesend/internal/device"
)

// FormatUserError turns session errors into messages for people rather than logs
func FormatUserError(err error) string {
	var serr *device.SessionError
	if !errors.As(err, &serr) {
		return err.Error()
	}

	var hint string
	switch serr.Kind {
	case device.KindAdapterUnavailable:
		hint = "Bluetooth is not available. Check that it is turned on and that this program may use it."
	case device.KindUnknownDevice:
		hint = "Device was not found. Run 'blesend scan' to list nearby devices."
	case device.KindTimeout:
		hint = "Device did not respond in time. Move closer or check that it is advertising."
	case device.KindNoWritableEndpoint:
		hint = "Device exposes no writable characteristic."
	case device.KindInvalidCommand:
		hint = `Only "N" (on) and "F" (off) can be sent.`
	case device.KindPayloadTooLarge:
		hint = "Payload does not fit in a single write on this link."
	case device.KindLinkLost:
		hint = "Connection to the device was lost."
	default:
		return err.Error()
	}
	return fmt.Sprintf("%s (%v)", hint, err)
}
