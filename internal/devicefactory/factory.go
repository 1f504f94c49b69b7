package devicefactory

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
	goble "github.com/srg/blesend/internal/device/go-ble"
)

// Radio is a device.Radio that owns the local adapter
type Radio interface {
	device.Radio

	// Start opens the adapter and reports its state through the event handler
	Start(ctx context.Context) error
	Close() error
}

// RadioFactory creates the Radio used by commands.
// This is a variable so that it can be overridden in tests.
var RadioFactory = func(logger *logrus.Logger) Radio {
	return goble.NewRadio(logger)
}
