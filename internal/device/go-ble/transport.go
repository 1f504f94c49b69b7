package goble

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
)

// errUnsupportedPlatform is returned by DeviceFactory where go-ble has no backend
var errUnsupportedPlatform = errors.New("bluetooth is not supported on this platform")

// DeviceFactory opens the platform's BLE device. Overridden per OS and in tests.
var DeviceFactory = newPlatformDevice

// transport is what the radio needs from an opened BLE device
type transport interface {
	Scan(ctx context.Context, handler func(Advertisement)) error
	Dial(ctx context.Context, addr string) (gattClient, error)
	Stop() error
}

// gattClient is the subset of ble.Client used on a live connection
type gattClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

// disconnectNotifier is implemented by clients that signal link loss
type disconnectNotifier interface {
	Disconnected() <-chan struct{}
}

// mtuReporter is implemented by connections that know their negotiated ATT MTU
type mtuReporter interface {
	TxMTU() int
}

// bleTransport adapts a ble.Device
type bleTransport struct {
	dev ble.Device
}

func openTransport() (transport, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	return &bleTransport{dev: dev}, nil
}

func (t *bleTransport) Scan(ctx context.Context, handler func(Advertisement)) error {
	// duplicates are kept so every sighting refreshes liveness
	return t.dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
}

func (t *bleTransport) Dial(ctx context.Context, addr string) (gattClient, error) {
	client, err := t.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, err
	}
	return &bleClient{Client: client}, nil
}

func (t *bleTransport) Stop() error {
	return t.dev.Stop()
}

// bleClient exposes the negotiated MTU of a ble.Client
type bleClient struct {
	ble.Client
}

func (c *bleClient) TxMTU() int {
	conn := c.Client.Conn()
	if conn == nil {
		return 0
	}
	if m, ok := conn.(mtuReporter); ok {
		return m.TxMTU()
	}
	return 0
}
