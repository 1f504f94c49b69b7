package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blesend/internal/device"
)

// Advertisement is the part of an advertising report the radio uses
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Connectable() bool
}

// BLEAdvertisement wraps ble.Advertisement
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement creates a new BLEAdvertisement wrapper
func NewBLEAdvertisement(adv ble.Advertisement) *BLEAdvertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *BLEAdvertisement) Connectable() bool { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a *BLEAdvertisement) Addr() string      { return a.adv.Addr().String() }

// Services returns the advertised service UUIDs in normalized form
func (a *BLEAdvertisement) Services() []string {
	bleServices := a.adv.Services()
	result := make([]string, len(bleServices))
	for i, svc := range bleServices {
		result[i] = device.NormalizeUUID(svc.String())
	}
	return result
}

// Peripheral is the handle the radio hands out for an advertising device
type Peripheral struct {
	addr string
}

// NewPeripheral creates a handle for the given address
func NewPeripheral(addr string) *Peripheral {
	return &Peripheral{addr: addr}
}

// ID returns the peripheral's address
func (p *Peripheral) ID() string { return p.addr }
