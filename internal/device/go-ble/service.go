package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blesend/internal/device"
)

// BLEService wraps a discovered ble.Service
type BLEService struct {
	uuid string
	svc  *ble.Service
}

// NewBLEService wraps svc
func NewBLEService(svc *ble.Service) *BLEService {
	return &BLEService{uuid: device.NormalizeUUID(svc.UUID.String()), svc: svc}
}

func (s *BLEService) UUID() string {
	return s.uuid
}

// BLECharacteristic wraps a discovered ble.Characteristic
type BLECharacteristic struct {
	uuid  string
	props device.Properties
	char  *ble.Characteristic
}

// NewBLECharacteristic wraps c
func NewBLECharacteristic(c *ble.Characteristic) *BLECharacteristic {
	return &BLECharacteristic{
		uuid:  device.NormalizeUUID(c.UUID.String()),
		props: NewProperties(c.Property),
		char:  c,
	}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) GetProperties() device.Properties {
	return c.props
}
