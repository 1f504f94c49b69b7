package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blesend/internal/device"
)

var propertyBits = []struct {
	ble  ble.Property
	prop device.Property
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropAuthenticatedSignedWrites},
	{ble.CharExtended, device.PropExtendedProperties},
}

// NewProperties converts ble.Property bit flags to device.Properties
func NewProperties(p ble.Property) device.Properties {
	var props device.Properties
	for _, b := range propertyBits {
		if p&b.ble != 0 {
			props |= device.Properties(b.prop)
		}
	}
	return props
}
