// Package device defines the Bluetooth Low Energy domain model shared by the
// session core and the radio bindings.
//
// This package contains:
//   - Peripheral identity (Device, Handle) as reported by scanning
//   - GATT tree elements (Service, Characteristic) and the writable Endpoint
//   - The Radio capability interface and the tagged Event it reports through
//   - The session error taxonomy (SessionError and its sentinels)
//
// Nothing in this package talks to hardware; see the go-ble subpackage for
// the production Radio.
package device
