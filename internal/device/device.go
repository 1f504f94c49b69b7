package device

import (
	"fmt"
	"strings"
)

// UnknownName is shown for peripherals that advertise no local name
const UnknownName = "Unknown Device"

// Handle is the radio's live reference to a peripheral. The session core never
// looks inside a handle; it only passes it back to the Radio that produced it.
type Handle interface {
	// ID returns the stable identifier (hardware address or platform UUID)
	ID() string
}

// Device is the immutable identity of a discovered peripheral
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewDevice creates a Device, substituting UnknownName for an empty name.
func NewDevice(id, name string) Device {
	name = strings.TrimSpace(strings.TrimRight(name, "\x00"))
	if name == "" {
		name = UnknownName
	}
	return Device{ID: id, Name: name}
}

// IsZero reports whether d is the empty device
func (d Device) IsZero() bool {
	return d.ID == ""
}

func (d Device) String() string {
	if d.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.ID)
}

// Service represents a discovered GATT service
type Service interface {
	UUID() string
}

// Characteristic represents a discovered GATT characteristic
type Characteristic interface {
	UUID() string
	GetProperties() Properties
}

// Property is a single GATT characteristic property bit
type Property int

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

// Properties is the property bitmask of a characteristic
type Properties int

// Has reports whether p carries the given property
func (p Properties) Has(prop Property) bool {
	return int(p)&int(prop) != 0
}

// Writable reports whether the characteristic accepts writes of either kind
func (p Properties) Writable() bool {
	return p.Has(PropWrite) || p.Has(PropWriteWithoutResponse)
}

func (p Properties) String() string {
	names := []struct {
		prop Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
		{PropAuthenticatedSignedWrites, "signed-write"},
		{PropExtendedProperties, "extended"},
	}
	var parts []string
	for _, n := range names {
		if p.Has(n.prop) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Endpoint is the writable characteristic selected for the current session
type Endpoint struct {
	Service        Service
	Characteristic Characteristic
	MaxWriteSize   int // last value queried from the radio; 0 until the first send
}

// IsZero reports whether no endpoint has been selected
func (e Endpoint) IsZero() bool {
	return e.Characteristic == nil
}

func (e Endpoint) String() string {
	if e.IsZero() {
		return "<none>"
	}
	svc := ""
	if e.Service != nil {
		svc = e.Service.UUID()
	}
	return fmt.Sprintf("%s/%s", ShortenUUID(svc), ShortenUUID(e.Characteristic.UUID()))
}
