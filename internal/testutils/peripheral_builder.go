package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/blesend/internal/device"
)

// Handle is the fake radio's device handle
type Handle string

func (h Handle) ID() string { return string(h) }

// FakeService is a GATT service served by the fake radio
type FakeService struct {
	ServiceUUID     string
	Characteristics []*FakeCharacteristic
}

func (s *FakeService) UUID() string { return s.ServiceUUID }

// FakeCharacteristic is a GATT characteristic served by the fake radio
type FakeCharacteristic struct {
	CharUUID   string
	Properties device.Properties
}

func (c *FakeCharacteristic) UUID() string                     { return c.CharUUID }
func (c *FakeCharacteristic) GetProperties() device.Properties { return c.Properties }

// Peripheral is a fake remote device: its advertisement and GATT profile
type Peripheral struct {
	ID       string
	Name     string
	RSSI     int
	Services []*FakeService
}

// Handle returns the handle the fake radio reports for p
func (p *Peripheral) Handle() Handle {
	return Handle(p.ID)
}

// Characteristic finds a characteristic by UUID across all services
func (p *Peripheral) Characteristic(uuid string) *FakeCharacteristic {
	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			if c.CharUUID == uuid {
				return c
			}
		}
	}
	return nil
}

// CharacteristicConfig represents a characteristic in a JSON profile
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
}

// ServiceConfig represents a service in a JSON profile
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig represents a complete fake peripheral in JSON
type PeripheralConfig struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	RSSI     int             `json:"rssi,omitempty"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds fake peripherals with a fluent API
type PeripheralBuilder struct {
	config PeripheralConfig
}

// NewPeripheralBuilder creates a builder for the peripheral with the given identifier
func NewPeripheralBuilder(id string) *PeripheralBuilder {
	return &PeripheralBuilder{config: PeripheralConfig{ID: id, RSSI: -50}}
}

// WithName sets the advertised name
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.config.Name = name
	return b
}

// WithRSSI sets the advertised signal strength
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.config.RSSI = rssi
	return b
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string) *PeripheralBuilder {
	if len(b.config.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.config.Services) - 1
	b.config.Services[last].Characteristics = append(b.config.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON replaces the configuration with a JSON profile
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.ID == "" {
		config.ID = b.config.ID
	}
	b.config = config
	return b
}

// Build creates the peripheral
func (b *PeripheralBuilder) Build() *Peripheral {
	p := &Peripheral{ID: b.config.ID, Name: b.config.Name, RSSI: b.config.RSSI}
	for _, sc := range b.config.Services {
		svc := &FakeService{ServiceUUID: device.NormalizeUUID(sc.UUID)}
		for _, cc := range sc.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &FakeCharacteristic{
				CharUUID:   device.NormalizeUUID(cc.UUID),
				Properties: ParseProperties(cc.Properties),
			})
		}
		p.Services = append(p.Services, svc)
	}
	return p
}

// ParseProperties converts a comma separated property list to device.Properties.
// An empty list means read,write.
func ParseProperties(props string) device.Properties {
	if strings.TrimSpace(props) == "" {
		return device.Properties(device.PropRead | device.PropWrite)
	}

	var p device.Properties
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "broadcast":
			p |= device.Properties(device.PropBroadcast)
		case "read":
			p |= device.Properties(device.PropRead)
		case "write-without-response", "writenr":
			p |= device.Properties(device.PropWriteWithoutResponse)
		case "write":
			p |= device.Properties(device.PropWrite)
		case "notify":
			p |= device.Properties(device.PropNotify)
		case "indicate":
			p |= device.Properties(device.PropIndicate)
		}
	}
	return p
}
