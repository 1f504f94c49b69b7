package device

import "fmt"

// AdapterState is the power/availability state of the local radio
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterUnsupported
	AdapterUnauthorized
	AdapterPoweredOff
	AdapterResetting
	AdapterPoweredOn
)

func (s AdapterState) String() string {
	switch s {
	case AdapterUnknown:
		return "unknown"
	case AdapterUnsupported:
		return "unsupported"
	case AdapterUnauthorized:
		return "unauthorized"
	case AdapterPoweredOff:
		return "powered_off"
	case AdapterResetting:
		return "resetting"
	case AdapterPoweredOn:
		return "powered_on"
	default:
		return fmt.Sprintf("adapter_state(%d)", int(s))
	}
}

// Radio is the capability the session core drives. Every method must return
// promptly; completions are reported asynchronously through the event handler.
type Radio interface {
	// SetEventHandler installs the single receiver of radio events.
	// It must be called before any other method.
	SetEventHandler(handler func(Event))

	StartScan() error
	StopScan() error

	Connect(h Handle) error
	CancelConnect(h Handle) error
	Disconnect(h Handle) error

	DiscoverServices(h Handle) error
	DiscoverCharacteristics(h Handle, svc Service) error

	// Write issues a characteristic write; withAck selects write-with-response.
	Write(h Handle, char Characteristic, data []byte, withAck bool) error

	// MaxWriteSize reports the largest single write payload the link currently allows.
	MaxWriteSize(h Handle) (int, error)
}

// EventType tags a radio Event
type EventType int

const (
	EventAdapterStateChanged EventType = iota
	EventDeviceDiscovered
	EventConnected
	EventDisconnected
	EventServicesDiscovered
	EventCharacteristicsDiscovered
	EventWriteCompleted
)

func (t EventType) String() string {
	switch t {
	case EventAdapterStateChanged:
		return "adapter_state_changed"
	case EventDeviceDiscovered:
		return "device_discovered"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventServicesDiscovered:
		return "services_discovered"
	case EventCharacteristicsDiscovered:
		return "characteristics_discovered"
	case EventWriteCompleted:
		return "write_completed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a single radio callback. Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	Adapter AdapterState // EventAdapterStateChanged

	Handle Handle // every per-device event
	Name   string // EventDeviceDiscovered
	RSSI   int    // EventDeviceDiscovered

	Services        []Service        // EventServicesDiscovered
	Service         Service          // EventCharacteristicsDiscovered
	Characteristics []Characteristic // EventCharacteristicsDiscovered
	Characteristic  Characteristic   // EventWriteCompleted

	Err error
}

// HandleID returns the identifier of the event's handle, or "" if it has none
func (e Event) HandleID() string {
	if e.Handle == nil {
		return ""
	}
	return e.Handle.ID()
}

// AdapterStateChanged builds an EventAdapterStateChanged event
func AdapterStateChanged(state AdapterState) Event {
	return Event{Type: EventAdapterStateChanged, Adapter: state}
}

// DeviceDiscovered builds an EventDeviceDiscovered event
func DeviceDiscovered(h Handle, name string, rssi int) Event {
	return Event{Type: EventDeviceDiscovered, Handle: h, Name: name, RSSI: rssi}
}

// Connected builds an EventConnected event
func Connected(h Handle) Event {
	return Event{Type: EventConnected, Handle: h}
}

// Disconnected builds an EventDisconnected event; err is nil for a clean disconnect
func Disconnected(h Handle, err error) Event {
	return Event{Type: EventDisconnected, Handle: h, Err: err}
}

// ServicesDiscovered builds an EventServicesDiscovered event
func ServicesDiscovered(h Handle, services []Service, err error) Event {
	return Event{Type: EventServicesDiscovered, Handle: h, Services: services, Err: err}
}

// CharacteristicsDiscovered builds an EventCharacteristicsDiscovered event
func CharacteristicsDiscovered(h Handle, svc Service, chars []Characteristic, err error) Event {
	return Event{Type: EventCharacteristicsDiscovered, Handle: h, Service: svc, Characteristics: chars, Err: err}
}

// WriteCompleted builds an EventWriteCompleted event
func WriteCompleted(h Handle, char Characteristic, err error) Event {
	return Event{Type: EventWriteCompleted, Handle: h, Characteristic: char, Err: err}
}
