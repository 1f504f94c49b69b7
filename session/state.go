package session

import (
	"fmt"

	"github.com/srg/blesend/internal/device"
)

// State is the connection lifecycle state
type State int

const (
	Idle State = iota
	Connecting
	Connected
	DiscoveringServices
	DiscoveringCharacteristics
	Ready
	Disconnecting
	// Failed is only ever reported in a Notification. The machine is already
	// back in Idle when observers see it.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case DiscoveringServices:
		return "discovering_services"
	case DiscoveringCharacteristics:
		return "discovering_characteristics"
	case Ready:
		return "ready"
	case Disconnecting:
		return "disconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// NotificationKind tags a Notification
type NotificationKind int

const (
	// KindState reports a connection state transition
	KindState NotificationKind = iota
	// KindAdapter reports an adapter power/availability change or scan failure
	KindAdapter
	// KindWrite reports the asynchronous acknowledgment of a write
	KindWrite
)

func (k NotificationKind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindAdapter:
		return "adapter"
	case KindWrite:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Notification is published to observers for every observable change
type Notification struct {
	Kind NotificationKind

	// KindState
	State    State
	Device   device.Device
	Endpoint device.Endpoint

	// KindAdapter
	Adapter device.AdapterState

	// KindWrite
	Characteristic device.Characteristic

	// Err is the failure for State == Failed, a *SessionError of kind
	// KindWrite for a failed acknowledgment, or a scan failure for KindAdapter
	Err error
}

func (n Notification) String() string {
	switch n.Kind {
	case KindState:
		if n.Err != nil {
			return fmt.Sprintf("state=%s device=%s err=%v", n.State, n.Device, n.Err)
		}
		return fmt.Sprintf("state=%s device=%s", n.State, n.Device)
	case KindAdapter:
		return fmt.Sprintf("adapter=%s", n.Adapter)
	case KindWrite:
		if n.Err != nil {
			return fmt.Sprintf("write device=%s err=%v", n.Device, n.Err)
		}
		return fmt.Sprintf("write device=%s ok", n.Device)
	default:
		return n.Kind.String()
	}
}

// Snapshot is a consistent copy of the session as last published by the actor
type Snapshot struct {
	Adapter     device.AdapterState
	Scanning    bool
	State       State
	Device      device.Device
	Endpoint    device.Endpoint
	LastFailure error
}

// ConnectedDevice returns the device only when the session is Ready
func (s Snapshot) ConnectedDevice() (device.Device, bool) {
	if s.State != Ready {
		return device.Device{}, false
	}
	return s.Device, true
}
