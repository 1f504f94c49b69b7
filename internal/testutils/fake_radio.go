package testutils

import (
	"context"
	"sync"

	"github.com/srg/blesend/internal/device"
	"github.com/stretchr/testify/mock"
)

// DefaultMaxWriteSize is the fake link's write limit (ATT_MTU 23 minus header)
const DefaultMaxWriteSize = 20

// FakeRadio is a scriptable device.Radio. Every call is recorded through the
// embedded mock.Mock, so tests can use AssertCalled/AssertNumberOfCalls;
// behaviour comes from the fake's own configuration, not mock return values.
//
// With the default configuration the radio behaves like a healthy stack:
// scanning advertises every added peripheral, connects succeed, discovery
// returns the peripheral's profile, and writes are acknowledged. Events are
// emitted synchronously from inside the call that triggers them.
type FakeRadio struct {
	mock.Mock

	mu          sync.Mutex
	handler     func(device.Event)
	peripherals []*Peripheral
	errs        map[string]error
	maxWrite    int
	calls       []string
	writes      [][]byte

	AutoConnect    bool // emit Connected on Connect
	AutoDisconnect bool // emit Disconnected on Disconnect/CancelConnect
	AutoDiscover   bool // answer DiscoverServices/DiscoverCharacteristics
	AutoAck        bool // emit WriteCompleted on Write

	ServicesErr        error // carried by ServicesDiscovered
	CharacteristicsErr error // carried by CharacteristicsDiscovered
	AckErr             error // carried by WriteCompleted
}

var _ device.Radio = (*FakeRadio)(nil)

// NewFakeRadio creates a healthy fake radio
func NewFakeRadio() *FakeRadio {
	r := &FakeRadio{
		errs:           make(map[string]error),
		maxWrite:       DefaultMaxWriteSize,
		AutoConnect:    true,
		AutoDisconnect: true,
		AutoDiscover:   true,
		AutoAck:        true,
	}

	r.On("StartScan").Maybe()
	r.On("StopScan").Maybe()
	r.On("Connect", mock.Anything).Maybe()
	r.On("CancelConnect", mock.Anything).Maybe()
	r.On("Disconnect", mock.Anything).Maybe()
	r.On("DiscoverServices", mock.Anything).Maybe()
	r.On("DiscoverCharacteristics", mock.Anything, mock.Anything).Maybe()
	r.On("Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	r.On("MaxWriteSize", mock.Anything).Maybe()
	return r
}

// AddPeripheral makes p visible to scans and connectable
func (r *FakeRadio) AddPeripheral(ps ...*Peripheral) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peripherals = append(r.peripherals, ps...)
	return r
}

// FailOn makes the named method return err (nil clears it)
func (r *FakeRadio) FailOn(method string, err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errs, method)
	} else {
		r.errs[method] = err
	}
	return r
}

// SetMaxWriteSize changes the link's write limit, as an MTU renegotiation would
func (r *FakeRadio) SetMaxWriteSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxWrite = n
}

// Configure runs fn under the fake's lock, for changing Auto*/Err fields mid-test
func (r *FakeRadio) Configure(fn func(r *FakeRadio)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// Emit delivers ev to the installed handler
func (r *FakeRadio) Emit(ev device.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// PowerOn reports the adapter as powered on
func (r *FakeRadio) PowerOn() {
	r.Emit(device.AdapterStateChanged(device.AdapterPoweredOn))
}

// Start powers the adapter on, or reports it unsupported if FailOn("Start") is set
func (r *FakeRadio) Start(context.Context) error {
	defer r.called("Start")
	if err := r.errFor("Start"); err != nil {
		r.Emit(device.AdapterStateChanged(device.AdapterUnsupported))
		return err
	}
	r.PowerOn()
	return nil
}

// Close records the call
func (r *FakeRadio) Close() error {
	defer r.called("Close")
	return r.errFor("Close")
}

// Advertise reports a sighting of p
func (r *FakeRadio) Advertise(p *Peripheral) {
	r.Emit(device.DeviceDiscovered(p.Handle(), p.Name, p.RSSI))
}

// CallCount returns how often method was called
func (r *FakeRadio) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Calls returns the radio methods called so far, in order
func (r *FakeRadio) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Writes returns the payloads of every Write call, in order
func (r *FakeRadio) Writes() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.writes...)
}

// called logs a call once it has finished, so any event it emitted is
// already delivered when CallCount observes it
func (r *FakeRadio) called(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method)
}

func (r *FakeRadio) errFor(method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[method]
}

func (r *FakeRadio) peripheral(id string) *Peripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peripherals {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *FakeRadio) flags() (connect, disconnect, discover, ack bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.AutoConnect, r.AutoDisconnect, r.AutoDiscover, r.AutoAck
}

// device.Radio implementation

func (r *FakeRadio) SetEventHandler(handler func(device.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

func (r *FakeRadio) StartScan() error {
	r.Called()
	defer r.called("StartScan")
	if err := r.errFor("StartScan"); err != nil {
		return err
	}

	r.mu.Lock()
	ps := append([]*Peripheral(nil), r.peripherals...)
	r.mu.Unlock()
	for _, p := range ps {
		r.Advertise(p)
	}
	return nil
}

func (r *FakeRadio) StopScan() error {
	r.Called()
	defer r.called("StopScan")
	return r.errFor("StopScan")
}

func (r *FakeRadio) Connect(h device.Handle) error {
	r.Called(h)
	defer r.called("Connect")
	if err := r.errFor("Connect"); err != nil {
		return err
	}
	if connect, _, _, _ := r.flags(); connect {
		r.Emit(device.Connected(h))
	}
	return nil
}

func (r *FakeRadio) CancelConnect(h device.Handle) error {
	r.Called(h)
	defer r.called("CancelConnect")
	if err := r.errFor("CancelConnect"); err != nil {
		return err
	}
	if _, disconnect, _, _ := r.flags(); disconnect {
		r.Emit(device.Disconnected(h, context.Canceled))
	}
	return nil
}

func (r *FakeRadio) Disconnect(h device.Handle) error {
	r.Called(h)
	defer r.called("Disconnect")
	if err := r.errFor("Disconnect"); err != nil {
		return err
	}
	if _, disconnect, _, _ := r.flags(); disconnect {
		r.Emit(device.Disconnected(h, nil))
	}
	return nil
}

func (r *FakeRadio) DiscoverServices(h device.Handle) error {
	r.Called(h)
	defer r.called("DiscoverServices")
	if err := r.errFor("DiscoverServices"); err != nil {
		return err
	}
	if _, _, discover, _ := r.flags(); !discover {
		return nil
	}

	var services []device.Service
	if p := r.peripheral(h.ID()); p != nil {
		for _, svc := range p.Services {
			services = append(services, svc)
		}
	}

	r.mu.Lock()
	svcErr := r.ServicesErr
	r.mu.Unlock()
	if svcErr != nil {
		services = nil
	}
	r.Emit(device.ServicesDiscovered(h, services, svcErr))
	return nil
}

func (r *FakeRadio) DiscoverCharacteristics(h device.Handle, svc device.Service) error {
	r.Called(h, svc)
	defer r.called("DiscoverCharacteristics")
	if err := r.errFor("DiscoverCharacteristics"); err != nil {
		return err
	}
	if _, _, discover, _ := r.flags(); !discover {
		return nil
	}

	var chars []device.Characteristic
	if fs, ok := svc.(*FakeService); ok {
		for _, c := range fs.Characteristics {
			chars = append(chars, c)
		}
	}

	r.mu.Lock()
	charErr := r.CharacteristicsErr
	r.mu.Unlock()
	if charErr != nil {
		chars = nil
	}
	r.Emit(device.CharacteristicsDiscovered(h, svc, chars, charErr))
	return nil
}

func (r *FakeRadio) Write(h device.Handle, char device.Characteristic, data []byte, withAck bool) error {
	payload := append([]byte(nil), data...)
	r.Called(h, char, payload, withAck)
	defer r.called("Write")
	if err := r.errFor("Write"); err != nil {
		return err
	}
	r.mu.Lock()
	r.writes = append(r.writes, payload)
	r.mu.Unlock()

	if _, _, _, ack := r.flags(); ack {
		r.mu.Lock()
		ackErr := r.AckErr
		r.mu.Unlock()
		r.Emit(device.WriteCompleted(h, char, ackErr))
	}
	return nil
}

func (r *FakeRadio) MaxWriteSize(h device.Handle) (int, error) {
	r.Called(h)
	defer r.called("MaxWriteSize")
	if err := r.errFor("MaxWriteSize"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxWrite, nil
}
