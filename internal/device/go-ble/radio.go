package goble

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/groutine"
)

const (
	// DefaultBLEWriteChunkSize is the payload of the minimum ATT_MTU (23 bytes)
	// once the 3-byte ATT header is taken off. Used when the link does not
	// report a negotiated MTU.
	DefaultBLEWriteChunkSize = 20

	// MaxAttributeValueSize caps a single write regardless of the MTU
	MaxAttributeValueSize = 512

	attHeaderSize = 3
)

// Radio implements device.Radio on top of go-ble
type Radio struct {
	logger *logrus.Logger
	open   func() (transport, error)

	mu         sync.Mutex
	handler    func(device.Event)
	tr         transport
	ctx        context.Context
	cancel     context.CancelFunc
	scanCancel context.CancelFunc
	scanGen    uint64
	links      map[string]*link
	closed     bool

	wg sync.WaitGroup
}

var _ device.Radio = (*Radio)(nil)

// NewRadio creates a radio. Nothing touches the hardware until Start.
func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		logger: logger,
		open:   openTransport,
		ctx:    context.Background(),
		links:  make(map[string]*link),
	}
}

// SetEventHandler installs the receiver of radio events
func (r *Radio) SetEventHandler(handler func(device.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// Start opens the platform BLE device and reports the resulting adapter state.
// Install the event handler first.
func (r *Radio) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return device.ErrClosed
	}
	if r.tr != nil {
		r.mu.Unlock()
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	tr, err := r.open()
	if err != nil {
		r.mu.Unlock()
		state := AdapterStateFor(err)
		r.logger.WithError(err).WithField("adapter", state).Error("Failed to open BLE device")
		r.emit(device.AdapterStateChanged(state))
		return device.NewError(device.KindAdapterUnavailable, err, "open BLE device")
	}
	r.tr = tr
	r.mu.Unlock()

	r.logger.Debug("BLE device opened")
	r.emit(device.AdapterStateChanged(device.AdapterPoweredOn))
	return nil
}

// Close stops scanning, drops every link and releases the device
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.stopScanLocked()
	links := make([]*link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	tr := r.tr
	r.mu.Unlock()

	for _, l := range links {
		client := l.requestClose()
		l.cancel()
		if client != nil {
			if err := client.CancelConnection(); err != nil {
				r.logger.WithError(err).WithField("device", l.h.ID()).Debug("Cancel connection on close failed")
			}
			r.finish(l, nil)
		}
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if tr == nil {
		return nil
	}
	return tr.Stop()
}

func (r *Radio) transportLocked() (transport, error) {
	if r.closed {
		return nil, device.ErrClosed
	}
	if r.tr == nil {
		return nil, device.NewError(device.KindAdapterUnavailable, nil, "BLE device not opened")
	}
	return r.tr, nil
}

// StartScan begins reporting advertisements. A running scan is left alone.
func (r *Radio) StartScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, err := r.transportLocked()
	if err != nil {
		return err
	}
	if r.scanCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(r.ctx)
	r.scanCancel = cancel
	r.scanGen++
	gen := r.scanGen

	groutine.GoWait(ctx, &r.wg, "ble-scan", func(ctx context.Context) {
		err := tr.Scan(ctx, func(adv Advertisement) {
			r.emit(device.DeviceDiscovered(NewPeripheral(adv.Addr()), adv.LocalName(), adv.RSSI()))
		})

		r.mu.Lock()
		if r.scanGen == gen {
			r.scanCancel = nil
		}
		r.mu.Unlock()
		cancel()

		if err == nil || ctx.Err() != nil {
			return
		}
		err = NormalizeError(err)
		r.logger.WithError(err).Error("BLE scan failed")
		if device.IsKind(err, device.KindAdapterUnavailable) {
			r.emit(device.AdapterStateChanged(device.AdapterPoweredOff))
		}
	})
	r.logger.Debug("BLE scan started")
	return nil
}

// StopScan stops a running scan
func (r *Radio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopScanLocked()
	return nil
}

func (r *Radio) stopScanLocked() {
	if r.scanCancel == nil {
		return
	}
	r.scanCancel()
	r.scanCancel = nil
	r.scanGen++
	r.logger.Debug("BLE scan stopped")
}

// Connect dials the peripheral. Connected or Disconnected reports the outcome.
// A link that was cancelled or asked to disconnect no longer blocks a new dial;
// its own Disconnected still follows.
func (r *Radio) Connect(h device.Handle) error {
	id := h.ID()

	r.mu.Lock()
	tr, err := r.transportLocked()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if old, ok := r.links[id]; ok && !old.released() {
		r.mu.Unlock()
		return device.NewError(device.KindAlreadyConnected, nil, "%s", id)
	}
	ctx, cancel := context.WithCancel(r.ctx)
	l := newLink(h, cancel)
	r.links[id] = l
	r.mu.Unlock()

	r.logger.WithField("device", id).Debug("Dialing")
	groutine.GoWait(ctx, &r.wg, "ble-dial", func(ctx context.Context) {
		r.dial(ctx, tr, l)
	})
	return nil
}

func (r *Radio) dial(ctx context.Context, tr transport, l *link) {
	client, err := tr.Dial(ctx, l.h.ID())
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		r.finish(l, l.reason(NormalizeError(err)))
		return
	}

	if ctx.Err() != nil || !l.attach(client) {
		if cerr := client.CancelConnection(); cerr != nil {
			r.logger.WithError(cerr).WithField("device", l.h.ID()).Debug("Cancel connection after aborted dial failed")
		}
		r.finish(l, l.reason(context.Canceled))
		return
	}

	r.emit(device.Connected(l.h))
	groutine.GoWait(r.ctx, &r.wg, "ble-gatt", l.run)

	if n, ok := client.(disconnectNotifier); ok {
		groutine.GoWait(r.ctx, &r.wg, "ble-connection-monitor", func(ctx context.Context) {
			select {
			case <-n.Disconnected():
				r.logger.WithField("device", l.h.ID()).Debug("Link down")
				r.finish(l, l.reason(nil))
			case <-l.done:
			case <-ctx.Done():
			}
		})
	}
}

// finish reports the end of a link once and forgets it
func (r *Radio) finish(l *link, err error) {
	if !l.markDown() {
		return
	}
	l.cancel()
	r.emit(device.Disconnected(l.h, err))

	r.mu.Lock()
	if r.links[l.h.ID()] == l {
		delete(r.links, l.h.ID())
	}
	r.mu.Unlock()
}

func (r *Radio) lookup(id string) *link {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok || l.isDown() {
		return nil
	}
	return l
}

// CancelConnect aborts a pending dial; a link that already came up is dropped
func (r *Radio) CancelConnect(h device.Handle) error {
	l := r.lookup(h.ID())
	if l == nil {
		return nil
	}
	if l.connectedClient() == nil {
		l.abort()
		return nil
	}
	return r.Disconnect(h)
}

// Disconnect tears the link down. Disconnected with a nil error confirms it.
func (r *Radio) Disconnect(h device.Handle) error {
	l := r.lookup(h.ID())
	if l == nil {
		return device.NewError(device.KindNotConnected, nil, "%s", h.ID())
	}

	client := l.requestClose()
	if client == nil {
		l.cancel()
		return nil
	}

	groutine.GoWait(r.ctx, &r.wg, "ble-disconnect", func(context.Context) {
		err := client.CancelConnection()
		if err != nil {
			r.logger.WithError(err).WithField("device", h.ID()).Warn("Cancel connection failed")
		}
		if _, ok := client.(disconnectNotifier); ok && err == nil {
			return
		}
		r.finish(l, nil)
	})
	return nil
}

func (r *Radio) connected(h device.Handle) (*link, error) {
	l := r.lookup(h.ID())
	if l == nil || l.connectedClient() == nil {
		return nil, device.NewError(device.KindNotConnected, nil, "%s", h.ID())
	}
	return l, nil
}

func (r *Radio) submit(l *link, op func(gattClient)) error {
	if !l.enqueue(op) {
		return device.NewError(device.KindNotConnected, nil, "%s", l.h.ID())
	}
	return nil
}

// DiscoverServices lists the peripheral's primary services
func (r *Radio) DiscoverServices(h device.Handle) error {
	l, err := r.connected(h)
	if err != nil {
		return err
	}
	return r.submit(l, func(c gattClient) {
		svcs, err := c.DiscoverServices(nil)
		if err != nil {
			r.emit(device.ServicesDiscovered(h, nil, NormalizeError(err)))
			return
		}
		out := make([]device.Service, 0, len(svcs))
		for _, s := range svcs {
			out = append(out, NewBLEService(s))
		}
		r.logger.WithFields(logrus.Fields{"device": h.ID(), "services": len(out)}).Debug("Services discovered")
		r.emit(device.ServicesDiscovered(h, out, nil))
	})
}

// DiscoverCharacteristics lists the characteristics of one service
func (r *Radio) DiscoverCharacteristics(h device.Handle, svc device.Service) error {
	bs, ok := svc.(*BLEService)
	if !ok {
		return device.NewError(device.KindDiscovery, nil, "service %s was not discovered by this radio", svc.UUID())
	}
	l, err := r.connected(h)
	if err != nil {
		return err
	}
	return r.submit(l, func(c gattClient) {
		chars, err := c.DiscoverCharacteristics(nil, bs.svc)
		if err != nil {
			r.emit(device.CharacteristicsDiscovered(h, svc, nil, NormalizeError(err)))
			return
		}
		out := make([]device.Characteristic, 0, len(chars))
		for _, ch := range chars {
			out = append(out, NewBLECharacteristic(ch))
		}
		r.emit(device.CharacteristicsDiscovered(h, svc, out, nil))
	})
}

// Write sends data to char. The payload is copied before Write returns.
func (r *Radio) Write(h device.Handle, char device.Characteristic, data []byte, withAck bool) error {
	bc, ok := char.(*BLECharacteristic)
	if !ok {
		return device.NewError(device.KindWrite, nil, "characteristic %s was not discovered by this radio", char.UUID())
	}
	l, err := r.connected(h)
	if err != nil {
		return err
	}
	buf := append([]byte(nil), data...)
	return r.submit(l, func(c gattClient) {
		err := c.WriteCharacteristic(bc.char, buf, !withAck)
		r.emit(device.WriteCompleted(h, char, NormalizeError(err)))
	})
}

// MaxWriteSize derives the write payload limit from the negotiated MTU
func (r *Radio) MaxWriteSize(h device.Handle) (int, error) {
	l, err := r.connected(h)
	if err != nil {
		return 0, err
	}
	m, ok := l.connectedClient().(mtuReporter)
	if !ok {
		return DefaultBLEWriteChunkSize, nil
	}
	n := m.TxMTU() - attHeaderSize
	switch {
	case n < DefaultBLEWriteChunkSize:
		return DefaultBLEWriteChunkSize, nil
	case n > MaxAttributeValueSize:
		return MaxAttributeValueSize, nil
	default:
		return n, nil
	}
}

func (r *Radio) emit(ev device.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}
