package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/groutine"
	"github.com/srg/blesend/internal/ringchan"
	"github.com/srg/blesend/registry"
)

const (
	// DefaultConnectTimeout bounds a connection attempt when the caller gives none
	DefaultConnectTimeout = 10 * time.Second

	// DefaultDisconnectTimeout bounds the wait for the radio to confirm a disconnect
	DefaultDisconnectTimeout = 5 * time.Second

	// DefaultInboxSize is the actor inbox capacity
	DefaultInboxSize = 256

	// DefaultSubscriberBuffer is the ring buffer size handed to each subscriber
	DefaultSubscriberBuffer = 128
)

// Options configures a Manager
type Options struct {
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	InboxSize         int
	SubscriberBuffer  int
}

// DefaultOptions returns default session options
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    DefaultConnectTimeout,
		DisconnectTimeout: DefaultDisconnectTimeout,
		InboxSize:         DefaultInboxSize,
		SubscriberBuffer:  DefaultSubscriberBuffer,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = def.DisconnectTimeout
	}
	if o.InboxSize <= 0 {
		o.InboxSize = def.InboxSize
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = def.SubscriberBuffer
	}
}

// stopper is the part of *time.Timer the machine needs
type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Manager owns the single BLE central session
type Manager struct {
	radio    device.Radio
	registry *registry.Registry
	logger   *logrus.Logger
	opts     Options

	inbox     chan func()
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	afterFunc afterFunc

	// actor-owned state; touched only from the actor goroutine
	adapter     device.AdapterState
	scanning    bool
	sess        *connSession
	attempts    uint64
	teardown    map[string]struct{} // abandoned links whose Disconnected has not arrived
	lastFailure error

	snapMu sync.RWMutex
	snap   Snapshot

	subMu       sync.Mutex
	subscribers []*ringchan.RingChannel[Notification]
}

// New creates a Manager driving radio and populating reg. Call Start before use.
func New(radio device.Radio, reg *registry.Registry, logger *logrus.Logger, opts Options) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if reg == nil {
		reg = registry.New(logger)
	}
	opts.applyDefaults()

	return &Manager{
		radio:     radio,
		registry:  reg,
		logger:    logger,
		opts:      opts,
		inbox:     make(chan func(), opts.InboxSize),
		done:      make(chan struct{}),
		afterFunc: realAfterFunc,
		teardown:  make(map[string]struct{}),
	}
}

// Registry returns the device registry the manager populates
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Start installs the radio event handler and launches the actor.
// The actor stops when ctx is cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		m.radio.SetEventHandler(m.handleRadioEvent)

		groutine.GoWait(ctx, &m.wg, "session-actor", m.run)
		m.logger.Debug("Session actor started")
	})
}

// Close stops the actor and closes every subscription. Safe to call more than once.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.closeDone()

	m.subMu.Lock()
	for _, s := range m.subscribers {
		s.Close()
	}
	m.subscribers = nil
	m.subMu.Unlock()
}

func (m *Manager) closeDone() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) run(ctx context.Context) {
	defer m.shutdown()

	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// shutdown runs on the actor goroutine as it exits
func (m *Manager) shutdown() {
	m.closeDone()

	if m.sess != nil {
		m.sess.stopTimer()
		if m.sess.handle != nil {
			if err := m.radio.Disconnect(m.sess.handle); err != nil {
				m.logger.WithError(err).Debug("Disconnect during shutdown failed")
			}
		}
		m.sess = nil
	}
	if m.scanning {
		m.stopScan()
	}
	m.logger.Debug("Session actor stopped")
}

// post queues fn for the actor. Returns false once the manager is closed.
func (m *Manager) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}

// call runs fn on the actor and waits for its result
func (m *Manager) call(fn func() error) error {
	reply := make(chan error, 1)
	if !m.post(func() { reply <- fn() }) {
		return device.ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-m.done:
		return device.ErrClosed
	}
}

// handleRadioEvent is the radio's single event sink. It may run on any goroutine.
func (m *Manager) handleRadioEvent(ev device.Event) {
	if ev.Type == device.EventDeviceDiscovered {
		m.onDeviceDiscovered(ev)
		return
	}

	if !m.post(func() { m.dispatch(ev) }) {
		m.logger.WithField("event", ev.Type).Debug("Radio event dropped after close")
	}
}

// dispatch is the actor's transition function for radio events
func (m *Manager) dispatch(ev device.Event) {
	m.logger.WithFields(logrus.Fields{
		"event":  ev.Type,
		"handle": ev.HandleID(),
	}).Debug("Radio event")

	switch ev.Type {
	case device.EventAdapterStateChanged:
		m.onAdapterState(ev.Adapter)
	case device.EventConnected:
		m.onConnected(ev)
	case device.EventDisconnected:
		m.onDisconnected(ev)
	case device.EventServicesDiscovered:
		m.onServicesDiscovered(ev)
	case device.EventCharacteristicsDiscovered:
		m.onCharacteristicsDiscovered(ev)
	case device.EventWriteCompleted:
		m.onWriteCompleted(ev)
	default:
		m.logger.WithField("event", ev.Type).Warn("Unhandled radio event")
	}
}

func (m *Manager) onDeviceDiscovered(ev device.Event) {
	id := ev.HandleID()
	if id == "" {
		return
	}
	m.registry.Upsert(id, ev.Name, ev.Handle)
	m.registry.Touch(id, ev.RSSI)
}

// Subscription is a notification feed returned by Subscribe
type Subscription = *ringchan.RingChannel[Notification]

// Subscribe returns a channel of session notifications. Slow subscribers lose
// the oldest notifications; the actor never blocks on them.
func (m *Manager) Subscribe() *ringchan.RingChannel[Notification] {
	rc := ringchan.New[Notification](m.opts.SubscriberBuffer)

	m.subMu.Lock()
	defer m.subMu.Unlock()

	select {
	case <-m.done:
		rc.Close()
		return rc
	default:
	}
	m.subscribers = append(m.subscribers, rc)
	return rc
}

// Unsubscribe removes and closes a subscription
func (m *Manager) Unsubscribe(rc *ringchan.RingChannel[Notification]) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for i, s := range m.subscribers {
		if s == rc {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			rc.Close()
			return
		}
	}
}

func (m *Manager) publish(n Notification) {
	m.refreshSnapshot()

	m.logger.WithField("notification", n.String()).Debug("Publishing session notification")

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, s := range m.subscribers {
		if s.Send(n) {
			m.logger.Debug("Session subscriber lagging, dropped oldest notification")
		}
	}
}

// Snapshot returns the session as of the last transition
func (m *Manager) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// State returns the current connection state
func (m *Manager) State() State {
	return m.Snapshot().State
}

// AdapterState returns the last reported adapter state
func (m *Manager) AdapterState() device.AdapterState {
	return m.Snapshot().Adapter
}

// ConnectedDevice returns the connected device; ok is false unless Ready
func (m *Manager) ConnectedDevice() (device.Device, bool) {
	return m.Snapshot().ConnectedDevice()
}

// LastFailure returns the most recent asynchronous failure, or nil
func (m *Manager) LastFailure() error {
	return m.Snapshot().LastFailure
}

// refreshSnapshot copies actor state for readers; actor goroutine only
func (m *Manager) refreshSnapshot() {
	snap := Snapshot{
		Adapter:     m.adapter,
		Scanning:    m.scanning,
		State:       Idle,
		LastFailure: m.lastFailure,
	}
	if m.sess != nil {
		snap.State = m.sess.state
		snap.Device = m.sess.device
		if m.sess.state == Ready {
			snap.Endpoint = m.sess.endpoint
		}
	}

	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()
}
