package session

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
)

// connSession is the one in-flight connection. Owned by the actor.
type connSession struct {
	attempt uint64
	device  device.Device
	handle  device.Handle // nil once the radio can no longer be asked to tear it down
	state   State

	// dialPending holds the dial until the previous link to the same device is down
	dialPending bool

	// timer guards Connecting (connect timeout) and Disconnecting (confirmation timeout)
	timer stopper

	pendingServices int
	candidate       device.Endpoint
	endpoint        device.Endpoint
}

func (s *connSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *connSession) fields() logrus.Fields {
	return logrus.Fields{
		"device":  s.device.ID,
		"name":    s.device.Name,
		"attempt": s.attempt,
		"state":   s.state,
	}
}

// Connect starts a connection attempt to a registered device. A non-positive
// timeout selects the configured default. Returns once the request is issued;
// observers see Ready on success or Failed otherwise.
func (m *Manager) Connect(id string, timeout time.Duration) error {
	return m.call(func() error {
		return m.connect(id, timeout)
	})
}

func (m *Manager) connect(id string, timeout time.Duration) error {
	if m.sess != nil {
		return m.busyError()
	}
	if m.adapter != device.AdapterPoweredOn {
		return device.NewError(device.KindAdapterUnavailable, nil, "adapter %s", m.adapter)
	}

	entry, ok := m.registry.Lookup(id)
	if !ok {
		return device.NewError(device.KindUnknownDevice, nil, "%q has not been discovered", id)
	}

	if timeout <= 0 {
		timeout = m.opts.ConnectTimeout
	}

	// Scanning and connecting contend for the radio.
	if m.scanning {
		m.stopScan()
	}

	m.attempts++
	s := &connSession{
		attempt: m.attempts,
		device:  entry.Device,
		handle:  entry.Handle,
	}
	m.sess = s
	m.setState(Connecting)

	attempt := s.attempt
	s.timer = m.afterFunc(timeout, func() {
		m.post(func() { m.onConnectTimeout(attempt, timeout) })
	})

	m.logger.WithFields(s.fields()).WithField("timeout", timeout).Info("Connecting to device...")

	if _, ok := m.teardown[id]; ok {
		s.dialPending = true
		m.logger.WithFields(s.fields()).Debug("Previous link still closing, dial deferred")
		return nil
	}
	return m.dial(s)
}

// dial asks the radio to connect the session's device
func (m *Manager) dial(s *connSession) error {
	if err := m.radio.Connect(s.handle); err != nil {
		s.handle = nil
		failure := device.NewError(device.KindConnectFailed, err, "connect to %s", s.device.ID)
		m.fail(failure)
		return failure
	}
	return nil
}

// abandon records that the radio was asked to drop id's link and the session
// no longer waits for the confirmation
func (m *Manager) abandon(id string) {
	m.teardown[id] = struct{}{}
}

// releaseTeardown consumes the confirmation of an abandoned link and starts a
// dial that was waiting for it. Returns false if id was not abandoned.
func (m *Manager) releaseTeardown(ev device.Event) bool {
	id := ev.HandleID()
	if _, ok := m.teardown[id]; !ok {
		return false
	}
	delete(m.teardown, id)
	m.logger.WithField("handle", id).WithError(ev.Err).Debug("Abandoned link is down")

	if s := m.sess; s != nil && s.dialPending && s.device.ID == id && s.state == Connecting {
		s.dialPending = false
		m.logger.WithFields(s.fields()).Debug("Dialing deferred connection")
		_ = m.dial(s)
	}
	return true
}

// busyError is the precondition failure for a request that needs Idle
func (m *Manager) busyError() error {
	if m.sess.state == Connecting {
		return device.NewError(device.KindAlreadyConnecting, nil, "connecting to %s", m.sess.device.ID)
	}
	return device.NewError(device.KindAlreadyConnected, nil, "session with %s is %s", m.sess.device.ID, m.sess.state)
}

func (m *Manager) onConnectTimeout(attempt uint64, timeout time.Duration) {
	s := m.sess
	if s == nil || s.attempt != attempt || s.state != Connecting {
		m.logger.WithField("attempt", attempt).Debug("Stale connect timer ignored")
		return
	}
	s.timer = nil

	m.logger.WithFields(s.fields()).Warn("Connection timeout")

	switch {
	case s.dialPending:
		// The old link never confirmed; stop waiting for it.
		delete(m.teardown, s.device.ID)
	default:
		if err := m.radio.CancelConnect(s.handle); err != nil {
			m.logger.WithFields(s.fields()).WithError(err).Warn("Failed to cancel connection attempt")
		} else {
			m.abandon(s.device.ID)
		}
	}
	s.handle = nil
	m.fail(device.NewError(device.KindTimeout, nil, "no connection to %s within %s", s.device.ID, timeout))
}

func (m *Manager) onConnected(ev device.Event) {
	s := m.sess
	_, abandoned := m.teardown[ev.HandleID()]
	if abandoned || s == nil || s.state != Connecting || s.dialPending || s.device.ID != ev.HandleID() {
		// The caller already gave up on this attempt; do not resurrect it.
		m.logger.WithField("handle", ev.HandleID()).Warn("Stray connection, tearing it down")
		if err := m.radio.Disconnect(ev.Handle); err != nil {
			m.logger.WithField("handle", ev.HandleID()).WithError(err).Warn("Failed to tear down stray connection")
			return
		}
		m.abandon(ev.HandleID())
		return
	}

	s.stopTimer()
	m.logger.WithFields(s.fields()).Info("Connected to device")
	m.setState(Connected)
	m.startDiscovery()
}

// Disconnect tears down the session from any non-Idle state, including
// mid-timeout and mid-discovery. The machine reaches Idle when the radio
// confirms, or after the disconnect timeout if it never does.
func (m *Manager) Disconnect() error {
	return m.call(m.disconnect)
}

func (m *Manager) disconnect() error {
	s := m.sess
	if s == nil {
		return device.NewError(device.KindNotConnected, nil, "no active session")
	}
	if s.state == Disconnecting {
		return nil
	}

	s.stopTimer()
	if s.dialPending {
		// Nothing was dialed for this attempt.
		m.setState(Disconnecting)
		m.finishDisconnect()
		return nil
	}
	wasConnecting := s.state == Connecting
	m.setState(Disconnecting)

	var err error
	if wasConnecting {
		err = m.radio.CancelConnect(s.handle)
	} else {
		err = m.radio.Disconnect(s.handle)
	}
	if err != nil {
		m.logger.WithFields(s.fields()).WithError(err).Warn("Radio rejected disconnect request, dropping session")
		m.finishDisconnect()
		return nil
	}

	attempt := s.attempt
	s.timer = m.afterFunc(m.opts.DisconnectTimeout, func() {
		m.post(func() { m.onDisconnectTimeout(attempt) })
	})
	m.logger.WithFields(s.fields()).Info("Disconnecting from device...")
	return nil
}

func (m *Manager) onDisconnectTimeout(attempt uint64) {
	s := m.sess
	if s == nil || s.attempt != attempt || s.state != Disconnecting {
		return
	}
	s.timer = nil
	m.logger.WithFields(s.fields()).Warn("Radio did not confirm disconnect, dropping session")
	m.abandon(s.device.ID)
	m.finishDisconnect()
}

func (m *Manager) onDisconnected(ev device.Event) {
	if m.releaseTeardown(ev) {
		return
	}

	s := m.sess
	if s == nil || s.dialPending || s.device.ID != ev.HandleID() {
		m.logger.WithField("handle", ev.HandleID()).Debug("Disconnect for inactive session ignored")
		return
	}

	if s.state == Disconnecting {
		if ev.Err != nil {
			m.logger.WithFields(s.fields()).WithError(ev.Err).Info("Disconnected with error")
		}
		m.finishDisconnect()
		return
	}

	s.handle = nil
	if s.state == Connecting && ev.Err != nil {
		m.fail(device.NewError(device.KindConnectFailed, ev.Err, "connect to %s", s.device.ID))
		return
	}
	m.fail(device.NewError(device.KindLinkLost, ev.Err, "%s dropped the link while %s", s.device.ID, s.state))
}

// finishDisconnect clears the session after a requested disconnect
func (m *Manager) finishDisconnect() {
	s := m.sess
	s.stopTimer()
	m.sess = nil

	m.logger.WithFields(s.fields()).Info("Disconnected from device")
	m.publish(Notification{Kind: KindState, State: Idle, Device: s.device})
}

// fail ends the session and reports err. The machine is Idle afterwards.
// If the session still holds a handle, the link is torn down.
func (m *Manager) fail(err *device.SessionError) {
	s := m.sess
	if s == nil {
		return
	}
	s.stopTimer()
	m.sess = nil
	m.lastFailure = err

	m.logger.WithFields(s.fields()).WithError(err).Error("Session failed")
	m.publish(Notification{Kind: KindState, State: Failed, Device: s.device, Err: err})

	if s.handle != nil && !s.dialPending {
		if derr := m.radio.Disconnect(s.handle); derr != nil {
			m.logger.WithFields(s.fields()).WithError(derr).Warn("Failed to tear down link after failure")
		} else {
			m.abandon(s.device.ID)
		}
	}
}

func (m *Manager) setState(next State) {
	s := m.sess
	prev := s.state
	s.state = next

	m.logger.WithFields(logrus.Fields{
		"device": s.device.ID,
		"from":   prev,
		"to":     next,
	}).Debug("Session state changed")

	n := Notification{Kind: KindState, State: next, Device: s.device}
	if next == Ready {
		n.Endpoint = s.endpoint
	}
	m.publish(n)
}
