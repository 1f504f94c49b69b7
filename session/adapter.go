package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
)

// onAdapterState applies an adapter power/availability change. Transitions
// come only from the radio; application code never drives them.
func (m *Manager) onAdapterState(next device.AdapterState) {
	prev := m.adapter
	if prev == next {
		return
	}
	m.adapter = next

	m.logger.WithFields(logrus.Fields{
		"from": prev,
		"to":   next,
	}).Info("Adapter state changed")

	switch {
	case next == device.AdapterPoweredOn:
		m.beginScanSession()
		m.publish(Notification{Kind: KindAdapter, Adapter: next})
		return

	case prev == device.AdapterPoweredOn:
		if m.scanning {
			m.stopScan()
		}
		if m.sess != nil {
			// The radio is gone; there is no link left to tear down.
			m.sess.handle = nil
			m.fail(device.NewError(device.KindAdapterUnavailable, nil, "adapter %s", next))
		}
		clear(m.teardown)
	}

	switch next {
	case device.AdapterUnsupported:
		m.logger.Error("Bluetooth LE is not supported on this host")
	case device.AdapterUnauthorized:
		m.logger.Error("Bluetooth access is not authorized; check permissions")
	case device.AdapterResetting:
		m.logger.Warn("Bluetooth adapter resetting, waiting for it to settle")
	}

	m.publish(Notification{Kind: KindAdapter, Adapter: next})
}

// beginScanSession clears the registry and starts scanning
func (m *Manager) beginScanSession() {
	m.registry.Reset()

	if err := m.radio.StartScan(); err != nil {
		m.logger.WithError(err).Error("Failed to start scanning")
		m.publish(Notification{
			Kind:    KindAdapter,
			Adapter: m.adapter,
			Err:     device.NewError(device.KindAdapterUnavailable, err, "start scan"),
		})
		return
	}
	m.scanning = true
	m.logger.Info("Started scanning for devices")
	m.refreshSnapshot()
}

func (m *Manager) stopScan() {
	if err := m.radio.StopScan(); err != nil {
		m.logger.WithError(err).Warn("Failed to stop scanning")
	}
	m.scanning = false
	m.logger.Info("Stopped scanning for devices")
	m.refreshSnapshot()
}

// Rescan begins a new scan session: the registry is cleared and scanning
// restarts. Valid only while Idle with the adapter powered on.
func (m *Manager) Rescan() error {
	return m.call(func() error {
		if m.sess != nil {
			return m.busyError()
		}
		if m.adapter != device.AdapterPoweredOn {
			return device.NewError(device.KindAdapterUnavailable, nil, "adapter %s", m.adapter)
		}
		if m.scanning {
			m.stopScan()
		}
		m.beginScanSession()
		if !m.scanning {
			return device.NewError(device.KindAdapterUnavailable, nil, "scan did not start")
		}
		return nil
	})
}
