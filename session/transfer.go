package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
)

// Send writes payload to the session's endpoint with acknowledgment. It
// returns once the radio accepts the request; the acknowledgment arrives later
// as a KindWrite notification.
func (m *Manager) Send(payload []byte) error {
	// The caller may reuse payload once Send returns.
	data := append([]byte(nil), payload...)
	return m.call(func() error {
		return m.send(data)
	})
}

func (m *Manager) send(payload []byte) error {
	s := m.sess
	if s == nil || s.state != Ready {
		return device.NewError(device.KindNotConnected, nil, "no ready session")
	}

	// The limit is renegotiated by the link; never cache it.
	limit, err := m.radio.MaxWriteSize(s.handle)
	if err != nil {
		return device.NewError(device.KindWrite, err, "query maximum write size")
	}
	s.endpoint.MaxWriteSize = limit

	if len(payload) > limit {
		return device.NewError(device.KindPayloadTooLarge, nil, "payload is %d bytes, link allows %d", len(payload), limit)
	}

	if err := m.radio.Write(s.handle, s.endpoint.Characteristic, payload, true); err != nil {
		return device.NewError(device.KindWrite, err, "write to %s", s.endpoint)
	}

	m.logger.WithFields(s.fields()).WithFields(logrus.Fields{
		"bytes":    len(payload),
		"limit":    limit,
		"endpoint": s.endpoint.String(),
	}).Info("Data sent")
	m.refreshSnapshot()
	return nil
}

func (m *Manager) onWriteCompleted(ev device.Event) {
	s := m.sess
	if s == nil || s.device.ID != ev.HandleID() {
		m.logger.WithField("handle", ev.HandleID()).Debug("Write acknowledgment for inactive session ignored")
		return
	}

	n := Notification{Kind: KindWrite, Device: s.device, Characteristic: ev.Characteristic}
	if ev.Err != nil {
		uuid := ""
		if ev.Characteristic != nil {
			uuid = ev.Characteristic.UUID()
		}
		n.Err = device.NewError(device.KindWrite, ev.Err, "characteristic %s", uuid)
		m.logger.WithFields(s.fields()).WithError(ev.Err).Error("Error writing value to characteristic")
	} else {
		m.logger.WithFields(s.fields()).Debug("Write acknowledged")
	}
	m.publish(n)
}
