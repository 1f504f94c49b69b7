package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
)

// startDiscovery walks the GATT tree of a freshly connected device
func (m *Manager) startDiscovery() {
	s := m.sess
	m.setState(DiscoveringServices)

	m.logger.WithFields(s.fields()).Debug("Discovering services...")
	if err := m.radio.DiscoverServices(s.handle); err != nil {
		m.fail(device.NewError(device.KindDiscovery, err, "discover services of %s", s.device.ID))
	}
}

// discoveryTarget returns the session if ev belongs to it and it is in want
func (m *Manager) discoveryTarget(ev device.Event, want State) *connSession {
	s := m.sess
	if s == nil || s.state != want || s.device.ID != ev.HandleID() {
		m.logger.WithFields(logrus.Fields{
			"event":  ev.Type,
			"handle": ev.HandleID(),
		}).Debug("Discovery result for inactive session ignored")
		return nil
	}
	return s
}

func (m *Manager) onServicesDiscovered(ev device.Event) {
	s := m.discoveryTarget(ev, DiscoveringServices)
	if s == nil {
		return
	}
	if ev.Err != nil {
		m.fail(device.NewError(device.KindDiscovery, ev.Err, "discover services of %s", s.device.ID))
		return
	}

	m.logger.WithFields(s.fields()).WithField("services", len(ev.Services)).Debug("Services discovered")

	if len(ev.Services) == 0 {
		m.fail(device.NewError(device.KindNoWritableEndpoint, nil, "%s exposes no services", s.device.ID))
		return
	}

	s.pendingServices = len(ev.Services)
	m.setState(DiscoveringCharacteristics)

	for _, svc := range ev.Services {
		if err := m.radio.DiscoverCharacteristics(s.handle, svc); err != nil {
			m.fail(device.NewError(device.KindDiscovery, err, "discover characteristics of service %s", svc.UUID()))
			return
		}
	}
}

// onCharacteristicsDiscovered records writable characteristics. Every writable
// characteristic overwrites the candidate, so the last one reported across all
// services becomes the endpoint.
func (m *Manager) onCharacteristicsDiscovered(ev device.Event) {
	s := m.discoveryTarget(ev, DiscoveringCharacteristics)
	if s == nil {
		return
	}
	if ev.Err != nil {
		svc := ""
		if ev.Service != nil {
			svc = ev.Service.UUID()
		}
		m.fail(device.NewError(device.KindDiscovery, ev.Err, "discover characteristics of service %s", svc))
		return
	}

	for _, char := range ev.Characteristics {
		props := char.GetProperties()
		m.logger.WithFields(logrus.Fields{
			"char_uuid":  char.UUID(),
			"properties": props,
		}).Debug("Discovered characteristic")

		if props.Writable() {
			s.candidate = device.Endpoint{Service: ev.Service, Characteristic: char}
		}
	}

	s.pendingServices--
	if s.pendingServices > 0 {
		return
	}

	if s.candidate.IsZero() {
		m.fail(device.NewError(device.KindNoWritableEndpoint, nil, "%s has no writable characteristic", s.device.ID))
		return
	}

	s.endpoint = s.candidate
	m.logger.WithFields(s.fields()).WithField("endpoint", s.endpoint.String()).Info("Writable endpoint selected")
	m.setState(Ready)
}
