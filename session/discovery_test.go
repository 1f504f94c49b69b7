package session_test

import (
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/testutils"
	"github.com/srg/blesend/session"
)

func (s *ManagerTestSuite) TestLastWritableCharacteristicWins() {
	multi := testutils.NewPeripheralBuilder("CC:00:00:00:00:01").
		WithName("Multi").
		WithService("a000").
		WithCharacteristic("a001", "write").
		WithCharacteristic("a002", "read").
		WithService("b000").
		WithCharacteristic("b001", "write-without-response").
		WithCharacteristic("b002", "read,write").
		WithCharacteristic("b003", "notify").
		Build()
	s.Radio.AddPeripheral(multi)
	s.Radio.PowerOn()
	s.WaitFor(func() bool { return s.Registry.Len() == 3 })

	ready := s.connectReady(multi)

	s.Equal("b002", ready.Endpoint.Characteristic.UUID())
	s.Equal("b000", ready.Endpoint.Service.UUID())
	s.Equal("b000/b002", ready.Endpoint.String())
	s.Equal(2, s.Radio.CallCount("DiscoverCharacteristics"))
}

func (s *ManagerTestSuite) TestLastWinsAcrossInterleavedResults() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoDiscover = false })

	s.Require().NoError(s.mgr.Connect(testutils.SensorID, 0))
	s.awaitState(session.DiscoveringServices)

	h := s.Sensor.Handle()
	battery, custom := s.Sensor.Services[0], s.Sensor.Services[1]
	s.Radio.Emit(device.ServicesDiscovered(h, []device.Service{battery, custom}, nil))
	s.awaitState(session.DiscoveringCharacteristics)

	// The custom service answers first; the battery service's writable
	// characteristic arrives last and wins.
	s.Radio.Emit(device.CharacteristicsDiscovered(h, custom, []device.Characteristic{custom.Characteristics[0]}, nil))
	late := &testutils.FakeCharacteristic{CharUUID: "2a1a", Properties: testutils.ParseProperties("write")}
	s.Radio.Emit(device.CharacteristicsDiscovered(h, battery, []device.Characteristic{battery.Characteristics[0], late}, nil))

	ready := s.awaitState(session.Ready)
	s.Equal("2a1a", ready.Endpoint.Characteristic.UUID())
	s.Equal("180f", ready.Endpoint.Service.UUID())
}

func (s *ManagerTestSuite) TestNoWritableCharacteristic() {
	readOnly := testutils.NewPeripheralBuilder("CC:00:00:00:00:02").
		WithName("Thermometer").
		WithService("1809").
		WithCharacteristic("2a1c", "read,indicate").
		Build()
	s.Radio.AddPeripheral(readOnly)
	s.Radio.PowerOn()
	s.WaitFor(func() bool { return s.Registry.Len() == 3 })

	s.Require().NoError(s.mgr.Connect(readOnly.ID, 0))

	n := s.awaitState(session.Failed)
	s.ErrorIs(n.Err, device.ErrNoWritableEndpoint)
	s.Equal(session.Idle, s.mgr.State())
	s.AwaitCalls("Disconnect", 1)
}

func (s *ManagerTestSuite) TestNoServices() {
	empty := testutils.NewPeripheralBuilder("CC:00:00:00:00:03").Build()
	s.Radio.AddPeripheral(empty)
	s.Radio.PowerOn()
	s.WaitFor(func() bool { return s.Registry.Len() == 3 })

	entry, ok := s.Registry.Lookup(empty.ID)
	s.Require().True(ok)
	s.Equal(device.UnknownName, entry.Device.Name)

	s.Require().NoError(s.mgr.Connect(empty.ID, 0))

	n := s.awaitState(session.Failed)
	s.ErrorIs(n.Err, device.ErrNoWritableEndpoint)
	s.Equal(0, s.Radio.CallCount("DiscoverCharacteristics"))
	s.AwaitCalls("Disconnect", 1)
}

func (s *ManagerTestSuite) TestDiscoveryErrors() {
	s.powerOn()

	cases := []struct {
		name  string
		setup func()
	}{
		{"services reported with error", func() {
			s.Radio.Configure(func(r *testutils.FakeRadio) { r.ServicesErr = assertErr("gatt error 0x0a") })
		}},
		{"characteristics reported with error", func() {
			s.Radio.Configure(func(r *testutils.FakeRadio) { r.CharacteristicsErr = assertErr("gatt error 0x0a") })
		}},
		{"services request rejected", func() {
			s.Radio.FailOn("DiscoverServices", assertErr("not connected"))
		}},
		{"characteristics request rejected", func() {
			s.Radio.FailOn("DiscoverCharacteristics", assertErr("not connected"))
		}},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.Radio.Configure(func(r *testutils.FakeRadio) {
				r.ServicesErr = nil
				r.CharacteristicsErr = nil
			})
			s.Radio.FailOn("DiscoverServices", nil).FailOn("DiscoverCharacteristics", nil)
			tc.setup()
			before := s.Radio.CallCount("Disconnect")

			s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))

			n := s.awaitState(session.Failed)
			s.ErrorIs(n.Err, device.ErrDiscovery)
			s.Equal(session.Idle, s.mgr.State())
			s.AwaitCalls("Disconnect", before+1)
		})
	}
}

func (s *ManagerTestSuite) TestDiscoveryResultAfterDisconnectIgnored() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoDiscover = false })

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.DiscoveringServices)
	s.Require().NoError(s.mgr.Disconnect())
	s.awaitState(session.Idle)

	services := []device.Service{s.Lamp.Services[0]}
	s.Radio.Emit(device.ServicesDiscovered(s.Lamp.Handle(), services, nil))
	s.sync()

	s.Equal(session.Idle, s.mgr.State())
	s.Equal(0, s.Radio.CallCount("DiscoverCharacteristics"))
}
