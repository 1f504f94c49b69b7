package session_test

import (
	"context"

	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/testutils"
	"github.com/srg/blesend/session"
)

func (s *ManagerTestSuite) TestConnectReachesReady() {
	s.powerOn()
	s.drainNotes()

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	ready := s.awaitState(session.Ready)

	s.Equal(testutils.LampID, ready.Device.ID)
	s.Equal(testutils.LampWriteUUID, ready.Endpoint.Characteristic.UUID())

	dev, ok := s.mgr.ConnectedDevice()
	s.True(ok)
	s.Equal("Lamp", dev.Name)

	snap := s.mgr.Snapshot()
	s.False(snap.Scanning, "scanning stops before connecting")
	s.Equal(1, s.Radio.CallCount("StopScan"))
	s.False(snap.Endpoint.IsZero())
}

func (s *ManagerTestSuite) TestConnectPublishesEveryTransition() {
	s.powerOn()
	s.drainNotes()

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.Equal([]session.State{
		session.Connecting,
		session.Connected,
		session.DiscoveringServices,
		session.DiscoveringCharacteristics,
		session.Ready,
	}, s.collectStates(session.Ready))
	s.Equal([]string{"StartScan", "StopScan", "Connect", "DiscoverServices", "DiscoverCharacteristics"},
		s.Radio.Calls())

	s.Require().NoError(s.mgr.Disconnect())
	s.Equal([]session.State{session.Disconnecting, session.Idle}, s.collectStates(session.Idle))
}

func (s *ManagerTestSuite) TestConnectPreconditions() {
	s.Run("adapter not powered on", func() {
		s.ErrorIs(s.mgr.Connect(testutils.LampID, 0), device.ErrAdapterUnavailable)
		s.Equal(session.Idle, s.mgr.State())
	})

	s.powerOn()

	s.Run("unknown device", func() {
		err := s.mgr.Connect("00:00:00:00:00:00", 0)
		s.ErrorIs(err, device.ErrUnknownDevice)
		s.Equal(session.Idle, s.mgr.State())
		s.Equal(0, s.Radio.CallCount("Connect"))
	})
}

func (s *ManagerTestSuite) TestConnectWhileBusyLeavesSessionUntouched() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = false })

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.Connecting)

	err := s.mgr.Connect(testutils.SensorID, 0)
	s.ErrorIs(err, device.ErrAlreadyConnecting)

	snap := s.mgr.Snapshot()
	s.Equal(session.Connecting, snap.State)
	s.Equal(testutils.LampID, snap.Device.ID)
	s.Equal(1, s.Radio.CallCount("Connect"))
	s.Len(s.Clock.Pending(), 1, "no second timer is armed")

	s.Radio.Emit(device.Connected(s.Lamp.Handle()))
	s.awaitState(session.Ready)

	err = s.mgr.Connect(testutils.SensorID, 0)
	s.ErrorIs(err, device.ErrAlreadyConnected)
	s.Equal(testutils.LampID, s.mgr.Snapshot().Device.ID)
	s.Equal(1, s.Radio.CallCount("Connect"))
}

func (s *ManagerTestSuite) TestConnectRadioError() {
	s.powerOn()
	s.Radio.FailOn("Connect", assertErr("radio busy"))

	err := s.mgr.Connect(testutils.LampID, 0)
	s.ErrorIs(err, device.ErrConnectFailed)

	n := s.awaitState(session.Failed)
	s.ErrorIs(n.Err, device.ErrConnectFailed)
	s.Equal(session.Idle, s.mgr.State())
	s.Empty(s.Clock.Pending())
}

func (s *ManagerTestSuite) TestConnectUsesTimeout() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = false })

	s.Run("default", func() {
		s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
		armed := s.Clock.Armed()
		s.Require().Len(armed, 1)
		s.Equal(connectTimeout, armed[0].Duration())
		s.Require().NoError(s.mgr.Disconnect())
		s.awaitState(session.Idle)
	})

	s.Run("caller supplied", func() {
		s.Require().NoError(s.mgr.Connect(testutils.LampID, 3e9))
		armed := s.Clock.Armed()
		s.Equal(int64(3e9), int64(armed[len(armed)-1].Duration()))
	})
}

func (s *ManagerTestSuite) TestConnectTimeout() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = false })

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.Connecting)

	pending := s.Clock.Pending()
	s.Require().Len(pending, 1)
	s.True(s.Clock.Fire(pending[0]))

	n := s.awaitState(session.Failed)
	s.ErrorIs(n.Err, device.ErrTimeout)
	s.Equal(testutils.LampID, n.Device.ID)

	s.Equal(session.Idle, s.mgr.State())
	s.ErrorIs(s.mgr.LastFailure(), device.ErrTimeout)
	s.Equal(1, s.Radio.CallCount("CancelConnect"))
	s.Equal(0, s.Radio.CallCount("Disconnect"))

	s.Run("late connection is torn down, not resurrected", func() {
		s.Radio.Emit(device.Connected(s.Lamp.Handle()))
		s.sync()

		s.Equal(session.Idle, s.mgr.State())
		s.Equal(1, s.Radio.CallCount("Disconnect"))
		s.Equal(1, s.Radio.CallCount("CancelConnect"))
		s.Equal(0, s.Radio.CallCount("DiscoverServices"))
	})

	s.Run("clean reconnect afterwards", func() {
		s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = true })
		s.connectReady(s.Lamp)
		s.Equal(1, s.Radio.CallCount("CancelConnect"))
	})
}

// timeoutLampWithSlowRadio times out a connection to the lamp on a radio that
// confirms the cancelled attempt only when the test emits Disconnected
func (s *ManagerTestSuite) timeoutLampWithSlowRadio() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) {
		r.AutoConnect = false
		r.AutoDisconnect = false
	})

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.Connecting)
	s.Clock.Fire(s.Clock.Pending()[0])
	n := s.awaitState(session.Failed)
	s.Require().ErrorIs(n.Err, device.ErrTimeout)
	s.Require().Equal(1, s.Radio.CallCount("CancelConnect"))
}

func (s *ManagerTestSuite) TestReconnectAfterTimeoutWaitsForCancelledAttempt() {
	s.timeoutLampWithSlowRadio()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = true })

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.Connecting)
	s.sync()
	s.Equal(1, s.Radio.CallCount("Connect"), "dial waits for the cancelled attempt")

	s.Radio.Emit(device.Disconnected(s.Lamp.Handle(), context.Canceled))

	states := s.collectStates(session.Ready)
	s.NotContains(states, session.Failed)
	s.Equal(2, s.Radio.CallCount("Connect"))
	s.Equal(session.Ready, s.mgr.State())
}

func (s *ManagerTestSuite) TestReconnectStopsWaitingOnTimeout() {
	s.timeoutLampWithSlowRadio()

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.Connecting)
	pending := s.Clock.Pending()
	s.Require().Len(pending, 1)
	s.Clock.Fire(pending[0])

	n := s.awaitState(session.Failed)
	s.ErrorIs(n.Err, device.ErrTimeout)
	s.Equal(1, s.Radio.CallCount("Connect"))
	s.Equal(1, s.Radio.CallCount("CancelConnect"), "nothing was dialed to cancel")

	s.Run("next attempt dials straight away", func() {
		s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = true })
		s.connectReady(s.Lamp)
		s.Equal(2, s.Radio.CallCount("Connect"))
	})
}

func (s *ManagerTestSuite) TestDisconnectWhileDialDeferred() {
	s.timeoutLampWithSlowRadio()

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.Connecting)

	s.Require().NoError(s.mgr.Disconnect())
	idle := s.awaitState(session.Idle)
	s.Equal(testutils.LampID, idle.Device.ID)
	s.Equal(1, s.Radio.CallCount("CancelConnect"))
	s.Empty(s.Clock.Pending())

	s.Run("late confirmation dials nothing", func() {
		s.Radio.Emit(device.Disconnected(s.Lamp.Handle(), context.Canceled))
		s.sync()
		s.Equal(session.Idle, s.mgr.State())
		s.Equal(1, s.Radio.CallCount("Connect"))
	})
}

func (s *ManagerTestSuite) TestStrayConnectionConfirmationIsSwallowed() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoDisconnect = false })

	s.Radio.Emit(device.Connected(s.Lamp.Handle()))
	s.sync()
	s.Equal(1, s.Radio.CallCount("Disconnect"))

	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = false })
	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.Connecting)
	s.sync()
	s.Equal(0, s.Radio.CallCount("Connect"))

	s.Radio.Emit(device.Disconnected(s.Lamp.Handle(), nil))
	s.sync()
	s.Equal(session.Connecting, s.mgr.State())
	s.Nil(s.mgr.LastFailure())
	s.Equal(1, s.Radio.CallCount("Connect"))
}

func (s *ManagerTestSuite) TestTimerAfterConnectedIsIgnored() {
	s.powerOn()
	s.connectReady(s.Lamp)

	armed := s.Clock.Armed()
	s.Require().Len(armed, 1)
	s.Empty(s.Clock.Pending(), "connect timer is stopped on connection")

	// A timer that lost the race against Stop still runs its callback
	s.Clock.Fire(armed[0])
	s.sync()

	s.Equal(session.Ready, s.mgr.State())
	s.Equal(0, s.Radio.CallCount("CancelConnect"))
	s.Empty(s.drainFailures())
}

func (s *ManagerTestSuite) TestStaleTimerFromPreviousAttempt() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = false })

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	first := s.Clock.Pending()[0]
	s.Require().NoError(s.mgr.Disconnect())
	s.awaitState(session.Idle)

	s.Require().NoError(s.mgr.Connect(testutils.SensorID, 0))
	s.awaitState(session.Connecting)

	s.Clock.Fire(first)
	s.sync()

	s.Equal(session.Connecting, s.mgr.State())
	s.Equal(testutils.SensorID, s.mgr.Snapshot().Device.ID)
	s.Equal(1, s.Radio.CallCount("CancelConnect"), "only the explicit disconnect cancelled")
}

func (s *ManagerTestSuite) TestDisconnectFromEveryState() {
	s.powerOn()

	cases := []struct {
		name  string
		setup func()
		state session.State
		radio string
	}{
		{
			name: "connecting",
			setup: func() {
				s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = false })
				s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
			},
			state: session.Connecting,
			radio: "CancelConnect",
		},
		{
			name: "discovering services",
			setup: func() {
				s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoDiscover = false })
				s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
			},
			state: session.DiscoveringServices,
			radio: "Disconnect",
		},
		{
			name: "discovering characteristics",
			setup: func() {
				s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoDiscover = false })
				s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
				s.awaitState(session.DiscoveringServices)
				services := []device.Service{s.Lamp.Services[0]}
				s.Radio.Emit(device.ServicesDiscovered(s.Lamp.Handle(), services, nil))
			},
			state: session.DiscoveringCharacteristics,
			radio: "Disconnect",
		},
		{
			name:  "ready",
			setup: func() { s.Require().NoError(s.mgr.Connect(testutils.LampID, 0)) },
			state: session.Ready,
			radio: "Disconnect",
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.Radio.Configure(func(r *testutils.FakeRadio) {
				r.AutoConnect = true
				r.AutoDiscover = true
			})
			before := s.Radio.CallCount(tc.radio)

			tc.setup()
			s.awaitState(tc.state)

			s.Require().NoError(s.mgr.Disconnect())
			idle := s.awaitState(session.Idle)

			s.Equal(testutils.LampID, idle.Device.ID)
			s.NoError(idle.Err)
			s.Equal(before+1, s.Radio.CallCount(tc.radio))

			snap := s.mgr.Snapshot()
			s.Equal(session.Idle, snap.State)
			s.True(snap.Endpoint.IsZero())
			s.True(snap.Device.IsZero())
			s.Empty(s.Clock.Pending())
		})
	}
}

func (s *ManagerTestSuite) TestDisconnectWhenIdle() {
	s.ErrorIs(s.mgr.Disconnect(), device.ErrNotConnected)
}

func (s *ManagerTestSuite) TestDisconnectWithoutConfirmation() {
	s.powerOn()
	s.connectReady(s.Lamp)
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoDisconnect = false })

	s.Require().NoError(s.mgr.Disconnect())
	s.awaitState(session.Disconnecting)

	s.Run("repeated request is a no-op", func() {
		s.NoError(s.mgr.Disconnect())
		s.Equal(1, s.Radio.CallCount("Disconnect"))
	})

	pending := s.Clock.Pending()
	s.Require().Len(pending, 1)
	s.Equal(disconnectTimeout, pending[0].Duration())

	s.Clock.Fire(pending[0])
	s.awaitState(session.Idle)
	s.Equal(session.Idle, s.mgr.State())

	s.Run("late confirmation is ignored", func() {
		s.Radio.Emit(device.Disconnected(s.Lamp.Handle(), nil))
		s.sync()
		s.Equal(session.Idle, s.mgr.State())
		s.Nil(s.mgr.LastFailure())
	})
}

func (s *ManagerTestSuite) TestDisconnectRejectedByRadio() {
	s.powerOn()
	s.connectReady(s.Lamp)
	s.Radio.FailOn("Disconnect", assertErr("not connected"))

	s.Require().NoError(s.mgr.Disconnect())
	s.awaitState(session.Idle)
	s.Empty(s.Clock.Pending())
}

func (s *ManagerTestSuite) TestSequentialSessions() {
	s.powerOn()

	s.connectReady(s.Lamp)
	s.Require().NoError(s.mgr.Disconnect())
	s.awaitState(session.Idle)

	ready := s.connectReady(s.Sensor)
	s.Equal("ffe1", ready.Endpoint.Characteristic.UUID())

	dev, ok := s.mgr.ConnectedDevice()
	s.True(ok)
	s.Equal(testutils.SensorID, dev.ID)
}

func (s *ManagerTestSuite) TestUnsolicitedDisconnect() {
	s.powerOn()
	s.connectReady(s.Lamp)

	s.Radio.Emit(device.Disconnected(s.Lamp.Handle(), assertErr("supervision timeout")))

	n := s.awaitState(session.Failed)
	s.ErrorIs(n.Err, device.ErrLinkLost)
	s.ErrorContains(n.Err, "supervision timeout")

	s.Equal(session.Idle, s.mgr.State())
	s.ErrorIs(s.mgr.LastFailure(), device.ErrLinkLost)
	s.Equal(0, s.Radio.CallCount("Disconnect"))

	_, ok := s.mgr.ConnectedDevice()
	s.False(ok)
	s.Empty(s.drainStates(), "failure is the last notification")
}

func (s *ManagerTestSuite) TestDisconnectedWhileConnecting() {
	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = false })

	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.Connecting)

	s.Radio.Emit(device.Disconnected(s.Lamp.Handle(), context.DeadlineExceeded))

	n := s.awaitState(session.Failed)
	s.ErrorIs(n.Err, device.ErrConnectFailed)
	s.ErrorIs(n.Err, context.DeadlineExceeded)
	s.Empty(s.Clock.Pending())
}

func (s *ManagerTestSuite) TestEventsForOtherDevicesIgnored() {
	s.powerOn()
	s.connectReady(s.Lamp)

	s.Radio.Emit(device.Disconnected(s.Sensor.Handle(), nil))
	s.Radio.Emit(device.WriteCompleted(s.Sensor.Handle(), nil, nil))
	s.sync()

	s.Equal(session.Ready, s.mgr.State())
}

func (s *ManagerTestSuite) drainFailures() []session.Notification {
	var out []session.Notification
	for _, n := range s.drainNotes() {
		if n.Kind == session.KindState && n.State == session.Failed {
			out = append(out, n)
		}
	}
	return out
}

func (s *ManagerTestSuite) drainStates() []session.Notification {
	var out []session.Notification
	for _, n := range s.drainNotes() {
		if n.Kind == session.KindState {
			out = append(out, n)
		}
	}
	return out
}

// collectStates returns the state transitions published up to and including last
func (s *ManagerTestSuite) collectStates(last session.State) []session.State {
	var states []session.State
	s.awaitNote(func(n session.Notification) bool {
		if n.Kind != session.KindState {
			return false
		}
		states = append(states, n.State)
		return n.State == last
	})
	return states
}
