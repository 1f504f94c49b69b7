package session_test

import (
	"bytes"

	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/testutils"
	"github.com/srg/blesend/session"
	"github.com/stretchr/testify/mock"
)

func (s *ManagerTestSuite) awaitWrite() session.Notification {
	return s.awaitNote(func(n session.Notification) bool { return n.Kind == session.KindWrite })
}

func (s *ManagerTestSuite) TestSendWithAcknowledgment() {
	s.powerOn()
	s.connectReady(s.Lamp)

	s.Require().NoError(s.mgr.Send([]byte("N")))

	ack := s.awaitWrite()
	s.NoError(ack.Err)
	s.Equal(testutils.LampID, ack.Device.ID)
	s.Equal(testutils.LampWriteUUID, ack.Characteristic.UUID())

	s.Equal([][]byte{[]byte("N")}, s.Radio.Writes())
	s.Radio.AssertCalled(s.T(), "Write", s.Lamp.Handle(), s.Lamp.Characteristic(testutils.LampWriteUUID), []byte("N"), true)
	s.Equal(testutils.DefaultMaxWriteSize, s.mgr.Snapshot().Endpoint.MaxWriteSize)
}

func (s *ManagerTestSuite) TestSendAtExactLimit() {
	s.powerOn()
	s.connectReady(s.Lamp)

	payload := bytes.Repeat([]byte{0x7f}, testutils.DefaultMaxWriteSize)
	s.Require().NoError(s.mgr.Send(payload))
	s.awaitWrite()
	s.Equal([][]byte{payload}, s.Radio.Writes())
}

func (s *ManagerTestSuite) TestSendPayloadTooLarge() {
	s.powerOn()
	s.connectReady(s.Lamp)

	err := s.mgr.Send(bytes.Repeat([]byte("x"), testutils.DefaultMaxWriteSize+1))
	s.ErrorIs(err, device.ErrPayloadTooLarge)
	s.Empty(s.Radio.Writes(), "oversized payload never reaches the radio")
	s.Equal(session.Ready, s.mgr.State(), "session survives a rejected payload")
}

func (s *ManagerTestSuite) TestSendQueriesLimitEveryTime() {
	s.powerOn()
	s.connectReady(s.Lamp)

	s.Require().NoError(s.mgr.Send([]byte("hello")))
	s.awaitWrite()

	s.Radio.SetMaxWriteSize(4)
	s.ErrorIs(s.mgr.Send([]byte("hello")), device.ErrPayloadTooLarge)
	s.Equal(4, s.mgr.Snapshot().Endpoint.MaxWriteSize)

	s.Radio.SetMaxWriteSize(244)
	s.Require().NoError(s.mgr.Send(bytes.Repeat([]byte("y"), 200)))
	s.awaitWrite()

	s.Equal(3, s.Radio.CallCount("MaxWriteSize"))
	s.Len(s.Radio.Writes(), 2)
}

func (s *ManagerTestSuite) TestSendWhenNotReady() {
	s.Run("idle", func() {
		s.ErrorIs(s.mgr.Send([]byte("N")), device.ErrNotConnected)
	})

	s.powerOn()
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoDiscover = false })
	s.Require().NoError(s.mgr.Connect(testutils.LampID, 0))
	s.awaitState(session.DiscoveringServices)

	s.Run("discovering", func() {
		s.ErrorIs(s.mgr.Send([]byte("N")), device.ErrNotConnected)
	})

	s.Equal(0, s.Radio.CallCount("MaxWriteSize"))
	s.Radio.AssertNotCalled(s.T(), "Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ManagerTestSuite) TestSendRadioErrors() {
	s.powerOn()
	s.connectReady(s.Lamp)

	s.Run("limit query fails", func() {
		s.Radio.FailOn("MaxWriteSize", assertErr("no link"))
		defer s.Radio.FailOn("MaxWriteSize", nil)

		s.ErrorIs(s.mgr.Send([]byte("N")), device.ErrWrite)
		s.Empty(s.Radio.Writes())
	})

	s.Run("write rejected", func() {
		s.Radio.FailOn("Write", assertErr("busy"))
		defer s.Radio.FailOn("Write", nil)

		err := s.mgr.Send([]byte("N"))
		s.ErrorIs(err, device.ErrWrite)
		s.ErrorContains(err, "busy")
	})

	s.Equal(session.Ready, s.mgr.State())
}

func (s *ManagerTestSuite) TestSendAcknowledgedWithError() {
	s.powerOn()
	s.connectReady(s.Lamp)
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AckErr = assertErr("write not permitted") })

	s.Require().NoError(s.mgr.Send([]byte("F")))

	ack := s.awaitWrite()
	s.ErrorIs(ack.Err, device.ErrWrite)
	s.ErrorContains(ack.Err, "write not permitted")
	s.Equal(session.Ready, s.mgr.State())
}

func (s *ManagerTestSuite) TestSendCopiesPayload() {
	s.powerOn()
	s.connectReady(s.Lamp)

	payload := []byte("N")
	s.Require().NoError(s.mgr.Send(payload))
	payload[0] = 'F'

	s.awaitWrite()
	s.Equal([]byte("N"), s.Radio.Writes()[0])
}
