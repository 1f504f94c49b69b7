package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/srg/blesend/controller"
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/testutils"
	"github.com/srg/blesend/session"
	"github.com/stretchr/testify/suite"
)

type ConsoleTestSuite struct {
	CommandTestSuite

	mgr     *session.Manager
	ctrl    *controller.Controller
	out     *bytes.Buffer
	console *console
}

func (s *ConsoleTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()

	s.mgr = session.New(s.Radio, s.Registry, s.Logger, session.DefaultOptions())
	s.mgr.Start(context.Background())
	s.ctrl = controller.New(s.mgr, s.Logger, nil)
	s.out = new(bytes.Buffer)
	s.console = newConsole(s.ctrl, s.out, false)

	s.Radio.PowerOn()
	s.WaitFor(func() bool { return len(s.ctrl.Devices()) == 2 })
}

func (s *ConsoleTestSuite) TearDownTest() {
	s.mgr.Close()
	s.CommandTestSuite.TearDownTest()
}

// exec runs a console line and returns what it printed
func (s *ConsoleTestSuite) exec(line string) (string, error) {
	s.out.Reset()
	quit, err := s.console.exec(line)
	s.False(quit)
	return s.out.String(), err
}

func (s *ConsoleTestSuite) TestList() {
	out, err := s.exec("list")
	s.Require().NoError(err)
	s.AssertText(out, `
1. Lamp (AA:BB:CC:DD:EE:01) -50 dBm
2. Sensor (AA:BB:CC:DD:EE:02) -70 dBm
`)
}

func (s *ConsoleTestSuite) TestConnectSendAndToggle() {
	_, err := s.exec("connect 1")
	s.Require().NoError(err)
	s.WaitFor(func() bool { return s.ctrl.Snapshot().State == session.Ready })

	out, _ := s.exec("list")
	s.AssertText(out, `
1. Lamp (AA:BB:CC:DD:EE:01) -50 dBm  Connected
2. Sensor (AA:BB:CC:DD:EE:02) -70 dBm
`)

	_, err = s.exec("send N")
	s.Require().NoError(err)
	s.WaitFor(func() bool { return len(s.Radio.Writes()) == 1 })

	out, _ = s.exec("status")
	s.AssertText(out, `
Adapter: powered_on
Session: ready, Lamp (AA:BB:CC:DD:EE:01) via ff00/ff02
`)

	// selecting the connected device again disconnects it
	_, err = s.exec("connect " + strings.ToLower(testutils.LampID))
	s.Require().NoError(err)
	s.WaitFor(func() bool { return s.ctrl.Snapshot().State == session.Idle })
	s.Equal(1, s.Radio.CallCount("Disconnect"))
}

func (s *ConsoleTestSuite) TestConnectingLabel() {
	s.Radio.Configure(func(r *testutils.FakeRadio) { r.AutoConnect = false })

	_, err := s.exec("connect 2")
	s.Require().NoError(err)
	s.WaitFor(func() bool { return s.ctrl.Snapshot().State == session.Connecting })

	out, _ := s.exec("list")
	s.Contains(out, "2. Sensor (AA:BB:CC:DD:EE:02) -70 dBm  Connecting...")

	_, err = s.exec("disconnect")
	s.Require().NoError(err)
	s.WaitFor(func() bool { return s.ctrl.Snapshot().State == session.Idle })
	s.Equal(1, s.Radio.CallCount("CancelConnect"))
}

func (s *ConsoleTestSuite) TestErrors() {
	tests := []struct {
		line   string
		target error
	}{
		{"send N", device.ErrNotConnected},
		{"connect 7", device.ErrUnknownDevice},
		{"connect 0", device.ErrUnknownDevice},
		{"connect", errMissingArgument},
		{"send", errMissingArgument},
		{"disconnect", device.ErrNotConnected},
	}
	for _, tt := range tests {
		_, err := s.exec(tt.line)
		s.ErrorIs(err, tt.target, tt.line)
	}

	_, err := s.exec("frobnicate")
	s.ErrorContains(err, `unknown command "frobnicate"`)
}

func (s *ConsoleTestSuite) TestSendValidatesPayload() {
	_, err := s.exec("connect 1")
	s.Require().NoError(err)
	s.WaitFor(func() bool { return s.ctrl.Snapshot().State == session.Ready })

	_, err = s.exec("send hello")
	s.ErrorIs(err, device.ErrInvalidCommand)
	s.Empty(s.Radio.Writes())
}

func (s *ConsoleTestSuite) TestRescan() {
	_, err := s.exec("rescan")
	s.Require().NoError(err)
	s.WaitFor(func() bool { return s.Radio.CallCount("StartScan") == 2 })
	s.WaitFor(func() bool { return len(s.ctrl.Devices()) == 2 })
}

func (s *ConsoleTestSuite) TestRunUntilQuit() {
	s.out.Reset()
	err := s.console.run(context.Background(), strings.NewReader("help\n\nbogus\nquit\nlist\n"))
	s.Require().NoError(err)

	out := s.out.String()
	s.Contains(out, "connect <n|address>")
	s.Contains(out, `error: unknown command "bogus"`)
	s.NotContains(out, "1. Lamp", "nothing runs after quit")
}

func (s *ConsoleTestSuite) TestRunStopsAtEOF() {
	done := make(chan error, 1)
	go func() { done <- s.console.run(context.Background(), strings.NewReader("status\n")) }()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(s.TestTimeout):
		s.FailNow("console did not stop at end of input")
	}
}

func (s *ConsoleTestSuite) TestDescribe() {
	lamp := device.Device{ID: testutils.LampID, Name: "Lamp"}
	tests := []struct {
		n    session.Notification
		want string
	}{
		{session.Notification{Kind: session.KindAdapter, Adapter: device.AdapterPoweredOff}, "Bluetooth adapter: powered_off"},
		{session.Notification{Kind: session.KindState, State: session.Connecting, Device: lamp}, "Connecting to Lamp (AA:BB:CC:DD:EE:01)..."},
		{session.Notification{Kind: session.KindState, State: session.DiscoveringServices, Device: lamp}, ""},
		{session.Notification{Kind: session.KindState, State: session.Idle}, ""},
		{session.Notification{Kind: session.KindState, State: session.Idle, Device: lamp}, "Disconnected from Lamp (AA:BB:CC:DD:EE:01)"},
		{session.Notification{Kind: session.KindWrite, Device: lamp}, "Lamp (AA:BB:CC:DD:EE:01) acknowledged the write"},
		{
			session.Notification{Kind: session.KindWrite, Device: lamp, Err: errors.New("att: busy")},
			"Write to Lamp (AA:BB:CC:DD:EE:01) failed: att: busy",
		},
	}
	for _, tt := range tests {
		s.Equal(tt.want, s.console.describe(tt.n), tt.n.String())
	}
}

func (s *ConsoleTestSuite) TestConsoleCommand() {
	out, err := s.ExecuteCommand("status\nquit\n", "console")
	s.Require().NoError(err)
	s.Contains(out, "Adapter: ")
	s.Contains(out, "Session: idle")
	s.Equal(1, s.Radio.CallCount("Close"))
}

func TestConsoleTestSuite(t *testing.T) {
	suite.Run(t, new(ConsoleTestSuite))
}
