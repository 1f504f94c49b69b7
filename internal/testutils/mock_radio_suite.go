package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/registry"
	"github.com/stretchr/testify/suite"
)

const (
	LampID   = "AA:BB:CC:DD:EE:01"
	SensorID = "AA:BB:CC:DD:EE:02"

	// LampWriteUUID is the last writable characteristic of the lamp profile
	LampWriteUUID = "ff02"
)

// MockRadioSuite provides a reusable test suite backed by a FakeRadio.
//
// By default the radio advertises two peripherals:
//
//	Lamp   (LampID):   service ff00 with ff01 (read,write) and ff02 (write-without-response)
//	Sensor (SensorID): battery service 180f with 2a19 (read,notify), service ffe0 with ffe1 (write)
//
// Custom peripherals:
//
//	func (s *MySuite) SetupTest() {
//	    s.MockRadioSuite.SetupTest()
//	    s.Radio.AddPeripheral(testutils.NewPeripheralBuilder("CC").WithName("Other").Build())
//	}
type MockRadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Radio    *FakeRadio
	Clock    *FakeClock
	Registry *registry.Registry

	Lamp   *Peripheral
	Sensor *Peripheral

	// TestTimeout bounds every wait on asynchronous behaviour
	TestTimeout time.Duration
}

func (s *MockRadioSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.TestTimeout == 0 {
		s.TestTimeout = 2 * time.Second
	}

	s.Lamp = NewPeripheralBuilder(LampID).
		WithName("Lamp").
		WithService("ff00").
		WithCharacteristic("ff01", "read,write").
		WithCharacteristic(LampWriteUUID, "write-without-response").
		Build()

	s.Sensor = NewPeripheralBuilder(SensorID).
		WithName("Sensor").
		WithRSSI(-70).
		WithService("180f").
		WithCharacteristic("2a19", "read,notify").
		WithService("ffe0").
		WithCharacteristic("ffe1", "write").
		Build()

	s.Radio = NewFakeRadio().AddPeripheral(s.Lamp, s.Sensor)
	s.Clock = NewFakeClock()
	s.Registry = registry.New(s.Logger)
}

// WaitFor waits for cond using the suite timeout
func (s *MockRadioSuite) WaitFor(cond func() bool, msgAndArgs ...interface{}) {
	s.Require().Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}

// AwaitCalls waits until the radio has seen n calls of method
func (s *MockRadioSuite) AwaitCalls(method string, n int) {
	s.WaitFor(func() bool { return s.Radio.CallCount(method) >= n },
		"expected %d call(s) of %s, got %v", n, method, s.Radio.Calls())
}
