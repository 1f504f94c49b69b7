package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/devicefactory"
	"github.com/srg/blesend/internal/testutils"
)

// fastConfig keeps command runs short against the fake radio
const fastConfig = `
log_level: debug
connect_timeout: 500ms
disconnect_timeout: 200ms
scan_duration: 50ms
`

// CommandTestSuite runs commands against a FakeRadio injected through devicefactory
type CommandTestSuite struct {
	testutils.MockRadioSuite

	originalFactory func(*logrus.Logger) devicefactory.Radio
	configPath      string
	stderr          bytes.Buffer
}

func (s *CommandTestSuite) SetupTest() {
	s.MockRadioSuite.SetupTest()

	s.originalFactory = devicefactory.RadioFactory
	devicefactory.RadioFactory = func(*logrus.Logger) devicefactory.Radio { return s.Radio }

	s.configPath = filepath.Join(s.T().TempDir(), "blesend.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte(fastConfig), 0o600))
	s.stderr.Reset()
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.RadioFactory = s.originalFactory
}

// ExecuteCommand runs the CLI with args and the suite config, returns stdout and error.
// Log output is kept in s.stderr.
func (s *CommandTestSuite) ExecuteCommand(input string, args ...string) (string, error) {
	root := newRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(&s.stderr)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(append(args, "--config", s.configPath))
	err := root.Execute()
	return out.String(), err
}

// AssertText compares command output, ignoring surrounding blank space
func (s *CommandTestSuite) AssertText(actual, expected string) {
	testutils.NewTextAsserter(s.T()).Assert(actual, expected)
}
