package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the part of testing.T the asserter reports through
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextAssertOptions controls how command output is normalized before comparison
type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares command output and reports a unified diff on mismatch
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with default options
func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TextAsserter{t: t, options: o}
}

// Assert reports whether actual matches expected after normalization
func (ta *TextAsserter) Assert(actual, expected string) bool {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return true
	}

	edits := myers.ComputeEdits("", e, a)
	unified := gotextdiff.ToUnified("expected", "actual", e, edits)
	ta.t.Errorf("Text assertion failed - unified diff:\n%s", ta.colorize(fmt.Sprint(unified)))
	return false
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}

	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}

	var result []string
	for _, line := range strings.Split(text, "\n") {
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}

// WithIgnoreEmptyLines drops blank lines before comparing
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreEmptyLines = ignore
	}
}

// WithEnableColors colors the diff output
func WithEnableColors(enable bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.EnableColors = enable
	}
}
