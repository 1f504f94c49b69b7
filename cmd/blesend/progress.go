package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/srg/blesend/internal/groutine"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ProgressPrinter redraws a single status line with elapsed or remaining time.
//
// Usage:
//
//	p := NewProgressPrinter(out, "Scanning for BLE devices", "Scanning", "Processing results")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. On a writer that is not a terminal it prints nothing.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	stopPhases map[string]struct{}
	duration   time.Duration // countdown when > 0
	enabled    bool

	mu        sync.Mutex
	phase     string
	started   bool
	startTime time.Time
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// NewProgressPrinter creates a progress printer that counts up.
// Setting one of stopPhases through Callback stops the printer.
func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return NewCountdownProgressPrinter(out, prefix, phase, 0, stopPhases...)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from duration
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	return &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
		duration:   duration,
		enabled:    isTerminal(out),
		phase:      phase,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins redrawing the status line in the background
func (p *ProgressPrinter) Start() {
	p.mu.Lock()
	p.started = true
	p.startTime = time.Now()
	p.mu.Unlock()

	if !p.enabled {
		close(p.done)
		return
	}
	p.draw()

	groutine.Go(context.Background(), "progress-printer", func(context.Context) {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.draw()
			}
		}
	})
}

// line renders the current status line
func (p *ProgressPrinter) line() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	seconds := int(elapsed.Seconds())
	if p.duration > 0 {
		remaining := p.duration - elapsed
		seconds = 0
		if remaining > 0 {
			// Round to the nearest second, e.g. 3.7s -> 4s
			seconds = int(remaining.Seconds() + 0.5)
		}
	}

	if seconds > 0 {
		return fmt.Sprintf("\r%s (%s %ds)   ", p.prefix, p.phase, seconds)
	}
	return fmt.Sprintf("\r%s (%s...)   ", p.prefix, p.phase)
}

func (p *ProgressPrinter) draw() {
	fmt.Fprint(p.out, p.line())
}

// Callback returns a phase callback for scanner and inspector.
// Safe to call from multiple goroutines.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.mu.Lock()
		p.phase = phase
		p.mu.Unlock()

		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// Stop ends the display and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()

		close(p.stop)
		if !started {
			return
		}
		<-p.done
		if p.enabled {
			fmt.Fprint(p.out, clearLineSequence)
		}
	})
}
