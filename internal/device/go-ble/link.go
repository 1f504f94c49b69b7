package goble

import (
	"context"
	"sync"

	"github.com/srg/blesend/internal/device"
)

// link is one connection attempt to a peripheral, from dial until it comes down.
// GATT operations on the link run one at a time in submission order.
type link struct {
	h      device.Handle
	cancel context.CancelFunc // aborts the dial

	mu      sync.Mutex
	client  gattClient
	closing bool // a disconnect was requested
	aborted bool // the dial was cancelled
	down    bool
	queue   []func(gattClient)

	wake chan struct{}
	done chan struct{}
}

func newLink(h device.Handle, cancel context.CancelFunc) *link {
	return &link{
		h:      h,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// attach records the connected client; false if the link already came down
func (l *link) attach(c gattClient) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return false
	}
	l.client = c
	return true
}

// connectedClient returns the client of a live link
func (l *link) connectedClient() gattClient {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return nil
	}
	return l.client
}

func (l *link) isDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.down
}

// abort cancels a dial in progress
func (l *link) abort() {
	l.mu.Lock()
	l.aborted = true
	l.mu.Unlock()
	l.cancel()
}

// released reports whether the owner gave the link up, so the peripheral's
// slot can go to a new link before this one finishes unwinding
func (l *link) released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.down || l.closing || l.aborted
}

// requestClose flags the link as closing and returns its client, if any
func (l *link) requestClose() gattClient {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closing = true
	return l.client
}

// markDown flips the link to down exactly once
func (l *link) markDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return false
	}
	l.down = true
	l.queue = nil
	close(l.done)
	return true
}

// reason maps how the link ended to the error reported with Disconnected
func (l *link) reason(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return nil
	}
	if err == nil {
		return errLinkDropped
	}
	return err
}

func (l *link) enqueue(op func(gattClient)) bool {
	l.mu.Lock()
	if l.down || l.client == nil {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, op)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// run executes queued operations until the link comes down
func (l *link) run(ctx context.Context) {
	for {
		select {
		case <-l.wake:
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}

		for {
			l.mu.Lock()
			if l.down || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			op := l.queue[0]
			l.queue = l.queue[1:]
			client := l.client
			l.mu.Unlock()

			op(client)
		}
	}
}
