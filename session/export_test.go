package session

import "time"

type Stopper = stopper

// SetAfterFunc replaces the timer factory; call before Start
func SetAfterFunc(m *Manager, fn func(d time.Duration, f func()) Stopper) {
	m.afterFunc = fn
}

// Sync waits until the actor has processed everything queued before it
func Sync(m *Manager) error {
	return m.call(func() error { return nil })
}
