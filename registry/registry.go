package registry

import (
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultSubscriberBuffer is the ring buffer size handed to each subscriber
const DefaultSubscriberBuffer = 64

// EventType marks what happened to the registry
type EventType int

const (
	EventAdded EventType = iota
	EventReset
)

// Event is published to subscribers on every registry mutation
type Event struct {
	Type   EventType
	Device device.Device // zero for EventReset
}

// Entry pairs a device with the radio handle used to reach it
type Entry struct {
	Device device.Device
	Handle device.Handle
}

// Liveness is per-device sighting bookkeeping kept outside the mapping
type Liveness struct {
	RSSI      int
	LastSeen  time.Time
	Sightings int
}

// Registry tracks discovered peripherals in first-seen order.
// An identifier maps to at most one entry and entries are never replaced.
type Registry struct {
	mu      sync.RWMutex
	entries *orderedmap.OrderedMap[string, Entry]

	// written only from the radio's discovery callback, read from anywhere
	liveness *hashmap.Map[string, Liveness]

	subMu       sync.Mutex
	subscribers []*ringchan.RingChannel[Event]

	logger *logrus.Logger
	now    func() time.Time
}

// New creates an empty registry
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		entries:  orderedmap.New[string, Entry](),
		liveness: hashmap.New[string, Liveness](),
		logger:   logger,
		now:      time.Now,
	}
}

// Upsert inserts the device if its identifier is unknown and reports whether
// it was added. A known identifier returns the existing device unchanged.
func (r *Registry) Upsert(id, name string, handle device.Handle) (device.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries.Get(id); ok {
		return existing.Device, false
	}
	dev := device.NewDevice(id, name)
	r.entries.Set(id, Entry{Device: dev, Handle: handle})

	r.logger.WithFields(logrus.Fields{
		"id":    id,
		"name":  dev.Name,
		"count": r.entries.Len(),
	}).Info("Discovered new device")

	// Published under mu so subscribers see mutations in the order they happened.
	r.publish(Event{Type: EventAdded, Device: dev})
	return dev, true
}

// Lookup returns the entry for id
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries.Get(id)
}

// All returns the devices in discovery order
func (r *Registry) All() []device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devs := make([]device.Device, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		devs = append(devs, pair.Value.Device)
	}
	return devs
}

// Len returns the number of known devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries.Len()
}

// Reset clears the registry. Called only when a new scan session begins.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := r.entries.Len()
	r.entries = orderedmap.New[string, Entry]()
	var seen []string
	r.liveness.Range(func(id string, _ Liveness) bool {
		seen = append(seen, id)
		return true
	})
	for _, id := range seen {
		r.liveness.Del(id)
	}

	r.logger.WithField("dropped", dropped).Debug("Device registry reset")
	r.publish(Event{Type: EventReset})
}

// Touch records a sighting of id. The mapping itself is not modified.
func (r *Registry) Touch(id string, rssi int) {
	live, _ := r.liveness.Get(id)
	live.RSSI = rssi
	live.LastSeen = r.now()
	live.Sightings++
	r.liveness.Set(id, live)
}

// Liveness returns the sighting bookkeeping for id
func (r *Registry) Liveness(id string) (Liveness, bool) {
	return r.liveness.Get(id)
}

// Subscribe returns a channel of registry events. Slow subscribers lose the
// oldest events; the registry never blocks on them.
func (r *Registry) Subscribe() *ringchan.RingChannel[Event] {
	rc := ringchan.New[Event](DefaultSubscriberBuffer)

	r.subMu.Lock()
	r.subscribers = append(r.subscribers, rc)
	r.subMu.Unlock()
	return rc
}

// Unsubscribe removes and closes a subscription
func (r *Registry) Unsubscribe(rc *ringchan.RingChannel[Event]) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for i, s := range r.subscribers {
		if s == rc {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			rc.Close()
			return
		}
	}
}

// publish fans ev out; callers hold mu
func (r *Registry) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, s := range r.subscribers {
		if s.Send(ev) {
			r.logger.Debug("Registry subscriber lagging, dropped oldest event")
		}
	}
}
