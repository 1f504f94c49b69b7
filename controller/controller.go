package controller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/internal/ringchan"
	"github.com/srg/blesend/registry"
	"github.com/srg/blesend/session"
)

// Command is a payload the controller is allowed to send
type Command string

const (
	CommandOn  Command = "N"
	CommandOff Command = "F"
)

// ParseCommand accepts exactly "N" or "F"
func ParseCommand(text string) (Command, error) {
	switch Command(text) {
	case CommandOn, CommandOff:
		return Command(text), nil
	default:
		return "", device.NewError(device.KindInvalidCommand, nil, "%q: only %q or %q are allowed", text, CommandOn, CommandOff)
	}
}

// Status labels shown next to a device in a list
const (
	StatusConnected  = "Connected"
	StatusConnecting = "Connecting..."
)

// Options configures a Controller
type Options struct {
	// ConnectTimeout is passed to every connection attempt; zero selects the session default
	ConnectTimeout time.Duration
}

// Controller exposes the session to an application or UI
type Controller struct {
	mgr    *session.Manager
	logger *logrus.Logger
	opts   Options
}

// New creates a Controller over a started session manager
func New(mgr *session.Manager, logger *logrus.Logger, opts *Options) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &Options{}
	}
	return &Controller{mgr: mgr, logger: logger, opts: *opts}
}

// Devices returns the discovered devices in discovery order
func (c *Controller) Devices() []device.Device {
	return c.mgr.Registry().All()
}

// DeviceEvents subscribes to device list changes. Release with StopDeviceEvents.
func (c *Controller) DeviceEvents() *ringchan.RingChannel[registry.Event] {
	return c.mgr.Registry().Subscribe()
}

// StopDeviceEvents releases a DeviceEvents subscription
func (c *Controller) StopDeviceEvents(rc *ringchan.RingChannel[registry.Event]) {
	c.mgr.Registry().Unsubscribe(rc)
}

// Notifications subscribes to session notifications. Release with StopNotifications.
func (c *Controller) Notifications() *ringchan.RingChannel[session.Notification] {
	return c.mgr.Subscribe()
}

// StopNotifications releases a Notifications subscription
func (c *Controller) StopNotifications(rc *ringchan.RingChannel[session.Notification]) {
	c.mgr.Unsubscribe(rc)
}

// Liveness returns the sighting bookkeeping for a discovered device
func (c *Controller) Liveness(id string) (registry.Liveness, bool) {
	return c.mgr.Registry().Liveness(id)
}

// ConnectedDevice returns the device of a Ready session; ok is false otherwise
func (c *Controller) ConnectedDevice() (device.Device, bool) {
	return c.mgr.ConnectedDevice()
}

// Snapshot returns the current session state
func (c *Controller) Snapshot() session.Snapshot {
	return c.mgr.Snapshot()
}

// Status returns the list label for the device with the given id, or "" if it
// is not part of the session
func (c *Controller) Status(id string) string {
	snap := c.mgr.Snapshot()
	if snap.Device.ID != id {
		return ""
	}
	switch snap.State {
	case session.Ready:
		return StatusConnected
	case session.Idle:
		return ""
	default:
		return StatusConnecting
	}
}

// RequestConnect starts connecting to a discovered device
func (c *Controller) RequestConnect(id string) error {
	c.logger.WithField("device", id).Debug("Connect requested")
	return c.mgr.Connect(id, c.opts.ConnectTimeout)
}

// RequestToggle disconnects when id is the session's device and connects to it otherwise
func (c *Controller) RequestToggle(id string) error {
	snap := c.mgr.Snapshot()
	if snap.State != session.Idle && snap.Device.ID == id {
		return c.RequestDisconnect()
	}
	return c.RequestConnect(id)
}

// RequestDisconnect tears down the current session
func (c *Controller) RequestDisconnect() error {
	c.logger.Debug("Disconnect requested")
	return c.mgr.Disconnect()
}

// RequestScan clears the device list and scans again
func (c *Controller) RequestScan() error {
	c.logger.Debug("Rescan requested")
	return c.mgr.Rescan()
}

// RequestSend sends text to the connected device. Only "N" and "F" are accepted.
func (c *Controller) RequestSend(text string) error {
	dev, ok := c.mgr.ConnectedDevice()
	if !ok {
		return device.NewError(device.KindNotConnected, nil, "no connected device")
	}

	cmd, err := ParseCommand(text)
	if err != nil {
		c.logger.WithField("text", text).Warn("Invalid data format")
		return err
	}

	if err := c.mgr.Send([]byte(cmd)); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"device":  dev.Name,
		"command": string(cmd),
	}).Info("Sending message to device")
	return nil
}

// SendAndConfirm sends text and waits for the device to acknowledge the write.
// Losing the session before the acknowledgment fails with the session's error.
func (c *Controller) SendAndConfirm(ctx context.Context, text string) error {
	sub := c.Notifications()
	defer c.StopNotifications(sub)

	if err := c.RequestSend(text); err != nil {
		return err
	}

	n, err := WaitFor(ctx, sub, func(n session.Notification) bool {
		return n.Kind == session.KindWrite || (n.Kind == session.KindState && n.State != session.Ready)
	})
	if err != nil {
		return device.NewError(device.KindWrite, err, "waiting for acknowledgment")
	}
	if n.Kind == session.KindState {
		if n.Err != nil {
			return n.Err
		}
		return device.NewError(device.KindLinkLost, nil, "session ended before acknowledgment")
	}
	return n.Err
}

// WaitFor reads sub until match accepts a notification or ctx ends.
// Subscribe before issuing the request whose outcome is awaited.
func WaitFor(ctx context.Context, sub *ringchan.RingChannel[session.Notification], match func(session.Notification) bool) (session.Notification, error) {
	for {
		select {
		case n, ok := <-sub.C():
			if !ok {
				return session.Notification{}, device.ErrClosed
			}
			if match(n) {
				return n, nil
			}
		case <-ctx.Done():
			return session.Notification{}, ctx.Err()
		}
	}
}

// IsSettled matches the notification that ends a connection attempt: Ready or Failed
func IsSettled(n session.Notification) bool {
	return n.Kind == session.KindState && (n.State == session.Ready || n.State == session.Failed)
}

// IsAdapterReady matches the adapter reaching PoweredOn
func IsAdapterReady(n session.Notification) bool {
	return n.Kind == session.KindAdapter && n.Adapter == device.AdapterPoweredOn
}
