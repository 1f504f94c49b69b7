package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/controller"
	"github.com/srg/blesend/internal/device"
	"github.com/srg/blesend/registry"
	"github.com/srg/blesend/session"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceInfo is a discovered device with its latest sighting
type DeviceInfo struct {
	device.Device
	RSSI      int       `json:"rssi"`
	Sightings int       `json:"sightings"`
	LastSeen  time.Time `json:"last_seen"`
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration  time.Duration
	AllowList []string
	BlockList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 10 * time.Second,
	}
}

// Scanner collects BLE devices through a controller
type Scanner struct {
	ctrl   *controller.Controller
	logger *logrus.Logger
}

// NewScanner creates a new BLE scanner
func NewScanner(ctrl *controller.Controller, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{ctrl: ctrl, logger: logger}
}

// AwaitAdapter blocks until the adapter is powered on. Unsupported and
// unauthorized adapters never recover and fail immediately.
func (s *Scanner) AwaitAdapter(ctx context.Context) error {
	sub := s.ctrl.Notifications()
	defer s.ctrl.StopNotifications(sub)

	for {
		state := s.ctrl.Snapshot().Adapter
		switch state {
		case device.AdapterPoweredOn:
			return nil
		case device.AdapterUnsupported, device.AdapterUnauthorized:
			return device.NewError(device.KindAdapterUnavailable, nil, "adapter %s", state)
		}

		_, err := controller.WaitFor(ctx, sub, func(n session.Notification) bool {
			return n.Kind == session.KindAdapter
		})
		if err != nil {
			return device.NewError(device.KindAdapterUnavailable, err, "adapter %s", state)
		}
	}
}

// Scan waits for the adapter, makes sure a scan session is running and
// collects devices for opts.Duration. Cancelling ctx ends the scan early
// and returns what was found so far.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]DeviceInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	progressCallback("Waiting for adapter")
	if err := s.AwaitAdapter(ctx); err != nil {
		return nil, err
	}

	if !s.ctrl.Snapshot().Scanning {
		if err := s.ctrl.RequestScan(); err != nil {
			return nil, err
		}
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	<-scanCtx.Done()
	if err := scanCtx.Err(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	progressCallback("Processing results")
	devices := s.makeDeviceList(opts)
	s.logger.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

// WaitForDevice blocks until the device with the given id has been discovered
func (s *Scanner) WaitForDevice(ctx context.Context, id string) (device.Device, error) {
	events := s.ctrl.DeviceEvents()
	defer s.ctrl.StopDeviceEvents(events)

	for _, dev := range s.ctrl.Devices() {
		if dev.ID == id {
			return dev, nil
		}
	}

	s.logger.WithField("device", id).Info("Waiting for device to advertise...")
	for {
		select {
		case ev, ok := <-events.C():
			if !ok {
				return device.Device{}, device.ErrClosed
			}
			if ev.Type == registry.EventAdded && ev.Device.ID == id {
				return ev.Device, nil
			}
		case <-ctx.Done():
			return device.Device{}, device.NewError(device.KindUnknownDevice, ctx.Err(), "%q was not discovered", id)
		}
	}
}

// makeDeviceList returns the discovered devices that pass the filters, in discovery order
func (s *Scanner) makeDeviceList(opts *ScanOptions) []DeviceInfo {
	var devs []DeviceInfo
	for _, dev := range s.ctrl.Devices() {
		if !shouldIncludeDevice(dev.ID, opts) {
			continue
		}
		info := DeviceInfo{Device: dev}
		if live, ok := s.ctrl.Liveness(dev.ID); ok {
			info.RSSI = live.RSSI
			info.Sightings = live.Sightings
			info.LastSeen = live.LastSeen
		}
		devs = append(devs, info)
	}
	return devs
}

// shouldIncludeDevice applies the allow and block lists
func shouldIncludeDevice(id string, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if id == blocked {
			return false
		}
	}

	if len(opts.AllowList) == 0 {
		return true
	}
	for _, a := range opts.AllowList {
		if id == a {
			return true
		}
	}
	return false
}
