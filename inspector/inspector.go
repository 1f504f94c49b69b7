package inspector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesend/controller"
	"github.com/srg/blesend/session"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines options for a connected-device session
type InspectOptions struct {
	// DisconnectTimeout bounds the wait for the link to come down afterwards
	DisconnectTimeout time.Duration
}

// InspectCallback processes a Ready session and produces output of type R
type InspectCallback[R any] func(session.Snapshot) (R, error)

// InspectDevice connects to a device, waits until its writable endpoint is
// selected, and executes the callback with the Ready session. The connection
// lifecycle (connection and disconnection) is managed automatically.
func InspectDevice[R any](ctx context.Context, ctrl *controller.Controller, id string, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = &InspectOptions{}
	}
	if opts.DisconnectTimeout <= 0 {
		// the session forces Idle after its own disconnect timeout; leave it room
		opts.DisconnectTimeout = 2 * session.DefaultDisconnectTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	sub := ctrl.Notifications()
	defer ctrl.StopNotifications(sub)

	// Report phase change: starting connection
	progressCallback("Connecting")

	if err := ctrl.RequestConnect(id); err != nil {
		progressCallback("Failed")
		return zero, err
	}

	n, err := controller.WaitFor(ctx, sub, controller.IsSettled)
	if err != nil {
		progressCallback("Failed")
		disconnect(ctrl, sub, opts, logger)
		return zero, err
	}
	if n.State == session.Failed {
		progressCallback("Failed")
		return zero, n.Err
	}

	// Report phase change: connected
	progressCallback("Connected")

	// Ensure the device is disconnected after the callback completes
	defer disconnect(ctrl, sub, opts, logger)

	// Report phase change: processing results
	progressCallback("Processing results")

	return callback(ctrl.Snapshot())
}

// disconnect tears the session down and waits for it to reach Idle
func disconnect(ctrl *controller.Controller, sub session.Subscription, opts *InspectOptions, logger *logrus.Logger) {
	if err := ctrl.RequestDisconnect(); err != nil {
		logger.WithError(err).Debug("Nothing to disconnect")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DisconnectTimeout)
	defer cancel()

	_, err := controller.WaitFor(ctx, sub, func(n session.Notification) bool {
		return n.Kind == session.KindState && (n.State == session.Idle || n.State == session.Failed)
	})
	if err != nil {
		logger.WithError(err).Error("failed to disconnect device")
	}
}
