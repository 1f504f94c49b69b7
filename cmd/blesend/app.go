package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesend/controller"
	"github.com/srg/blesend/internal/devicefactory"
	"github.com/srg/blesend/pkg/config"
	"github.com/srg/blesend/registry"
	"github.com/srg/blesend/session"
)

// app is one running session stack: radio, registry, session manager and controller
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	radio  devicefactory.Radio
	mgr    *session.Manager
	ctrl   *controller.Controller
}

// startApp configures logging and brings the session stack up. Each override
// adjusts the loaded configuration before anything uses it.
// The caller must Close the returned app.
func startApp(ctx context.Context, cmd *cobra.Command, overrides ...func(*config.Config)) (*app, error) {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}

	radio := devicefactory.RadioFactory(logger)
	mgr := session.New(radio, registry.New(logger), logger, cfg.SessionOptions())
	mgr.Start(ctx)

	a := &app{
		cfg:    cfg,
		logger: logger,
		radio:  radio,
		mgr:    mgr,
		ctrl:   controller.New(mgr, logger, &controller.Options{ConnectTimeout: cfg.ConnectTimeout}),
	}

	// The adapter state reaches the session either way; only a hard failure stops here.
	if err := radio.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close tears the stack down, dropping any connection
func (a *app) Close() {
	a.mgr.Close()
	if err := a.radio.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close radio")
	}
}
