package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesend/pkg/config"
)

// configureLogger loads the --config file and builds a logger honouring
// --log-level, which takes precedence over the file's log_level.
func configureLogger(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, false)
	if err != nil {
		return nil, nil, err
	}

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = logLevelStr
		default:
			return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return cfg, logger, nil
}
