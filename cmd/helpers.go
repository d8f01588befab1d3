package cmd

import (
	"context"
	"time"

	"github.com/firefly-engineering/devproxy/internal/client"
	"github.com/firefly-engineering/devproxy/internal/config"
	"github.com/firefly-engineering/devproxy/internal/errors"
)

// loadConfig loads the configuration named by --config, or the search
// paths when the flag is empty, and applies --control.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.ConfigError("failed to load configuration", err)
	}
	if controlAddr != "" {
		cfg.Control.Listen = controlAddr
	}
	return cfg, nil
}

// controlClient returns a client for the configured control server.
func controlClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Control.Listen)
}

// commandContext bounds a single control command.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), client.DefaultTimeout+5*time.Second)
}
