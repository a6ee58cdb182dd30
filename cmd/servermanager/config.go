package main

import (
	"log/slog"
	"os"

	"github.com/vango-dev/servermanager/internal/config"
)

const defaultConfigFile = "servermanager.yaml"

// loadConfig loads path. The default file name is optional: when it is
// missing, defaults and the environment are used.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	return config.Load(path)
}

// newLogger builds the process logger from log.level and log.json.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
