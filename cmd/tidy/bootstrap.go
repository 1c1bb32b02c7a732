package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesainslie/tidy/pkg/tidy/config"
	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

const defaultLogMaxSize = 10 * 1024 * 1024

// parseRotationConfig converts the configured rotation settings. An empty
// or invalid size falls back to 10 MiB.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	size, err := types.ParseSize(rc.MaxSize)
	if err != nil || size <= 0 {
		size = defaultLogMaxSize
	}
	return logging.RotationConfig{MaxSize: size, MaxBackups: rc.MaxBackups}
}

// initializeLogging starts file logging as configured. Verbose mode mirrors
// debug output on stderr.
func initializeLogging(c *config.Config) error {
	path := c.Logging.Path
	if path == "" {
		path = logging.DefaultLogPath()
	}
	path, err := config.ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	lc := logging.Config{
		Level:      c.Logging.Level,
		Path:       path,
		Rotation:   parseRotationConfig(c.Logging.Rotation),
		Components: c.Logging.Components,
	}
	if getVerbose() {
		lc.ConsoleLevel = "debug"
	}

	if err := logging.Init(lc); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	return nil
}
