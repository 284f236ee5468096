// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package config loads the presentation engine settings.
//
// Settings come from a YAML file, by default
// ~/.config/present/config.yaml, and can be overridden by
// environment variables. A missing file yields the
// defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/internal/logging"
	"github.com/gviegas/present/wsi"
)

// Environment overrides.
const (
	EnvICD      = "VK_WSI_ICD"
	EnvLogLevel = "PRESENT_LOG_LEVEL"
)

// Config is the file layout.
type Config struct {
	// Driver names a registered driver.Driver.
	Driver string `yaml:"driver"`
	// ICDPath is the vendor library used by the icd driver.
	ICDPath  string `yaml:"icd_path,omitempty"`
	LogLevel string `yaml:"log_level"`

	DirectDisplay DirectDisplay `yaml:"direct_display"`
	Compositor    Compositor    `yaml:"compositor"`
}

// DirectDisplay configures direct-display swapchains.
type DirectDisplay struct {
	// Release is either "handoff" or "scanout".
	Release      string        `yaml:"release"`
	FenceWait    time.Duration `yaml:"fence_wait"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// Compositor configures the in-process compositor.
type Compositor struct {
	Refresh    time.Duration `yaml:"refresh"`
	MaxBuffers int           `yaml:"max_buffers"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Driver:   "soft",
		LogLevel: "info",
		DirectDisplay: DirectDisplay{
			Release:      "handoff",
			FenceWait:    2 * time.Second,
			FlushTimeout: time.Second,
		},
		Compositor: Compositor{
			Refresh:    16 * time.Millisecond,
			MaxBuffers: wsi.MaxImageCount,
		},
	}
}

// DefaultPath returns the path of the user's config file.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "present", "config.yaml"), nil
}

// Load loads the config from DefaultPath.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the config from path and applies the
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		logging.L().Debug("config file not found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("%s: failed to read: %w", path, err)
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvICD)); v != "" {
		c.ICDPath = v
		if c.Driver == "soft" {
			c.Driver = "icd"
		}
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
}

// Validate checks c for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Driver) == "" {
		return errors.New("driver must not be empty")
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	if _, err := c.releasePolicy(); err != nil {
		return err
	}
	if c.DirectDisplay.FenceWait < 0 {
		return errors.New("direct_display.fence_wait must not be negative")
	}
	if c.DirectDisplay.FlushTimeout < 0 {
		return errors.New("direct_display.flush_timeout must not be negative")
	}
	if c.Compositor.Refresh < 0 {
		return errors.New("compositor.refresh must not be negative")
	}
	if c.Compositor.MaxBuffers < 0 {
		return errors.New("compositor.max_buffers must not be negative")
	}
	return nil
}

func (c *Config) releasePolicy() (wsi.ReleasePolicy, error) {
	switch c.DirectDisplay.Release {
	case "", "handoff":
		return wsi.ReleaseOnHandoff, nil
	case "scanout":
		return wsi.ReleaseOnScanout, nil
	}
	return 0, fmt.Errorf("direct_display.release: unknown policy %q", c.DirectDisplay.Release)
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	l, _ := logging.ParseLevel(c.LogLevel)
	return l
}

// WSI converts c to a wsi.Config. c must be valid.
func (c *Config) WSI(log *slog.Logger) wsi.Config {
	p, _ := c.releasePolicy()
	return wsi.Config{
		Logger:        log,
		ReleasePolicy: p,
		FenceWait:     c.DirectDisplay.FenceWait,
		FlushTimeout:  c.DirectDisplay.FlushTimeout,
	}
}

// Headless converts c to a compositor.HeadlessConfig.
func (c *Config) Headless(sink compositor.Sink, log *slog.Logger) compositor.HeadlessConfig {
	return compositor.HeadlessConfig{
		Refresh:    c.Compositor.Refresh,
		MaxBuffers: c.Compositor.MaxBuffers,
		Sink:       sink,
		Logger:     log,
	}
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) { return yaml.Marshal(c) }
