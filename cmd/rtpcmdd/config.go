// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/go-cmdasync"
	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from YAML.
type Config struct {
	// Control is the control socket, as unix:<path> (stream, one command per
	// connection) or udp:<host>:<port> (datagram).
	Control         string          `yaml:"control"`
	LogLevel        string          `yaml:"log_level"`
	Metrics         MetricsConfig   `yaml:"metrics"`
	SendQueue       SendQueueConfig `yaml:"send_queue"`
	TickFrequency   float64         `yaml:"tick_frequency"`
	LoadDecay       float64         `yaml:"load_decay"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// MetricsConfig configures the Prometheus endpoint. It is disabled if Listen
// is empty.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// SendQueueConfig configures the asynchronous reply queue.
type SendQueueConfig struct {
	Capacity int `yaml:"capacity"`
	MaxBatch int `yaml:"max_batch"`
}

// DefaultConfig returns the configuration used for any unset fields.
func DefaultConfig() Config {
	return Config{
		Control:  `unix:/var/run/rtpcmdd.sock`,
		LogLevel: `info`,
		Metrics: MetricsConfig{
			Path: `/metrics`,
		},
		SendQueue: SendQueueConfig{
			Capacity: 1024,
			MaxBatch: 64,
		},
		TickFrequency:   200,
		LoadDecay:       cmdasync.DefaultLoadDecay,
		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfig reads the YAML file at path, over DefaultConfig. An empty path
// returns the defaults. Unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path != `` {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf(`failed to open config: %w`, err)
		}
		defer f.Close()
		if err := decodeConfig(f, &c); err != nil {
			return Config{}, err
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func decodeConfig(r io.Reader, c *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf(`failed to parse config: %w`, err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := c.ControlAddr(); err != nil {
		return err
	}
	if !(c.TickFrequency > 0) || math.IsInf(c.TickFrequency, 0) {
		return fmt.Errorf(`invalid tick_frequency: %v`, c.TickFrequency)
	}
	if !(c.LoadDecay > 0 && c.LoadDecay < 1) {
		return fmt.Errorf(`invalid load_decay: %v`, c.LoadDecay)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Metrics.Listen != `` && !strings.HasPrefix(c.Metrics.Path, `/`) {
		return fmt.Errorf(`invalid metrics.path: %q`, c.Metrics.Path)
	}
	if c.SendQueue.Capacity <= 0 || c.SendQueue.MaxBatch <= 0 {
		return errors.New(`invalid send_queue: capacity and max_batch must be positive`)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf(`invalid shutdown_timeout: %s`, c.ShutdownTimeout)
	}
	return nil
}

// ControlAddr parses Control into a network (unix or udp) and address.
func (c *Config) ControlAddr() (network, address string, err error) {
	network, address, ok := strings.Cut(c.Control, `:`)
	if !ok || address == `` {
		return ``, ``, fmt.Errorf(`invalid control: %q`, c.Control)
	}
	switch network {
	case `unix`, `udp`, `udp4`, `udp6`:
		return network, address, nil
	default:
		return ``, ``, fmt.Errorf(`invalid control network: %q`, network)
	}
}

// Mode returns the control channel mode for the configured network.
func (c *Config) Mode() cmdasync.Mode {
	if network, _, _ := c.ControlAddr(); network == `unix` {
		return cmdasync.ModePerCommandAccept
	}
	return cmdasync.ModePersistent
}

// Level parses LogLevel, which accepts the syslog style names used by
// logiface, e.g. err, warning, info, debug.
func (c *Config) Level() (logiface.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case `disabled`, `off`:
		return logiface.LevelDisabled, nil
	case `emerg`, `emergency`:
		return logiface.LevelEmergency, nil
	case `alert`:
		return logiface.LevelAlert, nil
	case `crit`, `critical`:
		return logiface.LevelCritical, nil
	case `err`, `error`:
		return logiface.LevelError, nil
	case `warning`, `warn`:
		return logiface.LevelWarning, nil
	case `notice`:
		return logiface.LevelNotice, nil
	case `info`, `informational`:
		return logiface.LevelInformational, nil
	case `debug`:
		return logiface.LevelDebug, nil
	case `trace`:
		return logiface.LevelTrace, nil
	default:
		return 0, fmt.Errorf(`invalid log_level: %q`, c.LogLevel)
	}
}
