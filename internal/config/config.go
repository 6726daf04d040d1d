// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package config loads server configuration from defaults, an optional
// YAML file, and command-line flags, in that precedence order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config is the full server configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Bus      BusConfig      `koanf:"bus"`
	Events   EventsConfig   `koanf:"events"`
	Request  RequestConfig  `koanf:"request"`
	Shutdown ShutdownConfig `koanf:"shutdown"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Format is "text" or "json".
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig controls the observability HTTP server.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// BusConfig tunes message routing and publish validation.
type BusConfig struct {
	SyncFanoutThreshold int `koanf:"sync_fanout_threshold"`
	Workers             int `koanf:"workers"`
	QueueSize           int `koanf:"queue_size"`
	MaxPayloadBytes     int `koanf:"max_payload_bytes"`
	CriticalPerSecond   int `koanf:"critical_per_second"`
}

// EventsConfig tunes the typed event system.
type EventsConfig struct {
	Tick        time.Duration `koanf:"tick"`
	BatchWindow time.Duration `koanf:"batch_window"`
	History     int           `koanf:"history"`
}

// RequestConfig tunes the request/response client.
type RequestConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ShutdownConfig tunes graceful shutdown.
type ShutdownConfig struct {
	GracePeriod time.Duration `koanf:"grace_period"`
}

// defaults are applied before any file or flag values.
var defaults = map[string]any{
	"log.format":                "text",
	"log.level":                 "info",
	"metrics.addr":              "localhost:9090",
	"bus.sync_fanout_threshold": 5,
	"bus.workers":               8,
	"bus.queue_size":            256,
	"bus.max_payload_bytes":     0,
	"bus.critical_per_second":   0,
	"events.tick":               10 * time.Millisecond,
	"events.batch_window":       50 * time.Millisecond,
	"events.history":            128,
	"request.sweep_interval":    time.Second,
	"shutdown.grace_period":     5 * time.Second,
}

// Load builds a Config from defaults, then the YAML file at path if it
// exists, then any set flags. An empty path skips the file layer; a named
// file that is missing is an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Bus.Workers < 0 || c.Bus.QueueSize < 0 {
		return fmt.Errorf("bus.workers and bus.queue_size must be non-negative")
	}
	return nil
}
