// Package config loads engine configuration from an optional YAML file.
// Zero values mean "use the built-in default", resolved by the engine, so a
// partial file and command-line overrides compose cleanly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the execution engine.
type Config struct {
	// Workers bounds the worker pool. 0 means the host's available
	// concurrency units.
	Workers int `yaml:"workers"`
	// DefaultMemoryLimit applies to steps that declare no memory limit of
	// their own. 0 means unlimited.
	DefaultMemoryLimit ByteSize `yaml:"default_memory_limit"`
	// RetryBackoff is the pause between a failed attempt and its retry.
	// 0 means immediate re-dispatch.
	RetryBackoff Duration `yaml:"retry_backoff"`
	// NotificationsLog is the file the default notifier appends to.
	NotificationsLog string `yaml:"notifications_log"`
	// Workdir is the working directory for step commands.
	Workdir string `yaml:"workdir"`
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms"
// or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ByteSize is a byte count that unmarshals from YAML strings like "256mb" or
// plain integers.
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*b = 0
		return nil
	}
	n, err := ParseByteSize(raw)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// ParseByteSize parses "512b", "64kb", "256mb", "1gb" or a bare integer of
// bytes.
func ParseByteSize(s string) (int64, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	mult := int64(1)
	digits := lower
	switch {
	case strings.HasSuffix(lower, "kb"):
		mult, digits = 1024, lower[:len(lower)-2]
	case strings.HasSuffix(lower, "mb"):
		mult, digits = 1024*1024, lower[:len(lower)-2]
	case strings.HasSuffix(lower, "gb"):
		mult, digits = 1024*1024*1024, lower[:len(lower)-2]
	case strings.HasSuffix(lower, "b"):
		digits = lower[:len(lower)-1]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("size %q must not be negative", s)
	}
	return n * mult, nil
}
