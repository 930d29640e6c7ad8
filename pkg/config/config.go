// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the chatsync YAML configuration.
//
// # Description
//
// Configuration is resolved in three layers: built-in defaults, the YAML
// file, then environment overrides. The result is validated before use.
//
//	~/.chatsync/config.yaml      (file, optional)
//	CHATSYNC_BASE_URL            overrides server.base_url
//	CHATSYNC_TOKEN               overrides server.token
//	CHATSYNC_LOG_LEVEL           overrides logging.level
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables applied by ApplyEnv.
const (
	EnvBaseURL  = "CHATSYNC_BASE_URL"
	EnvToken    = "CHATSYNC_TOKEN"
	EnvLogLevel = "CHATSYNC_LOG_LEVEL"
)

// =============================================================================
// Types
// =============================================================================

// Config is the full client and mock-server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Paths   PathsConfig   `yaml:"paths"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Mock    MockConfig    `yaml:"mock"`
}

// ServerConfig describes the conversation backend.
type ServerConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Token     string        `yaml:"token,omitempty"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
	UserAgent string        `yaml:"user_agent,omitempty"`
}

// PathsConfig holds the endpoint templates. %s is the conversation uuid.
type PathsConfig struct {
	Create       string `yaml:"create" validate:"required,startswith=/"`
	Send         string `yaml:"send" validate:"required,startswith=/,contains=%s"`
	Conversation string `yaml:"conversation" validate:"required,startswith=/,contains=%s"`
}

// SessionConfig tunes the conversation controller.
type SessionConfig struct {
	ReloadTimeout time.Duration `yaml:"reload_timeout" validate:"gt=0"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

// TracingConfig maps onto observability.TracingConfig.
type TracingConfig struct {
	Exporter     string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"omitempty,hostname_port"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// MockConfig configures the mock-server command.
type MockConfig struct {
	Addr          string        `yaml:"addr" validate:"required,hostname_port"`
	MetricsAddr   string        `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
	DeltaInterval time.Duration `yaml:"delta_interval" validate:"gte=0"`
	RequireLogin  bool          `yaml:"require_login"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: "http://127.0.0.1:8765",
			Timeout: 30 * time.Second,
		},
		Paths: PathsConfig{
			Create:       "/api/conversations/stream",
			Send:         "/api/conversations/%s/messages/stream",
			Conversation: "/api/conversations/%s",
		},
		Session: SessionConfig{
			ReloadTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			OTLPEndpoint: "localhost:4317",
			OTLPInsecure: true,
		},
		Mock: MockConfig{
			Addr:          "127.0.0.1:8765",
			MetricsAddr:   "127.0.0.1:9765",
			DeltaInterval: 40 * time.Millisecond,
		},
	}
}

// DefaultPath returns ~/.chatsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: could not find the home directory: %w", err)
	}
	return filepath.Join(home, ".chatsync", "config.yaml"), nil
}

// =============================================================================
// Loading
// =============================================================================

// Load reads path over Default, applies environment overrides and validates.
//
// # Inputs
//
//   - path: YAML file. A missing file is not an error; defaults are used.
//
// # Outputs
//
//   - Config: The resolved configuration.
//   - error: Read, parse or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.Server.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := lookup(EnvToken); ok && v != "" {
		c.Server.Token = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks struct tags and reports every failing field.
func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// WriteDefault writes Default to path, creating parent directories. An
// existing file is left untouched and reported with os.ErrExist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s: %w", path, os.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
