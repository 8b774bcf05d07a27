// Package config loads gateway configuration. Tunables come from an
// optional YAML file with working defaults; security-sensitive
// settings are required environment variables, validated eagerly so a
// misconfigured process aborts at startup with one clear message.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names for the required settings.
const (
	EnvAllowedOrigin = "RELAY_ALLOWED_ORIGIN"
	EnvKeyPrimary    = "RELAY_SESSION_KEY_PRIMARY"
	EnvKeySecondary  = "RELAY_SESSION_KEY_SECONDARY"
	EnvBackboneAddr  = "RELAY_BACKBONE_ADDR"
	EnvMode          = "RELAY_ENV"
	EnvPort          = "RELAY_PORT"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Fanout  FanoutConfig  `yaml:"fanout"`
	Channel ChannelConfig `yaml:"channel"`

	// Environment-provided, never read from the YAML file.
	AllowedOrigin       string `yaml:"-"`
	SessionKeyPrimary   []byte `yaml:"-"`
	SessionKeySecondary []byte `yaml:"-"`
	BackboneAddr        string `yaml:"-"`
	Mode                string `yaml:"-"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type FanoutConfig struct {
	ChannelPrefix  string        `yaml:"channel_prefix"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	QueueSize      int           `yaml:"queue_size"`
	ReconnectMin   time.Duration `yaml:"reconnect_min"`
	ReconnectMax   time.Duration `yaml:"reconnect_max"`
}

type ChannelConfig struct {
	SendBuffer     int           `yaml:"send_buffer"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	WriteWait      time.Duration `yaml:"write_wait"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Fanout: FanoutConfig{
			ChannelPrefix:  "relay:",
			PublishTimeout: 2 * time.Second,
			QueueSize:      256,
			ReconnectMin:   500 * time.Millisecond,
			ReconnectMax:   30 * time.Second,
		},
		Channel: ChannelConfig{
			SendBuffer:     64,
			MaxMessageSize: 64 * 1024,
			WriteWait:      10 * time.Second,
		},
	}
}

// Load builds the configuration from the YAML file at path (missing
// file means defaults) plus the required environment variables.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadEnv() error {
	var missing []string
	get := func(name string) string {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	c.AllowedOrigin = get(EnvAllowedOrigin)
	c.SessionKeyPrimary = []byte(get(EnvKeyPrimary))
	c.SessionKeySecondary = []byte(get(EnvKeySecondary))
	c.BackboneAddr = get(EnvBackboneAddr)
	c.Mode = get(EnvMode)

	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("config: %s must be %q or %q, got %q", EnvMode, ModeDevelopment, ModeProduction, c.Mode)
	}

	if port := os.Getenv(EnvPort); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("config: invalid %s: %q", EnvPort, port)
		}
		c.Server.Port = n
	}

	return nil
}

// Development reports whether the process runs in local/development
// mode, which relaxes the cookie transport-security flag.
func (c *Config) Development() bool {
	return c.Mode == ModeDevelopment
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
