package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAllowedOrigin, "https://app.example.com")
	t.Setenv(EnvKeyPrimary, "primary-key-0123456789abcdef0000")
	t.Setenv(EnvKeySecondary, "secondary-key-0123456789abcdef00")
	t.Setenv(EnvBackboneAddr, "localhost:6379")
	t.Setenv(EnvMode, ModeProduction)
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Fanout.ChannelPrefix != "relay:" {
		t.Errorf("ChannelPrefix = %q, want %q", cfg.Fanout.ChannelPrefix, "relay:")
	}
	if cfg.Fanout.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want 256", cfg.Fanout.QueueSize)
	}
	if cfg.AllowedOrigin != "https://app.example.com" {
		t.Errorf("AllowedOrigin = %q", cfg.AllowedOrigin)
	}
	if cfg.Development() {
		t.Error("Development() = true in production mode")
	}
}

func TestLoad_YAMLOverrides(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9999
fanout:
  publish_timeout: 5s
channel:
  send_buffer: 16
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Fanout.PublishTimeout != 5*time.Second {
		t.Errorf("PublishTimeout = %v, want 5s", cfg.Fanout.PublishTimeout)
	}
	if cfg.Channel.SendBuffer != 16 {
		t.Errorf("SendBuffer = %d, want 16", cfg.Channel.SendBuffer)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want default", cfg.Server.Host)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoad_MissingEnvAggregated(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvKeySecondary, "")
	t.Setenv(EnvBackboneAddr, "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing environment variables")
	}
	for _, name := range []string{EnvKeySecondary, EnvBackboneAddr} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestLoad_InvalidMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvMode, "staging")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestLoad_PortOverride(t *testing.T) {
	setRequiredEnv(t)

	t.Setenv(EnvPort, "3000")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Server.Port)
	}

	t.Setenv(EnvPort, "not-a-port")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid port")
	}
}
