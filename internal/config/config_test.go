package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/dgnsrekt/tau-tower/internal/auth"
)

// isolate keeps Load from picking up config files from the machine running
// the tests.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	for _, key := range []string{"TAU_SOURCE_USERNAME", "TAU_SOURCE_PASSWORD", "TAU_MOUNT_PORT", "TAU_MOUNT_PATH"} {
		os.Unsetenv(key)
	}
	return dir
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func TestLoadWithCredentialsFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("TAU_SOURCE_USERNAME", "source")
	t.Setenv("TAU_SOURCE_PASSWORD", "hackme")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("expected config to load with credentials, got error: %v", err)
	}

	want := Config{
		Host: "127.0.0.1",
		Source: SourceConfig{
			Port:         8000,
			Username:     "source",
			Password:     "hackme",
			Backoff:      50 * time.Millisecond,
			WarnInterval: 10 * time.Second,
		},
		UDP:     UDPConfig{Host: "127.0.0.1", Port: 8002, MaxDatagram: 65507},
		Mount:   MountConfig{Port: 8001, Path: "tau.ogg"},
		Bus:     BusConfig{Capacity: 128},
		Logging: LoggingConfig{Level: "info"},
	}
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadWithoutCredentials(t *testing.T) {
	isolate(t)

	_, err := Load("", nil)
	if err == nil {
		t.Fatal("expected error when credentials are missing")
	}

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs.Problems) != 2 {
		t.Errorf("expected username and password problems, got %v", verrs.Problems)
	}
}

func TestLoadFromSearchPath(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, "xdg", "tau", "tower.yaml"), `
source:
  username: alice
  password: secret
  backoff: 200ms
mount:
  port: 9001
  path: /live.ogg
  header_timeout: 5s
bus:
  capacity: 16
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source.Username != "alice" {
		t.Errorf("expected username from file, got %q", cfg.Source.Username)
	}
	if cfg.Source.Backoff != 200*time.Millisecond {
		t.Errorf("expected backoff 200ms, got %v", cfg.Source.Backoff)
	}
	if cfg.Mount.HeaderTimeout != 5*time.Second {
		t.Errorf("expected header timeout 5s, got %v", cfg.Mount.HeaderTimeout)
	}
	if cfg.Bus.Capacity != 16 {
		t.Errorf("expected capacity 16, got %d", cfg.Bus.Capacity)
	}
	if got := cfg.MountPath(); got != "/live.ogg" {
		t.Errorf("expected mount path /live.ogg, got %q", got)
	}
	if got := cfg.MountAddr(); got != "127.0.0.1:9001" {
		t.Errorf("expected mount addr 127.0.0.1:9001, got %q", got)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeConfig(t, path, "source:\n  username: bob\n  password: pw\n")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.Username != "bob" {
		t.Errorf("expected username bob, got %q", cfg.Source.Username)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "tower.yaml")
	writeConfig(t, path, `
source:
  username: file-user
  password: file-pass
mount:
  port: 9001
  path: file.ogg
`)
	t.Setenv("TAU_SOURCE_PASSWORD", "env-pass")
	t.Setenv("TAU_MOUNT_PATH", "env.ogg")

	flags := pflag.NewFlagSet("tower", pflag.ContinueOnError)
	flags.String("username", "", "")
	flags.String("password", "", "")
	flags.Int("listen-port", 0, "")
	flags.Int("mount-port", 0, "")
	flags.String("mount", "", "")
	if err := flags.Parse([]string{"--mount", "flag.ogg", "--listen-port", "7000"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source.Username != "file-user" {
		t.Errorf("expected username from file, got %q", cfg.Source.Username)
	}
	if cfg.Source.Password != "env-pass" {
		t.Errorf("expected password from env, got %q", cfg.Source.Password)
	}
	if cfg.Mount.Path != "flag.ogg" {
		t.Errorf("expected mount from flag, got %q", cfg.Mount.Path)
	}
	if cfg.Source.Port != 7000 {
		t.Errorf("expected listen port from flag, got %d", cfg.Source.Port)
	}
	if cfg.Mount.Port != 9001 {
		t.Errorf("unset flag must not override file, got mount port %d", cfg.Mount.Port)
	}
}

func validConfig() Config {
	return Config{
		Host:    "127.0.0.1",
		Source:  SourceConfig{Port: 8000, Username: "u", Password: "p", Backoff: 50 * time.Millisecond, WarnInterval: 10 * time.Second},
		UDP:     UDPConfig{Host: "127.0.0.1", Port: 8002, MaxDatagram: 65507},
		Mount:   MountConfig{Port: 8001, Path: "tau.ogg"},
		Bus:     BusConfig{Capacity: 128},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "same ports", mutate: func(c *Config) { c.Mount.Port = 8000 }, wantKey: "must differ"},
		{name: "port out of range", mutate: func(c *Config) { c.Source.Port = 70000 }, wantKey: "source.port"},
		{name: "udp port ignored when disabled", mutate: func(c *Config) { c.UDP.Port = 0 }},
		{name: "udp port checked when enabled", mutate: func(c *Config) { c.UDP.Enabled = true; c.UDP.Port = 0 }, wantKey: "udp.port"},
		{name: "datagram too large", mutate: func(c *Config) { c.UDP.Enabled = true; c.UDP.MaxDatagram = 70000 }, wantKey: "udp.max_datagram"},
		{name: "empty mount", mutate: func(c *Config) { c.Mount.Path = "/" }, wantKey: "mount.path"},
		{name: "mount with query", mutate: func(c *Config) { c.Mount.Path = "tau.ogg?x" }, wantKey: "mount.path"},
		{name: "zero capacity", mutate: func(c *Config) { c.Bus.Capacity = 0 }, wantKey: "bus.capacity"},
		{name: "negative header timeout", mutate: func(c *Config) { c.Mount.HeaderTimeout = -time.Second }, wantKey: "mount.header_timeout"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantKey: "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantKey == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q", tt.wantKey)
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("error should mention %q, got: %v", tt.wantKey, err)
			}
		})
	}
}

func TestCredentials(t *testing.T) {
	cfg := validConfig()
	want := auth.Credentials{Username: "u", Password: "p", Port: 8001}
	if diff := cmp.Diff(want, cfg.Credentials()); diff != "" {
		t.Errorf("credentials mismatch (-want +got):\n%s", diff)
	}
}

func TestAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Host = "::1"
	if got := cfg.SourceAddr(); got != "[::1]:8000" {
		t.Errorf("unexpected source addr %q", got)
	}
	if got := cfg.UDPAddr(); got != "127.0.0.1:8002" {
		t.Errorf("unexpected udp addr %q", got)
	}
}
