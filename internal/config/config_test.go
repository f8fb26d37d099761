package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "remindd/pkg/logx"
)

const validYAML = `
telegram:
  token: "123:abc"
storage:
  driver: file
  path: /tmp/remindd/store
dispatch:
  poll_interval: 15s
  rate_per_sec: 10
maintenance:
  enabled: true
  reconcile_spec: "@every 1h"
logging:
  level: debug
  console: true
`

func writeConfig(t *testing.T, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remindd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path, logx.Nop())
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, validYAML)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "/tmp/remindd/store" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Dispatch.PollInterval != "15s" {
		t.Fatalf("poll interval = %q", cfg.Dispatch.PollInterval)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed snapshot")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, validYAML+"\nsurprise: true\n")
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = " " }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"file driver without path", func(c *Config) { c.Storage.Driver = "file"; c.Storage.Path = "" }},
		{"bad poll interval", func(c *Config) { c.Dispatch.PollInterval = "soon" }},
		{"negative rate", func(c *Config) { c.Dispatch.RatePerSec = -1 }},
		{"bad cron spec", func(c *Config) { c.Maintenance.Enabled = true; c.Maintenance.ReconcileSpec = "whenever" }},
		{"bad maintenance tz", func(c *Config) { c.Maintenance.Enabled = true; c.Maintenance.Timezone = "Nope/Nope" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"chat sink without chat id", func(c *Config) { c.Logging.Chat.Enabled = true; c.Logging.Chat.ChatID = 0 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{
				Telegram: Telegram{Token: "123:abc"},
				Storage:  Storage{Driver: "memory"},
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestReloadPublishesChangedConfig(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, validYAML)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe()
	defer m.Unsubscribe(sub)

	// Unchanged content is not republished.
	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("unchanged config was published")
	default:
	}

	if err := os.WriteFile(m.path, []byte(validYAML+"  file: /tmp/remindd.log\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	select {
	case cfg := <-sub:
		if cfg.Logging.File != "/tmp/remindd.log" {
			t.Fatalf("published config = %+v", cfg.Logging)
		}
	case <-time.After(time.Second):
		t.Fatal("changed config was not published")
	}

	// A broken edit keeps the last good snapshot.
	if err := os.WriteFile(m.path, []byte("telegram: ["), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	if m.Get().Logging.File != "/tmp/remindd.log" {
		t.Fatal("broken reload replaced the committed config")
	}
}

func TestReloadRejectedByValidator(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, validYAML)
	boot, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// The app installs a validator like this one to pin settings that only
	// take effect through a restart.
	m.SetValidator(func(_ context.Context, next *Config) error {
		if next.Storage.Path != boot.Storage.Path {
			return errors.New("storage settings require a restart")
		}
		return nil
	})
	sub := m.Subscribe()
	defer m.Unsubscribe(sub)

	moved := strings.Replace(validYAML, "/tmp/remindd/store", "/tmp/elsewhere", 1)
	if err := os.WriteFile(m.path, []byte(moved), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("rejected config was published")
	default:
	}
	if m.Get().Storage.Path != boot.Storage.Path {
		t.Fatal("rejected reload replaced the committed config")
	}

	// An edit the validator accepts still goes through.
	if err := os.WriteFile(m.path, []byte(validYAML+"  file: /tmp/remindd.log\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	select {
	case cfg := <-sub:
		if cfg.Logging.File != "/tmp/remindd.log" {
			t.Fatalf("published config = %+v", cfg.Logging)
		}
	case <-time.After(time.Second):
		t.Fatal("accepted config was not published")
	}
}

func TestDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d := DurationOrDefault("", 30*time.Second); d != 30*time.Second {
		t.Fatalf("empty = %v", d)
	}
	if d := DurationOrDefault("5s", 30*time.Second); d != 5*time.Second {
		t.Fatalf("5s = %v", d)
	}
}
