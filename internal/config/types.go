package config

import (
	"fmt"
	"strings"
	"time"

	"remindd/internal/maintenance"
)

// Config is the full on-disk configuration (YAML or JSON). Unknown fields
// are rejected at parse time so typos fail loudly instead of silently using
// a default.
type Config struct {
	Telegram    Telegram    `json:"telegram"`
	Logging     Logging     `json:"logging"`
	Storage     Storage     `json:"storage"`
	Dispatch    Dispatch    `json:"dispatch"`
	Maintenance Maintenance `json:"maintenance"`
}

type Telegram struct {
	Token      string  `json:"token"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type Logging struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    string      `json:"file,omitempty"`
	Chat    LogChatSink `json:"chat,omitempty"`
}

// LogChatSink forwards warnings and errors to an operator chat.
type LogChatSink struct {
	Enabled    bool    `json:"enabled,omitempty"`
	ChatID     int64   `json:"chat_id,omitempty"`
	ThreadID   int     `json:"thread_id,omitempty"`
	MinLevel   string  `json:"min_level,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type Storage struct {
	Driver      string `json:"driver,omitempty"` // memory | file | sqlite
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type Dispatch struct {
	PollInterval    string  `json:"poll_interval,omitempty"`
	DeliveryTimeout string  `json:"delivery_timeout,omitempty"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	Burst           int     `json:"burst,omitempty"`
}

type Maintenance struct {
	Enabled       bool   `json:"enabled,omitempty"`
	ReconcileSpec string `json:"reconcile_spec,omitempty"`
	ReportSpec    string `json:"report_spec,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// Validate checks everything that can be checked without touching the
// network. It runs both at startup and before a hot reload is committed, so
// a bad edit never reaches the running services.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.RatePerSec < 0 {
		return fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, file, sqlite", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	if _, err := ParseDurationField("dispatch.poll_interval", c.Dispatch.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("dispatch.delivery_timeout", c.Dispatch.DeliveryTimeout); err != nil {
		return err
	}
	if c.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}

	if c.Maintenance.Enabled {
		if spec := strings.TrimSpace(c.Maintenance.ReconcileSpec); spec != "" {
			if err := maintenance.ValidateSpec(spec); err != nil {
				return fmt.Errorf("maintenance.reconcile_spec: %w", err)
			}
		}
		if spec := strings.TrimSpace(c.Maintenance.ReportSpec); spec != "" {
			if err := maintenance.ValidateSpec(spec); err != nil {
				return fmt.Errorf("maintenance.report_spec: %w", err)
			}
		}
		if tz := strings.TrimSpace(c.Maintenance.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("maintenance.timezone: %w", err)
			}
		}
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" {
		switch strings.ToLower(lvl) {
		case "trace", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
		}
	}
	if c.Logging.Chat.Enabled && c.Logging.Chat.ChatID == 0 {
		return fmt.Errorf("logging.chat.chat_id is required when the chat sink is enabled")
	}
	return nil
}
