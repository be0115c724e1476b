package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  session: "outreach-main"
  channel: "@example_channel"
  channel_join_link: "https://t.me/example_channel"
storage:
  path: "./data/db.sqlite"
logging:
  level: "info"
  console: true
  file:
    enabled: false
    path: ""
outreach:
  templates:
    - "Hi {first_name}! Join us: {channel_link}"
    - "Hey {first_name}, you might like {channel_link}"
  rate_limits:
    min_delay: "3s"
    max_delay: "7s"
    per_hour_cap: 25
    per_day_cap: 80
  membership_ttl: "720h"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Channel != "@example_channel" {
		t.Fatalf("channel = %q", cfg.Telegram.Channel)
	}
	if len(cfg.Outreach.Templates) != 2 {
		t.Fatalf("templates = %d, want 2", len(cfg.Outreach.Templates))
	}
	if got := cfg.Outreach.RateLimits.PerHourCap; got != 25 {
		t.Fatalf("per_hour_cap = %d, want 25", got)
	}
	if got := cfg.MinDelayDuration(); got != 3*time.Second {
		t.Fatalf("min delay = %v, want 3s", got)
	}
	if got := cfg.MembershipTTLDuration(); got != 720*time.Hour {
		t.Fatalf("membership ttl = %v, want 720h", got)
	}
	if m.Get() != cfg {
		t.Fatal("Get() should return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML+"\nbogus_key: true\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Channel: "@c", ChannelJoinLink: "https://t.me/c"},
			Storage:  StorageConfig{Path: "db.sqlite"},
			Outreach: OutreachConfig{
				RateLimits: RateLimits{MinDelay: "3s", MaxDelay: "7s", PerHourCap: 5, PerDayCap: 20},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing channel", mutate: func(c *Config) { c.Telegram.Channel = "" }, wantErr: true},
		{name: "missing storage path", mutate: func(c *Config) { c.Storage.Path = "" }, wantErr: true},
		{name: "inverted delays", mutate: func(c *Config) { c.Outreach.RateLimits.MaxDelay = "1s" }, wantErr: true},
		{name: "zero hourly cap", mutate: func(c *Config) { c.Outreach.RateLimits.PerHourCap = 0 }, wantErr: true},
		{name: "day below hour", mutate: func(c *Config) { c.Outreach.RateLimits.PerDayCap = 1 }, wantErr: true},
		{name: "bad duration", mutate: func(c *Config) { c.Outreach.MembershipTTL = "soon" }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDurationFields(t *testing.T) {
	t.Parallel()
	if _, err := ParseDurationField("f", "nonsense"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseDurationField("f", "-3s"); err == nil {
		t.Fatal("expected negative rejection")
	}
	if d, err := ParseDurationField("f", "  90m "); err != nil || d != 90*time.Minute {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("f", ""); err != nil || d != 0 {
		t.Fatalf("empty field: got (%v, %v)", d, err)
	}

	if got := durationOrDefault("", 3*time.Second); got != 3*time.Second {
		t.Fatalf("empty default = %v", got)
	}
	if got := durationOrDefault("5s", 3*time.Second); got != 5*time.Second {
		t.Fatalf("explicit value = %v", got)
	}
	if got := durationOrZero(""); got != 0 {
		t.Fatalf("empty optional = %v", got)
	}
	if got := durationOrZero("720h"); got != 720*time.Hour {
		t.Fatalf("optional value = %v", got)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	if got := cfg.MinDelayDuration(); got != 3*time.Second {
		t.Fatalf("default min delay = %v", got)
	}
	if got := cfg.MaxDelayDuration(); got != 7*time.Second {
		t.Fatalf("default max delay = %v", got)
	}
	if got := cfg.FloodAbortDuration(); got != 10*time.Minute {
		t.Fatalf("default flood abort = %v", got)
	}
	if got := cfg.MembershipTTLDuration(); got != 0 {
		t.Fatalf("default membership ttl = %v, want 0 (no expiry)", got)
	}
}
