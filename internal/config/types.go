package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Outreach OutreachConfig `json:"outreach"`
	Daemon   *DaemonConfig  `json:"daemon,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via TELEREACH_TOKEN.
	Token string `json:"token,omitempty"`
	// Session labels this sender identity in logs and checkpoints.
	Session string `json:"session"`
	// Channel is the target channel handle (@name) or invite link.
	Channel string `json:"channel"`
	// ChannelJoinLink is what gets rendered into message templates.
	ChannelJoinLink string `json:"channel_join_link"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OutreachConfig controls the dispatch engine.
//
// All durations are Go duration strings (e.g. "3s", "10m", "720h").
type OutreachConfig struct {
	Templates  []string   `json:"templates"`
	RateLimits RateLimits `json:"rate_limits"`

	// MembershipTTL bounds how long a cached membership verdict is trusted.
	// "0s" (or omitted) means cached entries never expire.
	MembershipTTL string `json:"membership_ttl,omitempty"`

	// FloodAbortThreshold aborts the run when the platform demands a wait
	// longer than this. Default: "10m".
	FloodAbortThreshold string `json:"flood_abort_threshold,omitempty"`

	DryRun bool `json:"dry_run,omitempty"`
}

type RateLimits struct {
	MinDelay   string `json:"min_delay"`
	MaxDelay   string `json:"max_delay"`
	PerHourCap int    `json:"per_hour_cap"`
	PerDayCap  int    `json:"per_day_cap"`
}

// DaemonConfig controls long-running mode (the `run` subcommand).
// Schedules are standard 5-field cron expressions.
type DaemonConfig struct {
	Enabled         bool   `json:"enabled"`
	CollectSchedule string `json:"collect_schedule,omitempty"`
	SendSchedule    string `json:"send_schedule,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

// Validate rejects configs the engine cannot run with.
// Token presence is checked at connect time (env override may supply it later).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Channel) == "" {
		return errors.New("telegram.channel is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}

	rl := c.Outreach.RateLimits
	minD, err := ParseDurationField("outreach.rate_limits.min_delay", rl.MinDelay)
	if err != nil {
		return err
	}
	maxD, err := ParseDurationField("outreach.rate_limits.max_delay", rl.MaxDelay)
	if err != nil {
		return err
	}
	if maxD < minD {
		return fmt.Errorf("outreach.rate_limits: max_delay %v < min_delay %v", maxD, minD)
	}
	if rl.PerHourCap <= 0 {
		return errors.New("outreach.rate_limits.per_hour_cap must be > 0")
	}
	if rl.PerDayCap <= 0 {
		return errors.New("outreach.rate_limits.per_day_cap must be > 0")
	}
	if rl.PerDayCap < rl.PerHourCap {
		return fmt.Errorf("outreach.rate_limits: per_day_cap %d < per_hour_cap %d", rl.PerDayCap, rl.PerHourCap)
	}
	if _, err := ParseDurationField("outreach.membership_ttl", c.Outreach.MembershipTTL); err != nil {
		return err
	}
	if _, err := ParseDurationField("outreach.flood_abort_threshold", c.Outreach.FloodAbortThreshold); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

// MinDelayDuration returns the parsed jitter lower bound (defaults to 3s).
func (c *Config) MinDelayDuration() time.Duration {
	return durationOrDefault(c.Outreach.RateLimits.MinDelay, 3*time.Second)
}

// MaxDelayDuration returns the parsed jitter upper bound (defaults to 7s).
func (c *Config) MaxDelayDuration() time.Duration {
	return durationOrDefault(c.Outreach.RateLimits.MaxDelay, 7*time.Second)
}

// MembershipTTLDuration returns the cache TTL; 0 disables expiry.
func (c *Config) MembershipTTLDuration() time.Duration {
	return durationOrZero(c.Outreach.MembershipTTL)
}

// FloodAbortDuration returns the flood-wait abort threshold (defaults to 10m).
func (c *Config) FloodAbortDuration() time.Duration {
	return durationOrDefault(c.Outreach.FloodAbortThreshold, 10*time.Minute)
}

// BusyTimeoutDuration returns the sqlite busy timeout (0 means driver default).
func (c *Config) BusyTimeoutDuration() time.Duration {
	return durationOrZero(c.Storage.BusyTimeout)
}
