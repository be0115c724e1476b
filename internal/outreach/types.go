package outreach

import (
	"time"
)

// Options carries one run's configuration.
type Options struct {
	// Channel is the target channel handle or link, resolved once per run.
	Channel string
	// ChannelJoinLink is rendered into templates as {channel_link}.
	ChannelJoinLink string

	Templates []string

	// Jitter bounds: after every attempt the loop sleeps a uniform duration
	// from [MinDelay, MaxDelay].
	MinDelay time.Duration
	MaxDelay time.Duration

	// Rolling caps on sent rows, counted from the durable log.
	PerHourCap int
	PerDayCap  int

	// MembershipTTL treats cached verdicts older than this as absent.
	// 0 disables expiry.
	MembershipTTL time.Duration

	// FloodAbortThreshold aborts the run when the platform demands a longer
	// wait than this.
	FloodAbortThreshold time.Duration

	DryRun bool
}

// Summary is the public result of one run.
//
// Attempts counts every logged attempt (sent, skipped, error, dry_run);
// the per-status fields break that total down. Callers that only care about
// deliveries read Sent.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Candidates int `json:"candidates"`
	Attempts   int `json:"attempts"`
	Sent       int `json:"sent"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
	DryRun     int `json:"dry_run"`

	// CapHalted is set when the daily cap ended the run early.
	CapHalted bool `json:"cap_halted,omitempty"`
	// FloodHalted is set when platform throttling escalated past the abort
	// threshold.
	FloodHalted bool `json:"flood_halted,omitempty"`
}

// Checkpoint key for run bookkeeping. The dispatch loop never reads it back
// for correctness (dedup comes from the log); it exists for operators and the
// daemon's status reporting.
const lastRunCheckpoint = "outreach:last_run"
