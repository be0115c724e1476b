package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Recipient is one row of users_inbox. Collected externally; the dispatch
// engine only reads it.
type Recipient struct {
	UserID    int64
	Username  string
	FirstName string
	LastMsgAt time.Time
}

// Member is one row of channel_members.
type Member struct {
	UserID   int64
	Username string
}

// MembershipRecord caches one participation verdict per user.
type MembershipRecord struct {
	UserID    int64
	IsMember  bool
	CheckedAt time.Time
}

// Outreach statuses. One outreach_log row per attempt; a user can have many
// rows across runs as long as none of them is StatusSent.
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
	StatusError   = "error"
	StatusDryRun  = "dry_run"
)

// OutreachEntry is one append-only attempt record.
type OutreachEntry struct {
	RunID       string
	UserID      int64
	TemplateIdx int
	SentAt      time.Time
	Status      string
	Error       string
}
