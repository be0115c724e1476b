package storage

import (
	"context"
	"time"
)

// Store is the persistence API consumed by the collector and the dispatch
// engine. All reads reflect prior committed writes within a process.
type Store interface {
	// Recipient snapshots (upsert by user_id, latest values win).
	UpsertInboxUsers(ctx context.Context, rows []Recipient) error
	InboxUserIDs(ctx context.Context) (map[int64]struct{}, error)
	InboxUser(ctx context.Context, userID int64) (Recipient, bool, error)
	UpsertChannelMembers(ctx context.Context, rows []Member, seenAt time.Time) error
	ChannelMemberIDs(ctx context.Context) (map[int64]struct{}, error)

	// Membership cache.
	Membership(ctx context.Context, userID int64) (MembershipRecord, bool, error)
	CacheMembership(ctx context.Context, rec MembershipRecord) error

	// Exclusion sets. The do-not-contact list is managed by operators (see the
	// dnc subcommand); the engine only ever reads it.
	SentUserIDs(ctx context.Context) (map[int64]struct{}, error)
	DNCUserIDs(ctx context.Context) (map[int64]struct{}, error)
	AddDoNotContact(ctx context.Context, userID int64, reason string, addedAt time.Time) error

	// Outreach log (append-only; never mutated).
	AppendOutreach(ctx context.Context, e OutreachEntry) error
	CountSentSince(ctx context.Context, since time.Time) (int, error)
	OldestSentSince(ctx context.Context, since time.Time) (time.Time, bool, error)

	// Checkpoints (opaque key/value, upsert).
	PutCheckpoint(ctx context.Context, key, value string) error
	GetCheckpoint(ctx context.Context, key string) (string, bool, error)

	Close() error
}
