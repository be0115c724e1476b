package transport

import (
	"context"
	"errors"
	"time"
)

// Status classifies one delivery attempt.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped" // recipient blocked us / disallows incoming messages
	StatusError   Status = "error"
)

// Result is the classified outcome of a Send call.
//
// RetryAfter is non-zero only when the platform signaled flood control; the
// caller must extend its pacing by at least that much.
type Result struct {
	Status     Status
	Reason     string
	RetryAfter time.Duration
}

// Contact is a platform user as seen by enumeration calls.
type Contact struct {
	UserID    int64
	Username  string
	FirstName string
}

// Channel is a resolved channel entity. Resolution is idempotent; callers
// cache it for the duration of a run.
type Channel struct {
	ID       int64
	Username string
	Title    string
}

// Classified transport failures.
var (
	// ErrNotAuthorized means the session could not be established or has
	// expired. Fatal for a run.
	ErrNotAuthorized = errors.New("transport: not authorized")

	// ErrCheckForbidden means the caller lacks permission to probe channel
	// participation (e.g. private channel, not an admin). Per-candidate,
	// non-fatal; the verdict must not be cached.
	ErrCheckForbidden = errors.New("transport: participation check forbidden")
)

// TokenSource supplies credentials at connect time. Interactive credential
// flows (phone + one-time code) plug in here; the dispatch hot path never
// touches it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the messaging platform as consumed by the collector and the
// dispatch engine.
type Client interface {
	// Connect authenticates the session. Implementations pull credentials
	// from their TokenSource exactly once.
	Connect(ctx context.Context) error
	Close() error

	// ResolveChannel accepts an @handle or an invite link.
	ResolveChannel(ctx context.Context, ref string) (Channel, error)

	// InboxContacts enumerates users who messaged this identity.
	// Finite; one pass per call.
	InboxContacts(ctx context.Context) ([]Contact, error)

	// ChannelMembers enumerates known members of the channel.
	// Finite; one pass per call.
	ChannelMembers(ctx context.Context, ch Channel) ([]Contact, error)

	// IsParticipant answers the membership oracle for a single user.
	// Returns ErrCheckForbidden when the session cannot probe the channel.
	IsParticipant(ctx context.Context, ch Channel, userID int64) (bool, error)

	// Send delivers one message. The error return is reserved for transport
	// plumbing failures (ctx cancellation); delivery outcomes, including
	// per-recipient failures, come back classified in Result.
	Send(ctx context.Context, userID int64, text string) (Result, error)
}

// StaticToken is a TokenSource with a fixed credential.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", ErrNotAuthorized
	}
	return string(t), nil
}
