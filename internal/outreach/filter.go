package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telereach/internal/storage"
	"telereach/internal/transport"
	logx "telereach/pkg/logx"
)

// MembershipFilter decides, per candidate, whether outreach should proceed.
// Only non-members of the target channel are forwarded.
//
// Cache policy: a cached verdict younger than the TTL is authoritative and
// the oracle is never re-queried for it. When the probe is forbidden the
// candidate is skipped for this run without caching, so it stays retryable
// once permissions change.
type MembershipFilter struct {
	store   storage.Store
	client  transport.Client
	channel transport.Channel
	ttl     time.Duration
	log     logx.Logger
	now     func() time.Time
}

func NewMembershipFilter(store storage.Store, client transport.Client, channel transport.Channel, ttl time.Duration, log logx.Logger) *MembershipFilter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MembershipFilter{
		store:   store,
		client:  client,
		channel: channel,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

// Eligible reports whether the candidate should receive outreach.
// A store failure is returned as an error (fatal upstream); oracle
// authorization failures are absorbed into a skip.
func (f *MembershipFilter) Eligible(ctx context.Context, userID int64) (bool, error) {
	rec, ok, err := f.store.Membership(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("membership cache lookup for %d: %w", userID, err)
	}
	if ok && !f.expired(rec) {
		return !rec.IsMember, nil
	}

	isMember, err := f.client.IsParticipant(ctx, f.channel, userID)
	if err != nil {
		if errors.Is(err, transport.ErrCheckForbidden) {
			f.log.Warn("participation check forbidden; skipping candidate this run",
				logx.Int64("user_id", userID), logx.Err(err))
			return false, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Transient oracle failure: same treatment, no cache write.
		f.log.Warn("participation check failed; skipping candidate this run",
			logx.Int64("user_id", userID), logx.Err(err))
		return false, nil
	}

	if err := f.store.CacheMembership(ctx, storage.MembershipRecord{
		UserID:    userID,
		IsMember:  isMember,
		CheckedAt: f.now(),
	}); err != nil {
		return false, fmt.Errorf("cache membership for %d: %w", userID, err)
	}
	return !isMember, nil
}

func (f *MembershipFilter) expired(rec storage.MembershipRecord) bool {
	if f.ttl <= 0 {
		return false
	}
	return f.now().Sub(rec.CheckedAt) > f.ttl
}
