package outreach

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"telereach/internal/storage"
	logx "telereach/pkg/logx"
)

// ErrDailyCapReached halts the run: no amount of waiting inside the same run
// can free a slot in the trailing 24h window soon enough to matter.
var ErrDailyCapReached = errors.New("daily send cap reached")

// Limiter enforces the two independent pacing constraints:
//
//  1. Jitter: a uniform random delay from [min, max] after every attempt.
//  2. Rolling caps: sent rows inside any trailing hour/day window never
//     exceed the configured caps. Counts come from the durable outreach log,
//     not in-process counters, so process restarts cannot bypass them.
//
// Cap policy: when the hourly cap is hit mid-run, Admit pauses until the
// trailing-hour window rolls past its oldest sent row, then re-checks. The
// daily cap always halts the run (ErrDailyCapReached).
type Limiter struct {
	store      storage.Store
	minDelay   time.Duration
	maxDelay   time.Duration
	perHourCap int
	perDayCap  int
	log        logx.Logger

	// extra is the pending flood-control extension applied (once) to the
	// next jitter delay.
	extra time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

func NewLimiter(store storage.Store, opts Options, log logx.Logger) *Limiter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Limiter{
		store:      store,
		minDelay:   opts.MinDelay,
		maxDelay:   opts.MaxDelay,
		perHourCap: opts.PerHourCap,
		perDayCap:  opts.PerDayCap,
		log:        log,
		now:        time.Now,
		sleep:      sleepCtx,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Admit blocks until the caps allow another sent attempt.
// Returns ErrDailyCapReached when the day window is full, or the context
// error if cancelled while pausing.
func (l *Limiter) Admit(ctx context.Context) error {
	day, err := l.store.CountSentSince(ctx, l.now().Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("count daily window: %w", err)
	}
	if day >= l.perDayCap {
		return ErrDailyCapReached
	}

	for {
		now := l.now()
		hour, err := l.store.CountSentSince(ctx, now.Add(-time.Hour))
		if err != nil {
			return fmt.Errorf("count hourly window: %w", err)
		}
		if hour < l.perHourCap {
			return nil
		}

		oldest, ok, err := l.store.OldestSentSince(ctx, now.Add(-time.Hour))
		if err != nil {
			return fmt.Errorf("find window edge: %w", err)
		}
		wait := time.Minute
		if ok {
			// One extra second clears the inclusive window edge (sent_at >=
			// since counts the boundary row), so a single pause suffices.
			wait = oldest.Add(time.Hour + time.Second).Sub(now)
			if wait <= 0 {
				wait = time.Second
			}
		}
		l.log.Info("hourly cap reached; pausing until window rolls",
			logx.Int("cap", l.perHourCap), logx.Duration("wait", wait))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Throttle applies the post-attempt jitter, plus any pending flood extension.
func (l *Limiter) Throttle(ctx context.Context) error {
	d := l.minDelay
	if span := l.maxDelay - l.minDelay; span > 0 {
		d += time.Duration(l.rng.Int63n(int64(span) + 1))
	}
	if l.extra > 0 {
		d += l.extra
		l.extra = 0
	}
	if d <= 0 {
		return ctx.Err()
	}
	return l.sleep(ctx, d)
}

// ExtendNextDelay honors a platform flood-control signal: the next jitter
// delay is stretched by at least the signaled duration.
func (l *Limiter) ExtendNextDelay(d time.Duration) {
	if d > l.extra {
		l.extra = d
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
