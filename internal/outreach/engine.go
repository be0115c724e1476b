package outreach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"telereach/internal/storage"
	"telereach/internal/transport"
	logx "telereach/pkg/logx"
)

// floodHaltCount aborts the run on the Nth flood signal even when each
// individual wait stayed under the abort threshold.
const floodHaltCount = 3

// Engine runs one outreach pass. Strictly sequential: one candidate is
// composed, sent, logged, and throttled at a time, in the shuffled order the
// selector produced. Every attempt is appended to the log before the jitter
// delay; a failed append aborts the run because the log drives both dedup
// and cap admission.
type Engine struct {
	opts   Options
	store  storage.Store
	client transport.Client
	log    logx.Logger

	selector *Selector
	composer *Composer
	limiter  *Limiter

	now func() time.Time
}

func NewEngine(opts Options, store storage.Store, client transport.Client, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		opts:     opts,
		store:    store,
		client:   client,
		log:      log,
		selector: NewSelector(store),
		composer: NewComposer(opts.Templates),
		limiter:  NewLimiter(store, opts, log),
		now:      time.Now,
	}
}

// Run executes INIT -> SELECT_TARGETS -> per-candidate dispatch -> DONE.
//
// Fatal (returned) errors: transport connect/auth, channel resolution, store
// reads during selection, and any outreach-log append failure. Per-candidate
// delivery failures are classified, logged, and isolated.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), StartedAt: e.now()}
	log := e.log.With(logx.String("run_id", sum.RunID), logx.Bool("dry_run", e.opts.DryRun))

	if err := e.client.Connect(ctx); err != nil {
		return sum, fmt.Errorf("transport connect: %w", err)
	}
	defer func() { _ = e.client.Close() }()

	channel, err := e.client.ResolveChannel(ctx, e.opts.Channel)
	if err != nil {
		return sum, fmt.Errorf("resolve target channel: %w", err)
	}
	log.Info("run started", logx.String("channel", e.opts.Channel), logx.Int64("channel_id", channel.ID))

	candidates, err := e.selector.Select(ctx)
	if err != nil {
		return sum, err
	}
	sum.Candidates = len(candidates)
	log.Info("targets selected", logx.Int("candidates", len(candidates)))

	filter := NewMembershipFilter(e.store, e.client, channel, e.opts.MembershipTTL, log)

	globalIdx := 0
	floodSignals := 0

	for _, userID := range candidates {
		if err := ctx.Err(); err != nil {
			e.finish(ctx, &sum, log)
			return sum, err
		}

		ok, err := filter.Eligible(ctx, userID)
		if err != nil {
			e.finish(ctx, &sum, log)
			return sum, err
		}
		if !ok {
			continue
		}

		if err := e.limiter.Admit(ctx); err != nil {
			if errors.Is(err, ErrDailyCapReached) {
				sum.CapHalted = true
				log.Warn("daily cap reached; halting run", logx.Int("cap", e.opts.PerDayCap))
				e.finish(ctx, &sum, log)
				return sum, nil
			}
			e.finish(ctx, &sum, log)
			return sum, err
		}

		idx, text, missing := e.composer.Compose(globalIdx, e.messageVars(ctx, userID))
		globalIdx++
		if len(missing) > 0 {
			log.Warn("template placeholders unresolved",
				logx.Int("template_idx", idx), logx.Any("keys", missing))
		}

		entry := storage.OutreachEntry{
			RunID:       sum.RunID,
			UserID:      userID,
			TemplateIdx: idx,
			SentAt:      e.now(),
		}

		var retryAfter time.Duration
		if e.opts.DryRun {
			entry.Status = storage.StatusDryRun
		} else {
			res, err := e.client.Send(ctx, userID, text)
			if err != nil {
				e.finish(ctx, &sum, log)
				return sum, fmt.Errorf("send to %d: %w", userID, err)
			}
			entry.Status = string(res.Status)
			entry.Error = res.Reason
			retryAfter = res.RetryAfter
		}

		// The log write precedes the jitter delay and is load-bearing for
		// admission control; a lost write would corrupt caps and dedup.
		if err := e.store.AppendOutreach(ctx, entry); err != nil {
			e.finish(ctx, &sum, log)
			return sum, fmt.Errorf("append outreach log: %w", err)
		}
		sum.Attempts++
		switch entry.Status {
		case storage.StatusSent:
			sum.Sent++
		case storage.StatusSkipped:
			sum.Skipped++
			log.Debug("recipient unreachable", logx.Int64("user_id", userID), logx.String("reason", entry.Error))
		case storage.StatusError:
			sum.Errors++
			log.Warn("send failed", logx.Int64("user_id", userID), logx.String("reason", entry.Error))
		case storage.StatusDryRun:
			sum.DryRun++
		}

		if retryAfter > 0 {
			floodSignals++
			e.limiter.ExtendNextDelay(retryAfter)
			log.Warn("flood control signaled",
				logx.Duration("retry_after", retryAfter), logx.Int("occurrence", floodSignals))
			if retryAfter >= e.opts.FloodAbortThreshold || floodSignals >= floodHaltCount {
				sum.FloodHalted = true
				log.Error("flood control escalated; halting run",
					logx.Duration("retry_after", retryAfter), logx.Int("signals", floodSignals))
				e.finish(ctx, &sum, log)
				return sum, nil
			}
		}

		if err := e.limiter.Throttle(ctx); err != nil {
			e.finish(ctx, &sum, log)
			return sum, err
		}
	}

	e.finish(ctx, &sum, log)
	log.Info("run finished",
		logx.Int("attempts", sum.Attempts), logx.Int("sent", sum.Sent),
		logx.Int("skipped", sum.Skipped), logx.Int("errors", sum.Errors),
		logx.Int("dry_run", sum.DryRun), logx.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)))
	return sum, nil
}

// messageVars builds the placeholder context for one recipient. A failed
// inbox read degrades to an empty first_name rather than aborting the run.
func (e *Engine) messageVars(ctx context.Context, userID int64) map[string]string {
	vars := map[string]string{
		"first_name":   "",
		"channel_link": e.opts.ChannelJoinLink,
	}
	r, ok, err := e.store.InboxUser(ctx, userID)
	switch {
	case err != nil:
		e.log.Warn("inbox lookup failed; composing without first_name",
			logx.Int64("user_id", userID), logx.Err(err))
	case ok:
		vars["first_name"] = r.FirstName
	}
	return vars
}

// finish stamps the summary and records the run checkpoint. Checkpoint
// failures are reported but never fail the run: dedup and caps come from the
// log alone.
func (e *Engine) finish(ctx context.Context, sum *Summary, log logx.Logger) {
	sum.FinishedAt = e.now()
	b, err := json.Marshal(sum)
	if err != nil {
		return
	}
	// Use a fresh context so a cancelled run still records its checkpoint.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.PutCheckpoint(cctx, lastRunCheckpoint, string(b)); err != nil {
		log.Warn("run checkpoint write failed", logx.Err(err))
	}
}
