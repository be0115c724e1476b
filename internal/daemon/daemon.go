// Package daemon runs collection and outreach on cron schedules for the
// long-running `run` mode. Jobs own their transport session; the platform
// allows one concurrent session per identity, so overlapping triggers are
// skipped rather than queued.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"telereach/internal/config"
	logx "telereach/pkg/logx"
)

// Jobs are the units of work the schedules trigger. Each call reads the
// freshest committed config, so caps, delays, and templates picked up by a
// hot reload apply from the next trigger on.
type Jobs struct {
	Collect func(ctx context.Context) error
	Send    func(ctx context.Context) error
}

type Daemon struct {
	mgr  *config.Manager
	jobs Jobs
	log  logx.Logger

	parser cron.Parser

	mu  sync.Mutex
	c   *cron.Cron
	cur schedules

	// runMu serializes the transport-owning jobs.
	runMu sync.Mutex

	notify func(unsetEnv bool, state string) (bool, error)
}

type schedules struct {
	collect string
	send    string
	tz      string
}

func schedulesOf(cfg *config.Config) schedules {
	dc := cfg.Daemon
	if dc == nil {
		return schedules{}
	}
	return schedules{collect: dc.CollectSchedule, send: dc.SendSchedule, tz: dc.Timezone}
}

func New(mgr *config.Manager, jobs Jobs, log logx.Logger) *Daemon {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Daemon{
		mgr:    mgr,
		jobs:   jobs,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		notify: sd.SdNotify,
	}
}

// Run blocks until ctx is done: starts the schedules, watches the config
// file, and swaps schedules on reload. Signals READY/STOPPING to systemd
// when running under it.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.mgr.Get()
	if cfg == nil || cfg.Daemon == nil || !cfg.Daemon.Enabled {
		return errors.New("daemon mode is not enabled in config")
	}
	if err := d.start(ctx, schedulesOf(cfg)); err != nil {
		return err
	}

	updates := d.mgr.Subscribe(1)
	defer d.mgr.Unsubscribe(updates)
	go func() { _ = d.mgr.Watch(ctx) }()

	if _, err := d.notify(false, sd.SdNotifyReady); err != nil {
		d.log.Debug("sd_notify unavailable", logx.Err(err))
	}
	d.log.Info("daemon started",
		logx.String("collect_schedule", cfg.Daemon.CollectSchedule),
		logx.String("send_schedule", cfg.Daemon.SendSchedule))

	for {
		select {
		case <-ctx.Done():
			_, _ = d.notify(false, sd.SdNotifyStopping)
			d.stop()
			d.log.Info("daemon stopped")
			return nil
		case next := <-updates:
			if next == nil {
				continue
			}
			d.apply(ctx, next)
		}
	}
}

func (d *Daemon) start(ctx context.Context, s schedules) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startLocked(ctx, s)
}

func (d *Daemon) startLocked(ctx context.Context, s schedules) error {
	c := cron.New(cron.WithParser(d.parser), cron.WithLocation(d.loadLocation(s.tz)))
	if s.collect != "" {
		if _, err := c.AddFunc(s.collect, func() { d.trigger(ctx, "collect", d.jobs.Collect) }); err != nil {
			return fmt.Errorf("daemon.collect_schedule: %w", err)
		}
	}
	if s.send != "" {
		if _, err := c.AddFunc(s.send, func() { d.trigger(ctx, "send", d.jobs.Send) }); err != nil {
			return fmt.Errorf("daemon.send_schedule: %w", err)
		}
	}
	c.Start()
	d.c = c
	d.cur = s
	return nil
}

func (d *Daemon) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		<-d.c.Stop().Done()
		d.c = nil
	}
}

// apply swaps the cron instance when a reload changed schedules or timezone.
// Everything else the jobs read fresh per trigger, so no swap is needed.
func (d *Daemon) apply(ctx context.Context, cfg *config.Config) {
	next := schedulesOf(cfg)
	d.mu.Lock()
	defer d.mu.Unlock()
	if next == d.cur {
		return
	}
	if d.c != nil {
		<-d.c.Stop().Done()
		d.c = nil
	}
	if err := d.startLocked(ctx, next); err != nil {
		d.log.Error("schedule swap failed; idle until next valid reload", logx.Err(err))
		return
	}
	d.log.Info("schedules swapped",
		logx.String("collect_schedule", next.collect),
		logx.String("send_schedule", next.send),
		logx.String("timezone", next.tz))
}

func (d *Daemon) trigger(ctx context.Context, name string, job func(context.Context) error) {
	if job == nil {
		return
	}
	if !d.runMu.TryLock() {
		d.log.Warn("previous run still in progress; trigger skipped", logx.String("job", name))
		return
	}
	defer d.runMu.Unlock()

	start := time.Now()
	if err := job(ctx); err != nil {
		d.log.Error("scheduled job failed", logx.String("job", name), logx.Err(err))
		return
	}
	d.log.Info("scheduled job finished",
		logx.String("job", name), logx.Duration("took", time.Since(start)))
}

func (d *Daemon) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		d.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
