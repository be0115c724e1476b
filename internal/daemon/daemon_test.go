package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"telereach/internal/config"
	logx "telereach/pkg/logx"
)

const baseYAML = `
telegram:
  session: test
  channel: "@example"
  channel_join_link: "https://t.me/example"
storage:
  path: outreach.db
logging:
  level: debug
outreach:
  templates: ["hi"]
  rate_limits:
    min_delay: 1s
    max_delay: 2s
    per_hour_cap: 5
    per_day_cap: 50
`

func loadManager(t *testing.T, yaml string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	m := config.NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	return m
}

func TestRunRequiresDaemonConfig(t *testing.T) {
	t.Parallel()
	d := New(loadManager(t, baseYAML), Jobs{}, logx.Nop())
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected Run to reject config without a daemon block")
	}
}

func TestRunSignalsReadyAndStopping(t *testing.T) {
	t.Parallel()
	yaml := baseYAML + `
daemon:
  enabled: true
  collect_schedule: "0 * * * *"
  send_schedule: "30 * * * *"
  timezone: UTC
`
	d := New(loadManager(t, yaml), Jobs{}, logx.Nop())

	var states []string
	d.notify = func(_ bool, state string) (bool, error) {
		states = append(states, state)
		return true, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(states) != 2 || states[0] != "READY=1" || states[1] != "STOPPING=1" {
		t.Fatalf("notify states = %v", states)
	}
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	t.Parallel()
	yaml := baseYAML + `
daemon:
  enabled: true
  send_schedule: "not a cron spec"
`
	d := New(loadManager(t, yaml), Jobs{}, logx.Nop())
	d.notify = func(bool, string) (bool, error) { return false, nil }
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected Run to reject an unparsable schedule")
	}
}

func TestTriggerSingleFlight(t *testing.T) {
	t.Parallel()
	d := New(loadManager(t, baseYAML), Jobs{}, logx.Nop())

	calls := 0
	job := func(context.Context) error { calls++; return nil }

	d.runMu.Lock()
	d.trigger(context.Background(), "send", job)
	if calls != 0 {
		t.Fatal("overlapping trigger was not skipped")
	}
	d.runMu.Unlock()

	d.trigger(context.Background(), "send", job)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 after the lock cleared", calls)
	}
}

func TestTriggerSurfacesJobError(t *testing.T) {
	t.Parallel()
	d := New(loadManager(t, baseYAML), Jobs{}, logx.Nop())

	// A failing job must release the single-flight lock for the next trigger.
	d.trigger(context.Background(), "send", func(context.Context) error {
		return errors.New("boom")
	})
	calls := 0
	d.trigger(context.Background(), "send", func(context.Context) error { calls++; return nil })
	if calls != 1 {
		t.Fatal("failed job left the single-flight lock held")
	}
}

func TestApplySwapsOnlyOnScheduleChange(t *testing.T) {
	t.Parallel()
	yaml := baseYAML + `
daemon:
  enabled: true
  collect_schedule: "0 * * * *"
  send_schedule: "30 * * * *"
`
	mgr := loadManager(t, yaml)
	d := New(mgr, Jobs{}, logx.Nop())
	ctx := context.Background()

	if err := d.start(ctx, schedulesOf(mgr.Get())); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.stop()
	before := d.c

	// Same schedules: no swap.
	d.apply(ctx, mgr.Get())
	if d.c != before {
		t.Fatal("cron instance swapped without a schedule change")
	}

	changed := *mgr.Get()
	dc := *changed.Daemon
	dc.SendSchedule = "45 * * * *"
	changed.Daemon = &dc
	d.apply(ctx, &changed)
	if d.c == before {
		t.Fatal("cron instance not swapped after schedule change")
	}
	if d.cur.send != "45 * * * *" {
		t.Fatalf("cur.send = %q", d.cur.send)
	}
}
