package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"telereach/internal/collector"
	"telereach/internal/config"
	"telereach/internal/daemon"
	"telereach/internal/outreach"
	"telereach/internal/storage"
	"telereach/internal/transport"
	"telereach/internal/transport/telegram"
	logx "telereach/pkg/logx"
)

// TELEREACH_TOKEN overrides telegram.token from the config file, so the
// credential can stay out of version-controlled configs.
const tokenEnv = "TELEREACH_TOKEN"

const usage = `usage: telereach [-config path] [-dry] <command>

commands:
  collect-inbox     refresh inbox contacts from the transport
  collect-members   refresh channel members from the transport
  send              run one outreach pass (use -dry to compose without sending)
  run               daemon mode: collection and outreach on cron schedules
  dnc <id> [why]    add a user to the do-not-contact list
`

func main() {
	var cfgPath string
	var dry bool
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.BoolVar(&dry, "dry", false, "compose and log without sending")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Secrets (TELEREACH_TOKEN) may live in a local .env during development.
	_ = godotenv.Load()

	if err := run(ctx, cfgPath, dry, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, dry bool, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("expected a command")
	}

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	log, closeLog, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	mgr.SetLogger(log)
	if s := strings.TrimSpace(cfg.Telegram.Session); s != "" {
		log = log.With(logx.String("session", s))
	}

	st, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeoutDuration(),
	}, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = st.Close() }()

	client := telegram.New(telegram.Config{}, tokenSource(cfg), log)

	switch args[0] {
	case "collect-inbox":
		n, err := collector.New(st, client, log).CollectInbox(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("collected %d inbox contacts\n", n)
		return nil

	case "collect-members":
		n, err := collector.New(st, client, log).CollectMembers(ctx, cfg.Telegram.Channel)
		if err != nil {
			return err
		}
		fmt.Printf("collected %d channel members\n", n)
		return nil

	case "send":
		eng := outreach.NewEngine(engineOptions(cfg, dry), st, client, log)
		sum, err := eng.Run(ctx)
		if err != nil {
			return err
		}
		printSummary(sum)
		return nil

	case "run":
		jobs := daemon.Jobs{
			Collect: func(ctx context.Context) error {
				col := collector.New(st, client, log)
				if _, err := col.CollectInbox(ctx); err != nil {
					return err
				}
				_, err := col.CollectMembers(ctx, mgr.Get().Telegram.Channel)
				return err
			},
			Send: func(ctx context.Context) error {
				eng := outreach.NewEngine(engineOptions(mgr.Get(), dry), st, client, log)
				_, err := eng.Run(ctx)
				return err
			},
		}
		return daemon.New(mgr, jobs, log).Run(ctx)

	case "dnc":
		if len(args) < 2 {
			return errors.New("dnc: user id required")
		}
		userID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("dnc: invalid user id %q", args[1])
		}
		reason := strings.Join(args[2:], " ")
		if err := st.AddDoNotContact(ctx, userID, reason, time.Now()); err != nil {
			return err
		}
		fmt.Printf("user %d added to do-not-contact\n", userID)
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func engineOptions(cfg *config.Config, dry bool) outreach.Options {
	return outreach.Options{
		Channel:             cfg.Telegram.Channel,
		ChannelJoinLink:     cfg.Telegram.ChannelJoinLink,
		Templates:           cfg.Outreach.Templates,
		MinDelay:            cfg.MinDelayDuration(),
		MaxDelay:            cfg.MaxDelayDuration(),
		PerHourCap:          cfg.Outreach.RateLimits.PerHourCap,
		PerDayCap:           cfg.Outreach.RateLimits.PerDayCap,
		MembershipTTL:       cfg.MembershipTTLDuration(),
		FloodAbortThreshold: cfg.FloodAbortDuration(),
		DryRun:              dry || cfg.Outreach.DryRun,
	}
}

func tokenSource(cfg *config.Config) transport.TokenSource {
	if t := os.Getenv(tokenEnv); t != "" {
		return transport.StaticToken(t)
	}
	return transport.StaticToken(cfg.Telegram.Token)
}

func printSummary(s outreach.Summary) {
	fmt.Printf("run %s: %d candidates, %d attempts, %d sent, %d skipped, %d errors\n",
		s.RunID, s.Candidates, s.Attempts, s.Sent, s.Skipped, s.Errors)
	if s.DryRun > 0 {
		fmt.Printf("dry run: %d messages composed but not sent\n", s.DryRun)
	}
	if s.CapHalted {
		fmt.Println("halted: daily send cap reached")
	}
	if s.FloodHalted {
		fmt.Println("halted: platform flood control escalated")
	}
}
