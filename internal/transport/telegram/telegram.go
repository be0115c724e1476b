package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"telereach/internal/transport"
	logx "telereach/pkg/logx"
)

// Config tunes the Bot API client.
type Config struct {
	// RatePerSec caps outbound API calls. This is independent of the engine's
	// rolling send caps; it exists to keep bursts (collection, probes) polite.
	RatePerSec int

	HTTPTimeout time.Duration

	// Offline skips the getMe handshake. Used by tests.
	Offline bool
}

// Client implements transport.Client against the Telegram Bot API.
type Client struct {
	cfg    Config
	log    logx.Logger
	tokens transport.TokenSource

	limiter *rate.Limiter
	bot     *tele.Bot

	// Drained-but-unconsumed updates, per kind (see collect.go).
	pendingContacts []transport.Contact
	pendingMembers  []memberEvent
}

func New(cfg Config, tokens transport.TokenSource, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	return &Client{
		cfg:     cfg,
		log:     log,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Connect pulls credentials from the TokenSource and establishes the session.
func (c *Client) Connect(ctx context.Context) error {
	if c.bot != nil {
		return nil
	}
	if c.tokens == nil {
		return fmt.Errorf("%w: no token source", transport.ErrNotAuthorized)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrNotAuthorized, err)
	}

	timeout := c.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: c.cfg.Offline,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrNotAuthorized, err)
	}
	c.bot = b
	c.log.Info("session established")
	return nil
}

func (c *Client) Close() error {
	c.bot = nil
	return nil
}

// ResolveChannel accepts "@handle", "t.me/handle" or "https://t.me/handle".
// Private invite links (t.me/+hash) cannot be resolved over the Bot API.
func (c *Client) ResolveChannel(ctx context.Context, ref string) (transport.Channel, error) {
	if err := c.ready(ctx); err != nil {
		return transport.Channel{}, err
	}

	handle := normalizeChannelRef(ref)
	if handle == "" {
		return transport.Channel{}, fmt.Errorf("cannot resolve channel ref %q (private invite links are not resolvable)", ref)
	}

	chat, err := c.bot.ChatByUsername(handle)
	if err != nil {
		return transport.Channel{}, fmt.Errorf("resolve channel %q: %w", handle, err)
	}
	return transport.Channel{ID: chat.ID, Username: chat.Username, Title: chat.Title}, nil
}

// IsParticipant probes channel membership for one user.
func (c *Client) IsParticipant(ctx context.Context, ch transport.Channel, userID int64) (bool, error) {
	if err := c.ready(ctx); err != nil {
		return false, err
	}

	m, err := c.bot.ChatMemberOf(&tele.Chat{ID: ch.ID}, &tele.User{ID: userID})
	if err != nil {
		// The Bot API reports "user not found"-style errors for users the
		// channel has never seen; treat those as non-members. Everything
		// else means we lack the rights to probe this channel.
		var te *tele.Error
		if errors.As(err, &te) && isUnknownUser(te) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", transport.ErrCheckForbidden, err)
	}
	switch m.Role {
	case tele.Left, tele.Kicked:
		return false, nil
	default:
		return true, nil
	}
}

// Send delivers one direct message and classifies the outcome.
func (c *Client) Send(ctx context.Context, userID int64, text string) (transport.Result, error) {
	if err := c.ready(ctx); err != nil {
		return transport.Result{}, err
	}

	_, err := c.bot.Send(&tele.User{ID: userID}, text)
	return classifySend(err), nil
}

// ready applies the API limiter and checks the session.
func (c *Client) ready(ctx context.Context) error {
	if c.bot == nil {
		return transport.ErrNotAuthorized
	}
	return c.limiter.Wait(ctx)
}

func normalizeChannelRef(ref string) string {
	s := strings.TrimSpace(ref)
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "telegram.me/")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "joinchat/") {
		return ""
	}
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "@") {
		s = "@" + s
	}
	return s
}
