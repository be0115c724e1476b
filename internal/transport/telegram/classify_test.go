package telegram

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"telereach/internal/transport"
)

func TestClassifySend(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		status     transport.Status
		retryAfter time.Duration
	}{
		{name: "delivered", err: nil, status: transport.StatusSent},
		{
			name:       "flood wait",
			err:        tele.FloodError{Error: tele.NewError(429, "Too Many Requests: retry after 42"), RetryAfter: 42},
			status:     transport.StatusError,
			retryAfter: 42 * time.Second,
		},
		{name: "blocked", err: tele.ErrBlockedByUser, status: transport.StatusSkipped},
		{name: "never started", err: tele.ErrNotStartedByUser, status: transport.StatusSkipped},
		{name: "deactivated", err: tele.ErrUserIsDeactivated, status: transport.StatusSkipped},
		{name: "other forbidden", err: tele.NewError(403, "Forbidden: something else"), status: transport.StatusSkipped},
		{name: "generic failure", err: errors.New("connection reset"), status: transport.StatusError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classifySend(tt.err)
			if got.Status != tt.status {
				t.Fatalf("status = %s, want %s", got.Status, tt.status)
			}
			if got.RetryAfter != tt.retryAfter {
				t.Fatalf("retry_after = %v, want %v", got.RetryAfter, tt.retryAfter)
			}
			if tt.err != nil && got.Reason == "" {
				t.Fatal("reason should carry the error text")
			}
		})
	}
}

func TestNormalizeChannelRef(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"@mychannel", "@mychannel"},
		{"mychannel", "@mychannel"},
		{"https://t.me/mychannel", "@mychannel"},
		{"t.me/mychannel", "@mychannel"},
		{"https://t.me/+AbCdEf", ""},
		{"t.me/joinchat/AbCdEf", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := normalizeChannelRef(tt.in); got != tt.want {
			t.Fatalf("normalizeChannelRef(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
