package telegram

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"telereach/internal/transport"
)

// classifySend maps a Bot API send error onto the transport outcome taxonomy:
//
//	nil                      -> sent
//	flood control            -> error + RetryAfter
//	blocked / closed inbox   -> skipped (non-retriable this run)
//	anything else            -> error (logged, not retried this run)
func classifySend(err error) transport.Result {
	if err == nil {
		return transport.Result{Status: transport.StatusSent}
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.Result{
			Status:     transport.StatusError,
			Reason:     err.Error(),
			RetryAfter: time.Duration(flood.RetryAfter) * time.Second,
		}
	}

	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrNotStartedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) {
		return transport.Result{Status: transport.StatusSkipped, Reason: err.Error()}
	}

	// Any other 403 still means this recipient is unreachable for us.
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return transport.Result{Status: transport.StatusSkipped, Reason: te.Description}
	}

	return transport.Result{Status: transport.StatusError, Reason: err.Error()}
}

// isUnknownUser reports Bot API errors that mean "this user is simply not
// there", as opposed to "you may not ask".
func isUnknownUser(te *tele.Error) bool {
	if te == nil {
		return false
	}
	d := strings.ToLower(te.Description)
	return strings.Contains(d, "user not found") ||
		strings.Contains(d, "participant_id_invalid")
}
