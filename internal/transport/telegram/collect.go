package telegram

import (
	"context"
	"encoding/json"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"telereach/internal/transport"
	logx "telereach/pkg/logx"
)

// The Bot API cannot enumerate historic dialogs or full member lists, so
// collection drains the pending update backlog. Advancing the offset confirms
// (and thereby discards) every update in a batch regardless of kind, so a
// single drain must feed both tables: ingest classifies each update into a
// per-kind buffer, and each Collect* call consumes only its own buffer. The
// sibling call then finds its events intact no matter which ran first.

const drainBatchLimit = 100

type memberEvent struct {
	chatID int64
	user   transport.Contact
}

// InboxContacts returns the senders of pending private-chat messages.
func (c *Client) InboxContacts(ctx context.Context) ([]transport.Contact, error) {
	if err := c.drainBacklog(ctx); err != nil {
		return nil, err
	}
	out := c.takeContacts()
	c.log.Debug("inbox drain finished", logx.Int("contacts", len(out)))
	return out, nil
}

// ChannelMembers returns users whose pending chat_member events show them
// joining (or present in) the given channel.
func (c *Client) ChannelMembers(ctx context.Context, ch transport.Channel) ([]transport.Contact, error) {
	if err := c.drainBacklog(ctx); err != nil {
		return nil, err
	}
	out := c.takeMembers(ch.ID)
	c.log.Debug("member drain finished", logx.Int("members", len(out)))
	return out, nil
}

// ingest classifies one update into the pending buffers.
func (c *Client) ingest(u tele.Update) {
	if m := u.Message; m != nil && m.Sender != nil && m.Chat != nil &&
		m.Chat.Type == tele.ChatPrivate && !m.Sender.IsBot {
		c.pendingContacts = append(c.pendingContacts, transport.Contact{
			UserID:    m.Sender.ID,
			Username:  m.Sender.Username,
			FirstName: m.Sender.FirstName,
		})
	}

	cm := u.ChatMember
	if cm == nil || cm.Chat == nil {
		return
	}
	nm := cm.NewChatMember
	if nm == nil || nm.User == nil {
		return
	}
	switch nm.Role {
	case tele.Left, tele.Kicked:
		return
	}
	c.pendingMembers = append(c.pendingMembers, memberEvent{
		chatID: cm.Chat.ID,
		user: transport.Contact{
			UserID:    nm.User.ID,
			Username:  nm.User.Username,
			FirstName: nm.User.FirstName,
		},
	})
}

func (c *Client) takeContacts() []transport.Contact {
	var out []transport.Contact
	seen := map[int64]struct{}{}
	for _, ct := range c.pendingContacts {
		if _, dup := seen[ct.UserID]; dup {
			continue
		}
		seen[ct.UserID] = struct{}{}
		out = append(out, ct)
	}
	c.pendingContacts = nil
	return out
}

// takeMembers consumes the buffered membership events. Events for chats other
// than the requested one are dropped: each sender identity targets a single
// configured channel.
func (c *Client) takeMembers(chatID int64) []transport.Contact {
	var out []transport.Contact
	seen := map[int64]struct{}{}
	for _, ev := range c.pendingMembers {
		if ev.chatID != chatID {
			continue
		}
		if _, dup := seen[ev.user.UserID]; dup {
			continue
		}
		seen[ev.user.UserID] = struct{}{}
		out = append(out, ev.user)
	}
	c.pendingMembers = nil
	return out
}

func (c *Client) drainBacklog(ctx context.Context) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		data, err := c.bot.Raw("getUpdates", map[string]any{
			"offset":          offset,
			"limit":           drainBatchLimit,
			"timeout":         0,
			"allowed_updates": []string{"message", "chat_member"},
		})
		if err != nil {
			return fmt.Errorf("getUpdates: %w", err)
		}

		var resp struct {
			Result []tele.Update `json:"result"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("getUpdates decode: %w", err)
		}
		if len(resp.Result) == 0 {
			return nil
		}
		for _, u := range resp.Result {
			c.ingest(u)
			if u.ID >= offset {
				offset = u.ID + 1
			}
		}
	}
}
