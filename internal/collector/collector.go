// Package collector refreshes the local target tables from the transport.
// Each collection is a single finite pass: enumerate, upsert, checkpoint.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"telereach/internal/storage"
	"telereach/internal/transport"
	logx "telereach/pkg/logx"
)

// Checkpoint keys stamped after each successful pass.
const (
	inboxCheckpoint   = "collect:inbox"
	membersCheckpoint = "collect:members"
)

type checkpoint struct {
	FinishedAt time.Time `json:"finished_at"`
	Count      int       `json:"count"`
	// New counts members first seen this pass.
	New int `json:"new,omitempty"`
}

type Collector struct {
	store  storage.Store
	client transport.Client
	log    logx.Logger

	now func() time.Time
}

func New(store storage.Store, client transport.Client, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collector{store: store, client: client, log: log, now: time.Now}
}

// CollectInbox enumerates users who have messaged this identity and upserts
// them into the inbox table. Returns the number of contacts seen this pass.
func (c *Collector) CollectInbox(ctx context.Context) (int, error) {
	if err := c.client.Connect(ctx); err != nil {
		return 0, fmt.Errorf("transport connect: %w", err)
	}
	defer func() { _ = c.client.Close() }()

	contacts, err := c.client.InboxContacts(ctx)
	if err != nil {
		return 0, fmt.Errorf("enumerate inbox: %w", err)
	}

	seenAt := c.now()
	rows := make([]storage.Recipient, 0, len(contacts))
	for _, ct := range contacts {
		rows = append(rows, storage.Recipient{
			UserID:    ct.UserID,
			Username:  ct.Username,
			FirstName: ct.FirstName,
			LastMsgAt: seenAt,
		})
	}
	if err := c.store.UpsertInboxUsers(ctx, rows); err != nil {
		return 0, fmt.Errorf("upsert inbox users: %w", err)
	}

	c.stamp(ctx, inboxCheckpoint, checkpoint{FinishedAt: c.now(), Count: len(rows)})
	c.log.Info("inbox collected", logx.Int("contacts", len(rows)))
	return len(rows), nil
}

// CollectMembers enumerates known members of the channel and upserts them
// into the member table. Returns the number of members seen this pass.
func (c *Collector) CollectMembers(ctx context.Context, channelRef string) (int, error) {
	if err := c.client.Connect(ctx); err != nil {
		return 0, fmt.Errorf("transport connect: %w", err)
	}
	defer func() { _ = c.client.Close() }()

	ch, err := c.client.ResolveChannel(ctx, channelRef)
	if err != nil {
		return 0, fmt.Errorf("resolve channel: %w", err)
	}
	contacts, err := c.client.ChannelMembers(ctx, ch)
	if err != nil {
		return 0, fmt.Errorf("enumerate members: %w", err)
	}

	known, err := c.store.ChannelMemberIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load known members: %w", err)
	}

	fresh := 0
	rows := make([]storage.Member, 0, len(contacts))
	for _, ct := range contacts {
		if _, ok := known[ct.UserID]; !ok {
			fresh++
		}
		rows = append(rows, storage.Member{UserID: ct.UserID, Username: ct.Username})
	}
	if err := c.store.UpsertChannelMembers(ctx, rows, c.now()); err != nil {
		return 0, fmt.Errorf("upsert channel members: %w", err)
	}

	c.stamp(ctx, membersCheckpoint, checkpoint{FinishedAt: c.now(), Count: len(rows), New: fresh})
	c.log.Info("members collected",
		logx.String("channel", channelRef), logx.Int("members", len(rows)), logx.Int("new", fresh))
	return len(rows), nil
}

// stamp records the pass outcome. Checkpoints are informational; a failed
// write never fails the collection.
func (c *Collector) stamp(ctx context.Context, key string, cp checkpoint) {
	b, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := c.store.PutCheckpoint(ctx, key, string(b)); err != nil {
		c.log.Warn("collection checkpoint write failed",
			logx.String("key", key), logx.Err(err))
	}
}
