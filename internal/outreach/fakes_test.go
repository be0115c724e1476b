package outreach

import (
	"context"
	"errors"
	"sync"
	"time"

	"telereach/internal/storage"
	"telereach/internal/transport"
)

// fakeStore is an in-memory storage.Store for engine tests.
type fakeStore struct {
	mu sync.Mutex

	inbox       map[int64]storage.Recipient
	members     map[int64]storage.Member
	membership  map[int64]storage.MembershipRecord
	dnc         map[int64]struct{}
	log         []storage.OutreachEntry
	checkpoints map[string]string

	failAppend    bool
	failInboxUser bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		inbox:       map[int64]storage.Recipient{},
		members:     map[int64]storage.Member{},
		membership:  map[int64]storage.MembershipRecord{},
		dnc:         map[int64]struct{}{},
		checkpoints: map[string]string{},
	}
}

func (s *fakeStore) UpsertInboxUsers(_ context.Context, rows []storage.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.inbox[r.UserID] = r
	}
	return nil
}

func (s *fakeStore) InboxUserIDs(context.Context) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]struct{}{}
	for id := range s.inbox {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *fakeStore) InboxUser(_ context.Context, userID int64) (storage.Recipient, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInboxUser {
		return storage.Recipient{}, false, errors.New("inbox read failed")
	}
	r, ok := s.inbox[userID]
	return r, ok, nil
}

func (s *fakeStore) UpsertChannelMembers(_ context.Context, rows []storage.Member, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range rows {
		s.members[m.UserID] = m
	}
	return nil
}

func (s *fakeStore) ChannelMemberIDs(context.Context) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]struct{}{}
	for id := range s.members {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *fakeStore) Membership(_ context.Context, userID int64) (storage.MembershipRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.membership[userID]
	return rec, ok, nil
}

func (s *fakeStore) CacheMembership(_ context.Context, rec storage.MembershipRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membership[rec.UserID] = rec
	return nil
}

func (s *fakeStore) SentUserIDs(context.Context) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]struct{}{}
	for _, e := range s.log {
		if e.Status == storage.StatusSent {
			out[e.UserID] = struct{}{}
		}
	}
	return out, nil
}

func (s *fakeStore) DNCUserIDs(context.Context) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]struct{}{}
	for id := range s.dnc {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *fakeStore) AddDoNotContact(_ context.Context, userID int64, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dnc[userID] = struct{}{}
	return nil
}

func (s *fakeStore) AppendOutreach(_ context.Context, e storage.OutreachEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return errors.New("disk full")
	}
	s.log = append(s.log, e)
	return nil
}

func (s *fakeStore) CountSentSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.log {
		if e.Status == storage.StatusSent && !e.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) OldestSentSince(_ context.Context, since time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		oldest time.Time
		found  bool
	)
	for _, e := range s.log {
		if e.Status != storage.StatusSent || e.SentAt.Before(since) {
			continue
		}
		if !found || e.SentAt.Before(oldest) {
			oldest = e.SentAt
			found = true
		}
	}
	return oldest, found, nil
}

func (s *fakeStore) PutCheckpoint(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key] = value
	return nil
}

func (s *fakeStore) GetCheckpoint(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.checkpoints[key]
	return v, ok, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) entries() []storage.OutreachEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.OutreachEntry, len(s.log))
	copy(out, s.log)
	return out
}

func (s *fakeStore) entriesFor(userID int64) []storage.OutreachEntry {
	var out []storage.OutreachEntry
	for _, e := range s.entries() {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// fakeClient is a scripted transport.Client.
type fakeClient struct {
	mu sync.Mutex

	channel transport.Channel

	// members answers IsParticipant; forbidden overrides it per user.
	members   map[int64]bool
	forbidden map[int64]struct{}

	// results scripts Send outcomes per user; default is sent.
	results map[int64]transport.Result

	connectErr error

	sendCalls  []int64
	probeCalls []int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		channel:   transport.Channel{ID: 100, Username: "example"},
		members:   map[int64]bool{},
		forbidden: map[int64]struct{}{},
		results:   map[int64]transport.Result{},
	}
}

func (c *fakeClient) Connect(context.Context) error { return c.connectErr }
func (c *fakeClient) Close() error                  { return nil }

func (c *fakeClient) ResolveChannel(context.Context, string) (transport.Channel, error) {
	return c.channel, nil
}

func (c *fakeClient) InboxContacts(context.Context) ([]transport.Contact, error) {
	return nil, nil
}

func (c *fakeClient) ChannelMembers(context.Context, transport.Channel) ([]transport.Contact, error) {
	return nil, nil
}

func (c *fakeClient) IsParticipant(_ context.Context, _ transport.Channel, userID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeCalls = append(c.probeCalls, userID)
	if _, ok := c.forbidden[userID]; ok {
		return false, transport.ErrCheckForbidden
	}
	return c.members[userID], nil
}

func (c *fakeClient) Send(_ context.Context, userID int64, _ string) (transport.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendCalls = append(c.sendCalls, userID)
	if r, ok := c.results[userID]; ok {
		return r, nil
	}
	return transport.Result{Status: transport.StatusSent}, nil
}

func (c *fakeClient) sends() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.sendCalls))
	copy(out, c.sendCalls)
	return out
}

func (c *fakeClient) probes() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.probeCalls))
	copy(out, c.probeCalls)
	return out
}
