package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "telereach/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store, creating the database file and schema
// when missing.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single connection
	// also gives read-your-writes within a run for free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertInboxUsers(ctx context.Context, rows []Recipient) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO users_inbox(user_id, username, first_name, last_msg_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username=excluded.username,
		   first_name=excluded.first_name,
		   last_msg_at=excluded.last_msg_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.UserID, nullStr(r.Username), nullStr(r.FirstName), unixOrNil(r.LastMsgAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) InboxUserIDs(ctx context.Context) (map[int64]struct{}, error) {
	return s.idSet(ctx, `SELECT user_id FROM users_inbox`)
}

func (s *sqliteStore) InboxUser(ctx context.Context, userID int64) (Recipient, bool, error) {
	if s == nil || s.db == nil {
		return Recipient{}, false, ErrClosed
	}
	var (
		r        Recipient
		username sql.NullString
		first    sql.NullString
		lastMsg  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, first_name, last_msg_at FROM users_inbox WHERE user_id = ?`,
		userID,
	).Scan(&r.UserID, &username, &first, &lastMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, false, nil
	}
	if err != nil {
		return Recipient{}, false, err
	}
	r.Username = username.String
	r.FirstName = first.String
	if lastMsg.Valid {
		r.LastMsgAt = time.Unix(lastMsg.Int64, 0)
	}
	return r, true, nil
}

func (s *sqliteStore) UpsertChannelMembers(ctx context.Context, rows []Member, seenAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if len(rows) == 0 {
		return nil
	}
	ts := seenAt.Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO channel_members(user_id, username, first_seen_at, last_seen_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username=excluded.username,
		   last_seen_at=excluded.last_seen_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range rows {
		if _, err := stmt.ExecContext(ctx, m.UserID, nullStr(m.Username), ts, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ChannelMemberIDs(ctx context.Context) (map[int64]struct{}, error) {
	return s.idSet(ctx, `SELECT user_id FROM channel_members`)
}

func (s *sqliteStore) Membership(ctx context.Context, userID int64) (MembershipRecord, bool, error) {
	if s == nil || s.db == nil {
		return MembershipRecord{}, false, ErrClosed
	}
	var (
		isMember  int
		checkedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT is_member, checked_at FROM membership_cache WHERE user_id = ?`,
		userID,
	).Scan(&isMember, &checkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MembershipRecord{}, false, nil
	}
	if err != nil {
		return MembershipRecord{}, false, err
	}
	rec := MembershipRecord{UserID: userID, IsMember: isMember != 0}
	if checkedAt.Valid {
		rec.CheckedAt = time.Unix(checkedAt.Int64, 0)
	}
	return rec, true, nil
}

func (s *sqliteStore) CacheMembership(ctx context.Context, rec MembershipRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO membership_cache(user_id, is_member, checked_at)
		 VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   is_member=excluded.is_member,
		   checked_at=excluded.checked_at`,
		rec.UserID, boolInt(rec.IsMember), rec.CheckedAt.Unix(),
	)
	return err
}

func (s *sqliteStore) SentUserIDs(ctx context.Context) (map[int64]struct{}, error) {
	return s.idSet(ctx, `SELECT DISTINCT user_id FROM outreach_log WHERE status = 'sent'`)
}

func (s *sqliteStore) DNCUserIDs(ctx context.Context) (map[int64]struct{}, error) {
	return s.idSet(ctx, `SELECT user_id FROM do_not_contact`)
}

func (s *sqliteStore) AddDoNotContact(ctx context.Context, userID int64, reason string, addedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO do_not_contact(user_id, reason, added_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, nullStr(reason), addedAt.Unix(),
	)
	return err
}

func (s *sqliteStore) AppendOutreach(ctx context.Context, e OutreachEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outreach_log(run_id, user_id, template_idx, sent_at, status, error)
		 VALUES(?,?,?,?,?,?)`,
		nullStr(e.RunID), e.UserID, e.TemplateIdx, e.SentAt.Unix(), e.Status, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outreach_log WHERE status = 'sent' AND sent_at >= ?`,
		since.Unix(),
	).Scan(&n)
	return n, err
}

func (s *sqliteStore) OldestSentSince(ctx context.Context, since time.Time) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(sent_at) FROM outreach_log WHERE status = 'sent' AND sent_at >= ?`,
		since.Unix(),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0), true, nil
}

func (s *sqliteStore) PutCheckpoint(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) GetCheckpoint(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) idSet(ctx context.Context, query string) (map[int64]struct{}, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
