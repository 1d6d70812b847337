package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqliteStore implements Store on top of modernc.org/sqlite, the pure-Go
// driver (no cgo), following the same migrate()-at-construction idiom as
// the teacher's own SQLite-backed store.
type sqliteStore struct {
	db *sql.DB

	// windowMu guards the in-memory session-window cache: the last known
	// session per user key, so OpenOrReuseSession doesn't hit the database
	// on every call, and so Clear can forget a stale entry immediately
	// (spec gap closed: see SPEC_FULL.md §3).
	windowMu sync.Mutex
	window   map[string]*Session
}

// NewSQLiteStore opens (creating if absent) a conversation store at dsn.
func NewSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("convstore: open database: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("convstore: enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db, window: make(map[string]*Session)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("convstore: migrate: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conv_sessions (
			session_id TEXT PRIMARY KEY,
			user_key TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_activity_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_sessions_user ON conv_sessions(user_key, last_activity_at)`,
		`CREATE TABLE IF NOT EXISTS conv_messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT,
			tool_name TEXT,
			created_at DATETIME NOT NULL,
			metadata TEXT,
			FOREIGN KEY (session_id) REFERENCES conv_sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_messages_session ON conv_messages(session_id, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

func (s *sqliteStore) OpenOrReuseSession(ctx context.Context, userKey string, idleTimeout time.Duration) (*Session, error) {
	s.windowMu.Lock()
	cached, ok := s.window[userKey]
	s.windowMu.Unlock()
	if ok && time.Since(cached.LastActivityAt) < idleTimeout {
		return cached, nil
	}

	existing, err := s.latestSession(ctx, userKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && time.Since(existing.LastActivityAt) < idleTimeout {
		s.cacheWindow(userKey, existing)
		return existing, nil
	}

	session := &Session{
		SessionID:      uuid.NewString(),
		UserKey:        userKey,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conv_sessions (session_id, user_key, created_at, last_activity_at) VALUES (?, ?, ?, ?)`,
		session.SessionID, session.UserKey, session.CreatedAt, session.LastActivityAt); err != nil {
		return nil, fmt.Errorf("convstore: create session: %w", err)
	}
	s.cacheWindow(userKey, session)
	return session, nil
}

func (s *sqliteStore) latestSession(ctx context.Context, userKey string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_key, created_at, last_activity_at FROM conv_sessions
		 WHERE user_key = ? ORDER BY last_activity_at DESC LIMIT 1`,
		userKey).Scan(&sess.SessionID, &sess.UserKey, &sess.CreatedAt, &sess.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convstore: latest session: %w", err)
	}
	return &sess, nil
}

func (s *sqliteStore) cacheWindow(userKey string, sess *Session) {
	s.windowMu.Lock()
	s.window[userKey] = sess
	s.windowMu.Unlock()
}

func (s *sqliteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	metadata := ""
	if len(msg.Metadata) > 0 {
		metadata = string(msg.Metadata)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conv_messages (message_id, session_id, role, content, tool_call_id, tool_name, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.SessionID, string(msg.Role), msg.Content, nullString(msg.ToolCallID), nullString(msg.ToolName), msg.CreatedAt, metadata)
	if err != nil {
		return fmt.Errorf("convstore: append message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conv_sessions SET last_activity_at = ? WHERE session_id = ?`,
		msg.CreatedAt, msg.SessionID); err != nil {
		return fmt.Errorf("convstore: bump session activity: %w", err)
	}

	s.windowMu.Lock()
	for _, sess := range s.window {
		if sess.SessionID == msg.SessionID {
			sess.LastActivityAt = msg.CreatedAt
		}
	}
	s.windowMu.Unlock()
	return nil
}

// History returns up to limit most recent messages for a session, oldest
// first. A limit selects the most recent rows by sorting DESC before
// capping, then reverses them back to chronological order in Go: sorting
// ASC with a LIMIT instead would return the session's oldest messages, the
// opposite of what a recency-bounded context window needs.
func (s *sqliteStore) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	order := "ASC"
	if limit > 0 {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT message_id, session_id, role, content, tool_call_id, tool_name, created_at, metadata
	          FROM conv_messages WHERE session_id = ? ORDER BY created_at %s`, order)
	args := []any{sessionID}
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("convstore: history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		var toolCallID, toolName, metadata sql.NullString
		if err := rows.Scan(&m.MessageID, &m.SessionID, &role, &m.Content, &toolCallID, &toolName, &m.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("convstore: scan message: %w", err)
		}
		m.Role = Role(role)
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		if toolName.Valid {
			m.ToolName = toolName.String
		}
		if metadata.Valid && metadata.String != "" {
			m.Metadata = json.RawMessage(metadata.String)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *sqliteStore) Clear(ctx context.Context, userKey string) error {
	s.windowMu.Lock()
	delete(s.window, userKey)
	s.windowMu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conv_messages WHERE session_id IN (SELECT session_id FROM conv_sessions WHERE user_key = ?)`,
		userKey); err != nil {
		return fmt.Errorf("convstore: clear messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conv_sessions WHERE user_key = ?`, userKey); err != nil {
		return fmt.Errorf("convstore: clear sessions: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes messages by their own created_at, not by their
// session's last_activity_at: a session that has a single recent message
// must keep that message's older siblings purged rather than being skipped
// wholesale because its latest activity is still within the window. Once a
// session's messages are all gone, and the session itself is stale, the now
// -empty session row is reaped too.
func (s *sqliteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conv_messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("convstore: purge messages: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("convstore: purge messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM conv_sessions
		WHERE last_activity_at < ?
		  AND session_id NOT IN (SELECT DISTINCT session_id FROM conv_messages)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("convstore: find stale empty sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		s.windowMu.Lock()
		for key, sess := range s.window {
			for _, id := range ids {
				if sess.SessionID == id {
					delete(s.window, key)
				}
			}
		}
		s.windowMu.Unlock()

		placeholders := make([]string, len(ids))
		args := make([]any, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			args[i] = id
		}
		inClause := strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM conv_sessions WHERE session_id IN (%s)", inClause), args...); err != nil {
			return 0, fmt.Errorf("convstore: reap stale empty sessions: %w", err)
		}
	}

	return int(purged), nil
}

// PruneWindow evicts cached window entries idle longer than maxIdle. It
// never touches the database: a pruned entry simply falls back to
// latestSession on the next OpenOrReuseSession call for that user key.
func (s *sqliteStore) PruneWindow(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	s.windowMu.Lock()
	defer s.windowMu.Unlock()
	n := 0
	for key, sess := range s.window {
		if sess.LastActivityAt.Before(cutoff) {
			delete(s.window, key)
			n++
		}
	}
	return n
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
