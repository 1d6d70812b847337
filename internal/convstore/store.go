package convstore

import (
	"context"
	"time"
)

// Store is the Conversation Store contract the planner and core depend on.
type Store interface {
	// OpenOrReuseSession returns the user's current session if it was
	// active within idleTimeout of now, or starts a new one otherwise.
	OpenOrReuseSession(ctx context.Context, userKey string, idleTimeout time.Duration) (*Session, error)
	// AppendMessage appends one message to a session's log and bumps the
	// session's LastActivityAt.
	AppendMessage(ctx context.Context, msg *Message) error
	// History returns up to limit most recent messages for a session in
	// chronological order.
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
	// Clear forgets a user's session-window cache entry and deletes their
	// sessions and messages.
	Clear(ctx context.Context, userKey string) error
	// PurgeOlderThan deletes messages whose own timestamp is older than
	// cutoff, reaping any session left with no messages and itself stale,
	// and returns the number of messages removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	// PruneWindow evicts session-window cache entries idle longer than
	// maxIdle, without touching the underlying session/message rows,
	// returning the number of entries evicted.
	PruneWindow(maxIdle time.Duration) int
	Close() error
}
