package convstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenOrReuseSessionCreatesThenReuses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s1, err := store.OpenOrReuseSession(ctx, "user1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, s1.SessionID)

	s2, err := store.OpenOrReuseSession(ctx, "user1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, s1.SessionID, s2.SessionID)
}

func TestOpenOrReuseSessionStartsNewAfterIdleTimeout(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s1, err := store.OpenOrReuseSession(ctx, "user1", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	s2, err := store.OpenOrReuseSession(ctx, "user1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.NotEqual(t, s1.SessionID, s2.SessionID)
}

func TestAppendMessageAndHistoryOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.OpenOrReuseSession(ctx, "user1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.AppendMessage(ctx, &Message{SessionID: sess.SessionID, Role: RoleUser, Content: "hi"}))
	require.NoError(t, store.AppendMessage(ctx, &Message{SessionID: sess.SessionID, Role: RoleModel, Content: "hello"}))

	history, err := store.History(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleModel, history[1].Role)
}

func TestHistoryWithLimitReturnsMostRecentMessagesOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.OpenOrReuseSession(ctx, "user1", time.Hour)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			SessionID: sess.SessionID,
			Role:      RoleUser,
			Content:   fmt.Sprintf("msg-%d", i),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := store.History(ctx, sess.SessionID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// The two most recent messages (msg-3, msg-4), still oldest-first.
	assert.Equal(t, "msg-3", history[0].Content)
	assert.Equal(t, "msg-4", history[1].Content)
}

func TestClearForgetsSessionWindowAndData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.OpenOrReuseSession(ctx, "user1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, &Message{SessionID: sess.SessionID, Role: RoleUser, Content: "hi"}))

	require.NoError(t, store.Clear(ctx, "user1"))

	history, err := store.History(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	next, err := store.OpenOrReuseSession(ctx, "user1", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, sess.SessionID, next.SessionID)
}

func TestPurgeOlderThanRemovesStaleSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.OpenOrReuseSession(ctx, "user1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, &Message{SessionID: sess.SessionID, Role: RoleUser, Content: "hi"}))

	n, err := store.PurgeOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err := store.History(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// TestPurgeOlderThanPurgesStaleMessagesEvenInAFreshSession places an old
// message and a recent one in the same session: a session-level purge keyed
// off last_activity_at would skip the whole session because its latest
// activity is recent, leaving the old message behind forever.
func TestPurgeOlderThanPurgesStaleMessagesEvenInAFreshSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.OpenOrReuseSession(ctx, "user1", 48*time.Hour)
	require.NoError(t, err)

	oldMsg := &Message{SessionID: sess.SessionID, Role: RoleUser, Content: "old", CreatedAt: time.Now().Add(-25 * time.Hour)}
	recentMsg := &Message{SessionID: sess.SessionID, Role: RoleUser, Content: "recent", CreatedAt: time.Now().Add(-1 * time.Hour)}
	require.NoError(t, store.AppendMessage(ctx, oldMsg))
	require.NoError(t, store.AppendMessage(ctx, recentMsg))

	n, err := store.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expected exactly the 25h-old message to be purged")

	history, err := store.History(ctx, sess.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "recent", history[0].Content)
}

// TestPurgeOlderThanReapsStaleSessionLeftWithNoMessages covers the other
// half: once a stale session's only message is purged, the now-empty
// session row itself should be reaped rather than left behind forever.
func TestPurgeOlderThanReapsStaleSessionLeftWithNoMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.OpenOrReuseSession(ctx, "user1", 48*time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, &Message{
		SessionID: sess.SessionID, Role: RoleUser, Content: "hi", CreatedAt: time.Now().Add(-25 * time.Hour),
	}))

	n, err := store.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	next, err := store.OpenOrReuseSession(ctx, "user1", 48*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, sess.SessionID, next.SessionID, "reaped session should not be reused")
}
