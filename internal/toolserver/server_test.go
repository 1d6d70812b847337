package toolserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func withHelperMode(t *testing.T, mode string) {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("HELPER_MODE", mode)
}

func TestToolServerDiscoveryAndCall(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	withHelperMode(t, "")

	logger := zap.NewNop()
	ts := newToolServer(fakeServerConfig("echo-server", ""), logger)

	ctx := context.Background()
	require.NoError(t, ts.spawn(ctx))
	defer func() {
		ts.terminate(time.Second)
		ts.stopGoroutines()
	}()

	raw, callErr := ts.send(ctx, "tools/list", json.RawMessage(`{}`), 2*time.Second)
	require.Nil(t, callErr)

	var result toolsListResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
	ts.markReady([]ToolSpec{{ServerName: "echo-server", ToolName: "echo"}})

	callRaw, callErr := ts.send(ctx, "tools/call/echo", json.RawMessage(`{"msg":"hi"}`), 2*time.Second)
	require.Nil(t, callErr)
	assert.JSONEq(t, `{"msg":"hi"}`, string(callRaw))
}

func TestToolServerCallTimeoutMarksZombie(t *testing.T) {
	withHelperMode(t, "never_respond")

	logger := zap.NewNop()
	ts := newToolServer(fakeServerConfig("slow-server", "never_respond"), logger)

	ctx := context.Background()
	require.NoError(t, ts.spawn(ctx))
	defer func() {
		ts.terminate(time.Second)
		ts.stopGoroutines()
	}()

	_, callErr := ts.send(ctx, "tools/call/echo", json.RawMessage(`{}`), 50*time.Millisecond)
	require.NotNil(t, callErr)
	assert.Equal(t, ErrCallTimeout, callErr.Kind)

	_, zombie := ts.zombies.Load(int64(1))
	assert.True(t, zombie, "expected timed-out call id to be tracked as a zombie")
}

func TestToolServerCrashFlushesPendingCalls(t *testing.T) {
	withHelperMode(t, "crash_after_list")

	logger := zap.NewNop()
	ts := newToolServer(fakeServerConfig("flaky-server", "crash_after_list"), logger)

	ctx := context.Background()
	require.NoError(t, ts.spawn(ctx))
	defer func() {
		ts.stopGoroutines()
	}()

	_, callErr := ts.send(ctx, "tools/list", json.RawMessage(`{}`), 2*time.Second)
	require.Nil(t, callErr)

	_, callErr = ts.send(ctx, "tools/call/echo", json.RawMessage(`{}`), 2*time.Second)
	require.NotNil(t, callErr)
	assert.Equal(t, ErrServerCrashed, callErr.Kind)
}

func TestToolServerMalformedLinesTriggerRestart(t *testing.T) {
	withHelperMode(t, "malformed_always")

	logger := zap.NewNop()
	ts := newToolServer(fakeServerConfig("garbled-server", "malformed_always"), logger)

	ctx := context.Background()
	require.NoError(t, ts.spawn(ctx))
	defer func() {
		ts.stopGoroutines()
	}()

	for i := 0; i < 3; i++ {
		_, callErr := ts.send(ctx, "tools/list", json.RawMessage(`{}`), 200*time.Millisecond)
		require.NotNil(t, callErr)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ts.mu.Lock()
		failed := ts.failed
		ts.mu.Unlock()
		if failed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected server to be marked failed after repeated malformed lines")
}

func TestToolServerSpawnFailureIsReported(t *testing.T) {
	logger := zap.NewNop()
	ts := newToolServer(ServerConfig{Name: "missing", Command: "/nonexistent/binary-does-not-exist"}, logger)

	err := ts.spawn(context.Background())
	assert.Error(t, err)
}
