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

func TestManagerStartDiscoversAndListsTools(t *testing.T) {
	withHelperMode(t, "")

	m := NewManager(zap.NewNop())
	m.startupTimeout = 2 * time.Second

	err := m.Start(context.Background(), []ServerConfig{fakeServerConfig("echo-server", "")})
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	var tools []ToolSpec
	for time.Now().Before(deadline) {
		tools = m.ListAllTools()
		if len(tools) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, tools, 1)
	assert.Equal(t, "echo-server/echo", tools[0].Key())
}

func TestManagerCallRejectsUnknownTool(t *testing.T) {
	withHelperMode(t, "")

	m := NewManager(zap.NewNop())
	m.startupTimeout = 2 * time.Second
	require.NoError(t, m.Start(context.Background(), []ServerConfig{fakeServerConfig("echo-server", "")}))
	defer m.Shutdown(context.Background())

	waitForCatalog(t, m, 1)

	_, callErr := m.Call(context.Background(), "echo-server", "does-not-exist", json.RawMessage(`{}`), time.Second)
	require.NotNil(t, callErr)
	assert.Equal(t, ErrNoSuchTool, callErr.Kind)
}

func TestManagerCallDispatchesToReadyServer(t *testing.T) {
	withHelperMode(t, "")

	m := NewManager(zap.NewNop())
	m.startupTimeout = 2 * time.Second
	require.NoError(t, m.Start(context.Background(), []ServerConfig{fakeServerConfig("echo-server", "")}))
	defer m.Shutdown(context.Background())

	waitForCatalog(t, m, 1)

	raw, callErr := m.Call(context.Background(), "echo-server", "echo", json.RawMessage(`{"x":1}`), time.Second)
	require.Nil(t, callErr)
	assert.JSONEq(t, `{"x":1}`, string(raw))
}

func TestManagerShutdownTerminatesServers(t *testing.T) {
	withHelperMode(t, "")

	m := NewManager(zap.NewNop())
	m.startupTimeout = 2 * time.Second
	require.NoError(t, m.Start(context.Background(), []ServerConfig{fakeServerConfig("echo-server", "")}))

	waitForCatalog(t, m, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}

// TestManagerRestartsAfterCrashWithoutLeakingGoroutines crashes a server on
// its first tools/call (but leaves tools/list working, so the automatic
// restart's rediscovery succeeds) and asserts that the restarted server's
// reader/writer goroutines are the only ones left running - i.e. the
// previous incarnation's writeLoop actually stopped instead of adopting
// resetForRestart's fresh done channel and running on alongside it.
func TestManagerRestartsAfterCrashWithoutLeakingGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	withHelperMode(t, "crash_after_list")

	m := NewManager(zap.NewNop())
	m.startupTimeout = 2 * time.Second
	require.NoError(t, m.Start(context.Background(), []ServerConfig{fakeServerConfig("flaky-server", "crash_after_list")}))
	defer m.Shutdown(context.Background())

	waitForCatalog(t, m, 1)

	_, callErr := m.Call(context.Background(), "flaky-server", "echo", json.RawMessage(`{}`), time.Second)
	require.NotNil(t, callErr)
	assert.Equal(t, ErrServerCrashed, callErr.Kind)

	// restartLoop's first backoff is 1s before it even attempts respawn, so
	// give rediscovery more room than waitForCatalog's default 2s budget.
	waitForCatalogWithin(t, m, 1, 5*time.Second)
}

// TestManagerRestartsAfterIdleCrashWithNoCallInFlight crashes a server right
// after discovery succeeds, with no caller ever blocked in Manager.Call to
// observe ErrServerCrashed - the only way that crash is ever noticed is
// toolServer.onCrash firing its onCrashFn unconditionally (spec §4.1: "if a
// server exits unexpectedly... the manager attempts restart", unconditional
// on a call being in flight at the time).
func TestManagerRestartsAfterIdleCrashWithNoCallInFlight(t *testing.T) {
	withHelperMode(t, "crash_immediately_after_list")

	m := NewManager(zap.NewNop())
	m.startupTimeout = 2 * time.Second
	require.NoError(t, m.Start(context.Background(), []ServerConfig{fakeServerConfig("idle-flaky-server", "crash_immediately_after_list")}))
	defer m.Shutdown(context.Background())

	// First confirm the initial discovery actually succeeded...
	waitForCatalogWithin(t, m, 1, 2*time.Second)

	// ...then confirm the catalog visibly drops back to empty once the
	// idle crash is observed, proving onCrashFn fired with no call ever
	// blocked in Manager.Call to notice it another way.
	deadline := time.Now().Add(2 * time.Second)
	sawEmpty := false
	for time.Now().Before(deadline) {
		if len(m.ListAllTools()) == 0 {
			sawEmpty = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, sawEmpty, "expected catalog to go empty once the idle crash was observed")

	// ...and finally that the automatic restart rediscovers it.
	waitForCatalogWithin(t, m, 1, 5*time.Second)
}

func waitForCatalog(t *testing.T, m *Manager, n int) {
	t.Helper()
	waitForCatalogWithin(t, m, n, 2*time.Second)
}

func waitForCatalogWithin(t *testing.T, m *Manager, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(m.ListAllTools()) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("catalog never reached %d tools", n)
}
