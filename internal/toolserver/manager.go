package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStartupTimeout = 30 * time.Second
	defaultCallTimeout    = 30 * time.Second
	shutdownGrace         = 5 * time.Second
	maxBackoff            = 30 * time.Second
)

// Manager is the Tool Server Manager (spec §4.1): it owns every ToolServer,
// discovers their tools at startup, and exposes a single call(server, tool,
// params, timeout) interface to upstream callers.
type Manager struct {
	logger *zap.Logger

	startupTimeout time.Duration
	defaultTimeout time.Duration

	mu      sync.RWMutex
	servers map[string]*toolServer

	catalog atomic.Pointer[map[string]ToolSpec] // atomically-swapped full view

	wg       sync.WaitGroup
	stopping atomic.Bool
}

// NewManager creates an empty Manager. Call Start to spawn configured
// servers.
func NewManager(logger *zap.Logger) *Manager {
	m := &Manager{
		logger:         logger,
		startupTimeout: defaultStartupTimeout,
		defaultTimeout: defaultCallTimeout,
		servers:        make(map[string]*toolServer),
	}
	empty := map[string]ToolSpec{}
	m.catalog.Store(&empty)
	return m
}

// Start spawns every configured tool server and waits (up to
// startupTimeout each, concurrently) for capability discovery. A server
// that fails discovery is marked failed but does not abort Start for the
// others.
func (m *Manager) Start(ctx context.Context, configs []ServerConfig) error {
	if len(configs) == 0 {
		return fmt.Errorf("at least one tool server must be configured")
	}

	var wg sync.WaitGroup
	for _, cfg := range configs {
		ts := newToolServer(cfg, m.logger)
		ts.onCrashFn = func() { m.onServerCrashed(ts) }
		m.mu.Lock()
		m.servers[cfg.Name] = ts
		m.mu.Unlock()

		wg.Add(1)
		go func(ts *toolServer) {
			defer wg.Done()
			m.bootstrap(ctx, ts)
		}(ts)
	}
	wg.Wait()
	m.rebuildCatalog()
	return nil
}

// bootstrap spawns the process and runs discovery; on failure it schedules
// a background restart loop rather than returning an error, per spec.
func (m *Manager) bootstrap(ctx context.Context, ts *toolServer) {
	if err := ts.spawn(ctx); err != nil {
		m.logger.Error("failed to spawn tool server", zap.String("server", ts.cfg.Name), zap.Error(err))
		ts.markFailed()
		m.scheduleRestart(ts)
		return
	}
	if err := m.discover(ctx, ts); err != nil {
		m.logger.Error("discovery failed", zap.String("server", ts.cfg.Name), zap.Error(err))
		ts.markFailed()
		m.scheduleRestart(ts)
	}
}

// onServerCrashed is onCrashFn for every toolServer: it fires unconditionally
// whenever an incarnation dies, regardless of whether a caller happened to
// be blocked in Call at that moment (spec §4.1: "if a server exits
// unexpectedly... the manager attempts restart", no condition attached).
func (m *Manager) onServerCrashed(ts *toolServer) {
	m.rebuildCatalog()
	m.scheduleRestart(ts)
}

// scheduleRestart starts restartLoop for ts, unless the manager itself is
// already shutting down.
func (m *Manager) scheduleRestart(ts *toolServer) {
	if m.stopping.Load() {
		return
	}
	m.wg.Add(1)
	go m.restartLoop(ts)
}

// discover issues tools/list and persists the result as the server's
// declared ToolSpecs (spec §4.1 steps 2-4).
func (m *Manager) discover(ctx context.Context, ts *toolServer) error {
	dctx, cancel := context.WithTimeout(ctx, m.startupTimeout)
	defer cancel()

	raw, callErr := ts.send(dctx, "tools/list", json.RawMessage(`{}`), m.startupTimeout)
	if callErr != nil {
		return callErr
	}

	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode tools/list result: %w", err)
	}

	specs := make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		specs = append(specs, ToolSpec{
			ServerName:  ts.cfg.Name,
			ToolName:    t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	ts.markReady(specs)
	m.rebuildCatalog()
	m.logger.Info("tool server ready", zap.String("server", ts.cfg.Name), zap.Int("tools", len(specs)))
	return nil
}

// restartLoop retries spawn+discover with exponential backoff (1s, 2s,
// 4s, ... capped at 30s) until one attempt succeeds or the manager is
// shutting down.
func (m *Manager) restartLoop(ts *toolServer) {
	defer m.wg.Done()
	backoff := time.Second
	for {
		if m.stopping.Load() {
			return
		}
		time.Sleep(backoff)
		if m.stopping.Load() {
			return
		}

		// Stop the previous incarnation's reader/writer goroutines before
		// handing it a fresh done channel: resetForRestart mutates s.done
		// in place, so without this the old writeLoop's live select would
		// simply adopt the new channels and keep running alongside the
		// ones spawn() is about to start.
		ts.stopGoroutines()
		ts.resetForRestart()
		ctx, cancel := context.WithTimeout(context.Background(), m.startupTimeout)
		err := ts.spawn(ctx)
		if err == nil {
			err = m.discover(ctx, ts)
		}
		cancel()
		if err == nil {
			return
		}

		m.logger.Warn("restart attempt failed", zap.String("server", ts.cfg.Name), zap.Error(err), zap.Duration("next_backoff", backoff))
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// rebuildCatalog recomputes the full (server, tool) -> ToolSpec view and
// atomically swaps it in, so readers never observe a partially-updated
// catalog (spec §5).
func (m *Manager) rebuildCatalog() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := make(map[string]ToolSpec)
	for _, ts := range m.servers {
		if !ts.isReady() {
			continue
		}
		for _, spec := range ts.currentTools() {
			next[spec.Key()] = spec
		}
	}
	m.catalog.Store(&next)
}

// ListAllTools returns the current immutable catalog snapshot.
func (m *Manager) ListAllTools() []ToolSpec {
	cat := *m.catalog.Load()
	out := make([]ToolSpec, 0, len(cat))
	for _, spec := range cat {
		out = append(out, spec)
	}
	return out
}

// Snapshot returns the catalog as a lookup map, for callers (the Planner)
// that want an immutable view for the duration of one run.
func (m *Manager) Snapshot() map[string]ToolSpec {
	cat := *m.catalog.Load()
	out := make(map[string]ToolSpec, len(cat))
	for k, v := range cat {
		out[k] = v
	}
	return out
}

// Call dispatches one tool invocation. A (server, tool) pair absent from
// the current catalog is rejected before it ever reaches a subprocess
// (spec invariant 2 / P7).
func (m *Manager) Call(ctx context.Context, server, tool string, params json.RawMessage, timeout time.Duration) (json.RawMessage, *CallError) {
	key := server + "/" + tool
	cat := *m.catalog.Load()
	if _, ok := cat[key]; !ok {
		return nil, &CallError{Kind: ErrNoSuchTool, Message: fmt.Sprintf("no such tool %s", key)}
	}

	m.mu.RLock()
	ts, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return nil, &CallError{Kind: ErrNoSuchTool, Message: fmt.Sprintf("no such server %s", server)}
	}
	if !ts.isReady() {
		return nil, &CallError{Kind: ErrServerUnavailable, Message: fmt.Sprintf("server %s is not ready", server)}
	}

	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	method := "tools/call/" + tool
	payload := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: tool, Arguments: params}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Kind: ErrProtocolError, Message: err.Error()}
	}

	// A crash surfaces here as ErrServerCrashed, but the restart itself is
	// scheduled by onServerCrashed (wired as ts.onCrashFn), which fires
	// unconditionally on the crash itself rather than only when a caller is
	// blocked here to observe it.
	result, callErr := ts.send(ctx, method, raw, timeout)
	return result, callErr
}

// Shutdown terminates every tool server (SIGTERM, escalating to SIGKILL
// after 5s) and waits for any in-flight restart loops to observe the stop
// signal.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopping.Store(true)

	m.mu.RLock()
	servers := make([]*toolServer, 0, len(m.servers))
	for _, ts := range m.servers {
		servers = append(servers, ts)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ts := range servers {
		wg.Add(1)
		go func(ts *toolServer) {
			defer wg.Done()
			ts.terminate(shutdownGrace)
			ts.stopGoroutines()
		}(ts)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
