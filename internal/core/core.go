// Package core wires the tool server manager, the LLM bridge, the
// conversation store, and the agentic planner into a single facade that
// front-ends (HTTP, CLI) drive without touching any of those packages
// directly.
package core

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dchu3/base-mcp-bot/internal/config"
	"github.com/dchu3/base-mcp-bot/internal/convstore"
	"github.com/dchu3/base-mcp-bot/internal/llmbridge"
	"github.com/dchu3/base-mcp-bot/internal/planner"
	"github.com/dchu3/base-mcp-bot/internal/toolserver"
)

// Core owns the long-lived collaborators for one running bot instance.
type Core struct {
	cfg     *config.Config
	logger  *zap.Logger
	tsm     *toolserver.Manager
	store   convstore.Store
	planner *planner.Planner

	sweeper       *convstore.RetentionSweeper
	windowSweeper *convstore.WindowSweeper
}

// New assembles a Core from configuration, starting every tool server
// declared in cfg.ToolServers and the conversation retention sweeper.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Core, error) {
	store, err := convstore.NewSQLiteStore(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("core: open store: %w", err)
	}

	tsm := toolserver.NewManager(logger.Named("toolserver"))
	serverConfigs := make([]toolserver.ServerConfig, 0, len(cfg.ToolServers))
	for _, s := range cfg.ToolServers {
		serverConfigs = append(serverConfigs, toolserver.ServerConfig{
			Name:    s.Name,
			Command: s.Command,
			Args:    s.Args,
		})
	}
	if err := tsm.Start(ctx, serverConfigs); err != nil {
		store.Close()
		return nil, fmt.Errorf("core: start tool servers: %w", err)
	}

	bridge, err := newBridge(ctx, cfg, logger)
	if err != nil {
		tsm.Shutdown(ctx)
		store.Close()
		return nil, err
	}

	policyEngine, err := planner.NewPolicyEngine(ctx, loadPolicy(cfg.PolicyFile, logger))
	if err != nil {
		tsm.Shutdown(ctx)
		store.Close()
		return nil, fmt.Errorf("core: build policy engine: %w", err)
	}

	p := planner.New(planner.Config{
		TSM:     tsm,
		Bridge:  bridge,
		Store:   store,
		Policy:  policyEngine,
		Limiter: planner.NewRateLimiter(cfg.RateLimitPerMinute),
		Budgets: planner.Budgets{
			MaxIterations: cfg.MaxIterations,
			MaxToolCalls:  cfg.MaxToolCalls,
			WallClock:     cfg.WallClock,
		},
		ToolTimeout:   cfg.ToolTimeout,
		IdleTimeout:   cfg.SessionIdleTimeout,
		HistoryWindow: cfg.HistoryWindow,
		Logger:        logger.Named("planner"),
	})

	// Two independently-ticked sweeps, per spec.md §7: sweeper purges the
	// database of messages past RetentionWindow, windowSweeper
	// evicts the in-memory session-window cache of entries past
	// SessionIdleTimeout on its own, shorter-lived schedule.
	sweeper := convstore.NewRetentionSweeper(store, cfg.RetentionWindow, logger.Named("retention"))
	sweeper.Start()
	windowSweeper := convstore.NewWindowSweeper(store, cfg.SessionIdleTimeout, logger.Named("window_sweep"))
	windowSweeper.Start()

	return &Core{
		cfg:           cfg,
		logger:        logger,
		tsm:           tsm,
		store:         store,
		planner:       p,
		sweeper:       sweeper,
		windowSweeper: windowSweeper,
	}, nil
}

func newBridge(ctx context.Context, cfg *config.Config, logger *zap.Logger) (llmbridge.Bridge, error) {
	if cfg.UseMockLLM || cfg.GeminiAPIKey == "" {
		logger.Info("using mock llm bridge")
		return llmbridge.NewMockBridge(), nil
	}
	bridge, err := llmbridge.NewGenAIBridge(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger.Named("llmbridge"))
	if err != nil {
		return nil, fmt.Errorf("core: build genai bridge: %w", err)
	}
	return bridge, nil
}

func loadPolicy(path string, logger *zap.Logger) string {
	if path == "" {
		return planner.DefaultPolicy
	}
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read policy file, falling back to default policy",
			zap.String("path", path), zap.Error(err))
		return planner.DefaultPolicy
	}
	return string(content)
}

// Ask runs one user message through the agentic loop, returning the
// model's answer, every tool call the run made, and the terminal state the
// run landed in (spec.md §6's core.run(user_key, user_text) ->
// {assistant_text, tool_calls_made[], terminal_state}).
func (c *Core) Ask(ctx context.Context, userKey, message string) (planner.RunResult, error) {
	return c.planner.Run(ctx, userKey, message)
}

// Clear forgets a user's conversation history and session window.
func (c *Core) Clear(ctx context.Context, userKey string) error {
	return c.store.Clear(ctx, userKey)
}

// Shutdown stops background work and every tool server child process,
// then closes the conversation store.
func (c *Core) Shutdown(ctx context.Context) error {
	c.sweeper.Stop()
	c.windowSweeper.Stop()
	if err := c.tsm.Shutdown(ctx); err != nil {
		c.logger.Warn("tool server shutdown reported errors", zap.Error(err))
	}
	return c.store.Close()
}
