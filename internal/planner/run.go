// Package planner implements the Agentic Loop: a Planning/Executing state
// machine bounded by iteration, tool-call, and wall-clock budgets that
// fans tool calls out in parallel and falls back to best-effort synthesis
// when a budget runs out before the model reaches a final answer.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dchu3/base-mcp-bot/internal/convstore"
	"github.com/dchu3/base-mcp-bot/internal/llmbridge"
	"github.com/dchu3/base-mcp-bot/internal/toolserver"
)

// Planner owns the shared collaborators a PlannerRun needs: the tool
// catalog, the model bridge, the conversation log, and the optional
// policy gate and rate limiter.
type Planner struct {
	tsm     *toolserver.Manager
	bridge  llmbridge.Bridge
	store   convstore.Store
	policy  *PolicyEngine
	limiter *RateLimiter
	budgets Budgets

	toolTimeout   time.Duration
	idleTimeout   time.Duration
	historyWindow int
	logger        *zap.Logger
}

// Config bundles Planner construction parameters.
type Config struct {
	TSM         *toolserver.Manager
	Bridge      llmbridge.Bridge
	Store       convstore.Store
	Policy      *PolicyEngine // nil means every call is allowed
	Limiter     *RateLimiter  // nil disables rate limiting
	Budgets     Budgets
	ToolTimeout time.Duration
	IdleTimeout time.Duration
	// HistoryWindow caps how many of a session's most recent messages are
	// hydrated into context per run (spec's HISTORY_WINDOW). Zero or
	// negative means unbounded.
	HistoryWindow int
	Logger        *zap.Logger
}

// New constructs a Planner from its collaborators.
func New(cfg Config) *Planner {
	return &Planner{
		tsm:           cfg.TSM,
		bridge:        cfg.Bridge,
		store:         cfg.Store,
		policy:        cfg.Policy,
		limiter:       cfg.Limiter,
		budgets:       cfg.Budgets,
		toolTimeout:   cfg.ToolTimeout,
		idleTimeout:   cfg.IdleTimeout,
		historyWindow: cfg.HistoryWindow,
		logger:        cfg.Logger,
	}
}

// PlannerRun is one invocation of the agentic loop, scoped to a single
// user message and carrying a logger tagged with run_id/session_id so
// every log line it emits is attributable without threading those fields
// through every call site.
type PlannerRun struct {
	runID     string
	sessionID string

	tsm         *toolserver.Manager
	bridge      llmbridge.Bridge
	policy      *PolicyEngine
	toolTimeout time.Duration
	budgets     Budgets
	logger      *zap.Logger

	state          RunState
	iteration      int
	totalToolCalls int

	// malformedPlanRetried tracks whether this run has already given the
	// model its one self-correction chance after a MalformedPlan error
	// (spec §7): a second occurrence aborts instead of retrying again.
	malformedPlanRetried bool
}

// Run executes the full agentic loop for one user message against
// userKey's conversation, returning the final answer alongside every tool
// call made and the terminal state the run actually reached (spec §6).
func (p *Planner) Run(ctx context.Context, userKey, userMessage string) (RunResult, error) {
	if p.limiter != nil && !p.limiter.Allow(userKey) {
		return RunResult{}, &RunError{Kind: ErrRateLimited, Message: "rate limit exceeded for this user"}
	}

	session, err := p.store.OpenOrReuseSession(ctx, userKey, p.idleTimeout)
	if err != nil {
		return RunResult{}, &RunError{Kind: ErrStorageError, Message: err.Error()}
	}

	if err := p.store.AppendMessage(ctx, &convstore.Message{
		SessionID: session.SessionID,
		Role:      convstore.RoleUser,
		Content:   userMessage,
	}); err != nil {
		return RunResult{}, &RunError{Kind: ErrStorageError, Message: err.Error()}
	}

	history, err := p.store.History(ctx, session.SessionID, p.historyWindow)
	if err != nil {
		return RunResult{}, &RunError{Kind: ErrStorageError, Message: err.Error()}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.budgets.WallClock)
	defer cancel()

	runID := uuid.NewString()
	run := &PlannerRun{
		runID:       runID,
		sessionID:   session.SessionID,
		tsm:         p.tsm,
		bridge:      p.bridge,
		policy:      p.policy,
		toolTimeout: p.toolTimeout,
		budgets:     p.budgets,
		logger:      p.logger.With(zap.String("run_id", runID), zap.String("session_id", session.SessionID)),
		state:       StatePlanning,
	}

	result := run.loop(runCtx, toBridgeHistory(history))

	if err := p.store.AppendMessage(ctx, &convstore.Message{
		SessionID: session.SessionID,
		Role:      convstore.RoleModel,
		Content:   result.AssistantText,
	}); err != nil {
		run.logger.Warn("failed to persist model answer", zap.Error(err))
	}

	return result, nil
}

// loop runs the Planning -> Executing state machine until the model
// returns a final answer or a budget is exhausted. It always produces a
// RunResult: every exit path, including an aborted Planning step, carries
// its own terminal-state-appropriate answer rather than propagating an
// error up to Run.
func (r *PlannerRun) loop(ctx context.Context, history []llmbridge.Message) RunResult {
	var executed []executedCall

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("wall clock budget exceeded, synthesizing", zap.Int("iterations", r.iteration))
			return r.synthesizeAndFinish(history, executed, StateTimedOut)
		default:
		}

		if r.iteration >= r.budgets.MaxIterations {
			r.logger.Info("max iterations reached, synthesizing", zap.Int("iterations", r.iteration))
			return r.synthesizeAndFinish(history, executed, StateBudgetExhausted)
		}
		r.iteration++
		r.state = StatePlanning

		tools := r.tsm.ListAllTools()
		plan, err := r.bridge.Plan(ctx, history, tools)
		if err != nil {
			var bridgeErr *llmbridge.BridgeError
			if !errors.As(err, &bridgeErr) {
				r.logger.Warn("bridge error of unrecognized kind, aborting", zap.Error(err))
				return r.abort(executed)
			}

			switch bridgeErr.Kind {
			case llmbridge.ErrModelUnavailable, llmbridge.ErrModelRefused:
				r.logger.Warn("bridge error, attempting one retry",
					zap.String("kind", string(bridgeErr.Kind)), zap.Error(err))
				plan, err = r.bridge.Plan(ctx, history, tools)
				if err != nil {
					r.logger.Warn("retry also failed, aborting", zap.Error(err))
					return r.abort(executed)
				}
			case llmbridge.ErrMalformedPlan:
				if r.malformedPlanRetried {
					r.logger.Warn("second malformed plan, aborting", zap.Error(err))
					return r.abort(executed)
				}
				r.malformedPlanRetried = true
				r.logger.Warn("malformed plan, giving the model one chance to self-correct", zap.Error(err))
				history = append(history, llmbridge.Message{
					Role:    "tool",
					Content: fmt.Sprintf("your last plan was invalid: %s", bridgeErr.Message),
				})
				continue
			default:
				r.logger.Warn("unhandled bridge error kind, aborting", zap.String("kind", string(bridgeErr.Kind)))
				return r.abort(executed)
			}
		}

		if plan.IsFinal() {
			r.state = StateDone
			text := plan.FinalText
			if text == "" {
				text = noAnswerPlaceholder
			}
			return RunResult{
				AssistantText: text,
				ToolCallsMade: recordsFrom(executed),
				TerminalState: StateDone,
			}
		}

		calls := plan.Calls
		allowed := calls
		var denied []llmbridge.RequestedCall
		if r.totalToolCalls+len(calls) > r.budgets.MaxToolCalls {
			remaining := r.budgets.MaxToolCalls - r.totalToolCalls
			if remaining < 0 {
				remaining = 0
			}
			allowed = calls[:remaining]
			denied = calls[remaining:]
		}

		r.state = StateExecuting
		var results []executedCall
		if len(allowed) > 0 {
			r.totalToolCalls += len(allowed)
			results = r.executeCalls(ctx, allowed)
		}
		for _, d := range denied {
			r.logger.Warn("tool call denied, budget exhausted",
				zap.String("server", d.ServerName), zap.String("tool", d.ToolName))
			results = append(results, denyForBudget(d))
		}
		executed = append(executed, results...)

		history = append(history, llmbridge.Message{Role: "model", Content: ""})
		history = append(history, toToolMessages(results)...)
	}
}

// abort discards whatever tool results the run had accumulated and returns
// the fixed failure notice, never a model-synthesized answer (spec §7:
// "partial results gathered before abort are discarded").
func (r *PlannerRun) abort(executed []executedCall) RunResult {
	r.state = StateAborted
	return RunResult{
		AssistantText: fixedFailureNotice,
		ToolCallsMade: recordsFrom(executed),
		TerminalState: StateAborted,
	}
}

// synthesizeAndFinish asks the bridge for a best-effort final answer before
// landing on terminal, used for the two exhaustion paths where spec §7
// allows partial-result synthesis (TimedOut, BudgetExhausted).
func (r *PlannerRun) synthesizeAndFinish(history []llmbridge.Message, executed []executedCall, terminal RunState) RunResult {
	r.state = StateSynthesizing
	text := r.synthesizeFinal(history)
	r.state = terminal
	return RunResult{
		AssistantText: text,
		ToolCallsMade: recordsFrom(executed),
		TerminalState: terminal,
	}
}

func toBridgeHistory(msgs []convstore.Message) []llmbridge.Message {
	out := make([]llmbridge.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llmbridge.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		})
	}
	return out
}
