package planner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dchu3/base-mcp-bot/internal/llmbridge"
)

// fixedFailureNotice is the canned response used whenever synthesis itself
// fails, and unconditionally on abort, since an aborted run never returns a
// half-synthesized answer.
const fixedFailureNotice = "I'm sorry, I wasn't able to finish that request. Please try again or rephrase it."

// noAnswerPlaceholder substitutes for an implicit Final(""): a plan with no
// tool calls and no text at all (spec §4.4), which a real bridge can return
// when e.g. the model's response was trimmed down to nothing by safety
// filtering. Never surfaced as a literal empty string to the caller.
const noAnswerPlaceholder = "I don't have a further response for that."

// synthesisTimeout bounds the one extra bridge call synthesizeFinal makes;
// it runs detached from the run's own wall-clock budget, since the budget
// having already expired is exactly the case this call exists to handle.
const synthesisTimeout = 15 * time.Second

// synthesizeFinal asks the bridge one last time for a terminal
// natural-language answer, declaring no tools so it cannot request another
// call (spec §4.4 "Synthesis on exhaustion"). A second failure here falls
// back to the fixed notice rather than retrying further.
func (r *PlannerRun) synthesizeFinal(history []llmbridge.Message) string {
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
	defer cancel()

	prompt := append(append([]llmbridge.Message{}, history...), llmbridge.Message{
		Role:    "user",
		Content: "Give your final answer now in natural language, using only what you already know. Do not request any further tool calls.",
	})

	plan, err := r.bridge.Plan(ctx, prompt, nil)
	if err != nil {
		r.logger.Warn("final synthesis call failed, using fixed notice", zap.Error(err))
		return fixedFailureNotice
	}
	if plan.FinalText == "" {
		r.logger.Warn("final synthesis call returned no text, using fixed notice")
		return fixedFailureNotice
	}
	return plan.FinalText
}
