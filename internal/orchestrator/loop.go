package orchestrator

import (
	"context"
	"log/slog"

	"github.com/joescharf/cqi/internal/llm"
	"github.com/joescharf/cqi/internal/runstate"
	"github.com/joescharf/cqi/internal/schema"
	"github.com/joescharf/cqi/internal/tools"
)

// adapter supplies the mode-specific prompts, response shape and stopping
// rule of a run.
type adapter interface {
	system(hasIndex bool) string
	initialPrompt(hasIndex bool) string
	shape() schema.ResponseShape
	// final applies a final-answer turn and reports whether the run is done.
	final(text string, iteration int) bool
	iterationPrompt(hasIndex bool) string
}

type run struct {
	logger     *slog.Logger
	completion CompletionService
	registry   *tools.Registry
	state      *runstate.State
	mode       adapter
	catalogue  []schema.Tool
	system     string
	hasIndex   bool

	conversation []llm.Message
}

// loop runs iterations until the mode stops it or the bound is reached.
func (r *run) loop(ctx context.Context) State {
	r.transition(StateBuildingPrompt, 0)
	r.conversation = []llm.Message{llm.UserText(r.mode.initialPrompt(r.hasIndex))}
	shape := r.mode.shape()

	lastFailed := false
	for {
		iteration, ok := r.state.NextIteration()
		if !ok {
			if lastFailed {
				return r.transition(StateTerminatedError, r.state.Iteration())
			}
			return r.transition(StateTerminatedLimit, r.state.Iteration())
		}
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled", "iteration", iteration, "error", err)
			return r.transition(StateTerminatedError, iteration)
		}

		r.transition(StateAwaitingModel, iteration)
		reply, err := r.completion.Complete(ctx, llm.Request{
			System:   r.system,
			Messages: r.conversation,
			Tools:    r.catalogue,
			Shape:    &shape,
		})
		if err != nil {
			// The conversation is left as it was so the next iteration
			// retries the same turn.
			r.logger.Error("completion failed", "iteration", iteration, "error", err)
			lastFailed = true
			continue
		}
		lastFailed = false

		r.transition(StateApplyingAction, iteration)
		if reply.HasToolCalls() {
			r.applyToolCalls(ctx, reply, iteration)
			r.transition(StateContinue, iteration)
			continue
		}

		r.conversation = append(r.conversation, reply.Message())
		if r.mode.final(reply.Text, iteration) {
			return r.transition(StateTerminatedSuccess, iteration)
		}
		r.conversation = append(r.conversation, llm.UserText(r.mode.iterationPrompt(r.hasIndex)))
		r.transition(StateContinue, iteration)
	}
}

// applyToolCalls appends the assistant turn and one user turn holding every
// tool result, in call order.
func (r *run) applyToolCalls(ctx context.Context, reply llm.Reply, iteration int) {
	r.conversation = append(r.conversation, reply.Message())

	results := make([]llm.ToolResult, 0, len(reply.ToolCalls))
	for _, call := range reply.ToolCalls {
		r.logger.Info("tool call", "iteration", iteration, "tool", call.Name, "call_id", call.ID)
		res := r.registry.Dispatch(ctx, tools.Call{ID: call.ID, Name: call.Name, Args: call.Args})
		results = append(results, llm.ToolResult{CallID: res.CallID, Content: res.Content, IsError: res.IsError})
	}
	r.conversation = append(r.conversation, llm.Message{Role: llm.RoleUser, ToolResults: results})
}

func (r *run) transition(s State, iteration int) State {
	r.logger.Debug("state", "state", string(s), "iteration", iteration)
	return s
}
