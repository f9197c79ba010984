// Package agent runs the tool-calling conversation loop: generate,
// execute requested tools, feed results back, repeat until the model
// answers in text or the round cap is hit.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/retrieval"
	"github.com/metricsmith/sage/pkg/tools"
)

// State tracks where a run is in its lifecycle.
type State string

const (
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateEmittingText   State = "emitting_text"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Config tunes the loop.
type Config struct {
	// MaxRounds caps model round trips per question.
	MaxRounds int `yaml:"max_rounds,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.MaxRounds == 0 {
		c.MaxRounds = 10
	}
}

func (c *Config) Validate() error {
	if c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1")
	}
	return nil
}

// Metrics receives run outcomes. Nil is allowed.
type Metrics interface {
	RecordRun(rounds int, state State)
}

// Agent orchestrates one conversation turn end to end.
type Agent struct {
	provider  model.Provider
	registry  *tools.Registry
	executor  *tools.Executor
	retriever *retrieval.Engine
	assembler *Assembler
	config    Config
	logger    *slog.Logger
	metrics   Metrics
}

func New(provider model.Provider, registry *tools.Registry, executor *tools.Executor, retriever *retrieval.Engine, assembler *Assembler, cfg Config, metrics Metrics) (*Agent, error) {
	if provider == nil {
		return nil, fmt.Errorf("model provider is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	return &Agent{
		provider:  provider,
		registry:  registry,
		executor:  executor,
		retriever: retriever,
		assembler: assembler,
		config:    cfg,
		logger:    slog.Default(),
		metrics:   metrics,
	}, nil
}

// Chat answers a question, streaming events on the returned channel.
// The channel always ends with exactly one done event, whatever went
// wrong before it.
func (a *Agent) Chat(ctx context.Context, history []model.Message, question string) <-chan StreamEvent {
	events := make(chan StreamEvent, 100)
	go func() {
		defer close(events)
		a.run(ctx, history, question, events)
	}()
	return events
}

func (a *Agent) run(ctx context.Context, history []model.Message, question string, events chan<- StreamEvent) {
	state := StateAwaitingModel
	rounds := 0
	defer func() {
		if a.metrics != nil {
			// The loop counter lands one past the cap on exhaustion.
			if rounds > a.config.MaxRounds {
				rounds = a.config.MaxRounds
			}
			a.metrics.RecordRun(rounds, state)
		}
		events <- StreamEvent{Type: EventDone}
	}()

	contextBlock := ""
	if a.retriever != nil {
		result, err := a.retriever.Retrieve(ctx, question)
		if err != nil {
			// Only cancellation surfaces here; degradation is internal.
			state = StateFailed
			events <- StreamEvent{Type: EventError, Error: err.Error()}
			return
		}
		contextBlock = result.Context
	}

	messages := a.assembler.Build(history, contextBlock, question)
	defs := a.registry.Definitions()

	for rounds = 1; rounds <= a.config.MaxRounds; rounds++ {
		if ctx.Err() != nil {
			state = StateFailed
			events <- StreamEvent{Type: EventError, Error: ctx.Err().Error()}
			return
		}

		state = StateAwaitingModel
		resp, err := a.provider.Generate(ctx, messages, defs)
		if err != nil {
			state = StateFailed
			a.logger.Error("model generation failed", "round", rounds, "error", err)
			events <- StreamEvent{Type: EventError, Error: fmt.Sprintf("generation failed: %v", err)}
			return
		}

		if len(resp.ToolCalls) > 0 {
			// A turn that mixes text with tool calls runs the tools; the
			// text is provisional narration and is dropped.
			if resp.Text != "" {
				a.logger.Debug("suppressing text in mixed turn", "round", rounds, "chars", len(resp.Text))
			}

			state = StateExecutingTools
			for _, call := range resp.ToolCalls {
				events <- StreamEvent{Type: EventToolCallStarted, CallID: call.ID, ToolName: call.Name}
			}

			// Tools run to completion even if the caller disconnects
			// mid-flight; a canceled run discards the results after.
			results := a.executor.ExecuteAll(context.WithoutCancel(ctx), resp.ToolCalls)

			if ctx.Err() != nil {
				state = StateFailed
				events <- StreamEvent{Type: EventError, Error: ctx.Err().Error()}
				return
			}

			for _, r := range results {
				events <- StreamEvent{
					Type:     EventToolCallFinished,
					CallID:   r.CallID,
					ToolName: r.ToolName,
					Success:  r.Success,
					Error:    r.Error,
				}
			}

			messages = appendToolRound(messages, resp.ToolCalls, results)
			continue
		}

		if resp.Text != "" {
			state = StateEmittingText
			events <- StreamEvent{Type: EventTextDelta, Text: resp.Text}
			state = StateDone
			return
		}

		// Neither text nor tool calls. Treat like an exhausted round
		// rather than looping on nothing.
		a.logger.Warn("model returned empty response", "round", rounds)
		break
	}

	// Exhaustion is a soft failure. The caller gets fallback text and a
	// clean done, not an error event; those are for generation and
	// internal failures.
	state = StateFailed
	a.logger.Warn("round cap reached without a final answer",
		"max_rounds", a.config.MaxRounds, "question_chars", len(question))
	events <- StreamEvent{Type: EventTextDelta, Text: exhaustedFallback}
}

// appendToolRound extends the transcript with the assistant's tool
// calls, one tool result per call in request order, and the synthesis
// nudge. Every call is paired with its result before the next
// generation sees the transcript.
func appendToolRound(messages []model.Message, calls []model.ToolCall, results []tools.Result) []model.Message {
	messages = append(messages, model.Message{
		Role:      model.RoleAssistant,
		ToolCalls: calls,
	})

	for _, r := range results {
		content := r.Content
		if !r.Success {
			content = failurePayload(r)
		}
		messages = append(messages, model.Message{
			Role:       model.RoleTool,
			Content:    content,
			ToolCallID: r.CallID,
			ToolName:   r.ToolName,
		})
	}

	return append(messages, model.Message{
		Role:    model.RoleUser,
		Content: synthesisNudge,
	})
}

// failurePayload renders a failed result as JSON the model can reason
// about. Reuses the executor's normalization so it cannot fail.
func failurePayload(r tools.Result) string {
	return tools.NormalizePayload(fmt.Sprintf(`{"ok":false,"error":%q,"kind":%q}`, r.Error, r.Kind))
}
