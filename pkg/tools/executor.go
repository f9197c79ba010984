package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metricsmith/sage/pkg/model"
)

const maxRawPayloadChars = 2000

// Recorder receives execution outcomes for metrics. Nil is allowed.
type Recorder interface {
	RecordToolExecution(tool string, success bool, kind FailureKind, duration time.Duration)
}

// ExecutorConfig tunes retries and timeouts.
type ExecutorConfig struct {
	// MaxAttempts is the total number of tries for a transient failure.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// RetryBaseDelay grows linearly with each attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay,omitempty"`

	// ToolTimeout bounds a single tool invocation.
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty"`
}

func (c *ExecutorConfig) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 30 * time.Second
	}
}

// Executor runs model-issued tool calls against the registry. Every
// failure mode becomes a Result; the executor never panics or returns
// an error to the orchestration loop.
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	logger   *slog.Logger
	recorder Recorder
}

func NewExecutor(registry *Registry, cfg ExecutorConfig, recorder Recorder) *Executor {
	cfg.SetDefaults()
	return &Executor{
		registry: registry,
		config:   cfg,
		logger:   slog.Default(),
		recorder: recorder,
	}
}

// ExecuteAll runs the calls of one model turn concurrently and returns
// results in the same order as the calls, so the transcript stays
// aligned with what the model requested.
func (e *Executor) ExecuteAll(ctx context.Context, calls []model.ToolCall) []Result {
	results := make([]Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(gctx, call)
			return nil
		})
	}
	// Workers only write their own slot and never return errors.
	_ = g.Wait()

	return results
}

// Execute runs a single call with validation, timeout, classification,
// and bounded retries for transient failures.
func (e *Executor) Execute(ctx context.Context, call model.ToolCall) Result {
	start := time.Now()

	tool, err := e.registry.GetTool(call.Name)
	if err != nil {
		return e.finish(Result{
			CallID:   call.ID,
			ToolName: call.Name,
			Success:  false,
			Error:    fmt.Sprintf("unknown tool: %s", call.Name),
			Kind:     FailureNotFound,
		}, start)
	}

	if err := ValidateArgs(tool.Definition().Parameters, call.Arguments); err != nil {
		return e.finish(Result{
			CallID:   call.ID,
			ToolName: call.Name,
			Success:  false,
			Error:    fmt.Sprintf("invalid arguments: %v", err),
			Kind:     FailurePermanent,
		}, start)
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		raw, execErr := e.runOnce(ctx, tool, call.Arguments)
		if execErr == nil {
			return e.finish(Result{
				CallID:   call.ID,
				ToolName: call.Name,
				Success:  true,
				Content:  NormalizePayload(raw),
			}, start)
		}

		lastErr = execErr
		kind := Classify(execErr)
		if kind != FailureTransient || attempt == e.config.MaxAttempts {
			return e.finish(Result{
				CallID:   call.ID,
				ToolName: call.Name,
				Success:  false,
				Error:    execErr.Error(),
				Kind:     kind,
			}, start)
		}

		delay := e.config.RetryBaseDelay * time.Duration(attempt)
		e.logger.Warn("transient tool failure, retrying",
			"tool", call.Name,
			"attempt", attempt,
			"max_attempts", e.config.MaxAttempts,
			"delay", delay,
			"error", execErr)

		select {
		case <-ctx.Done():
			return e.finish(Result{
				CallID:   call.ID,
				ToolName: call.Name,
				Success:  false,
				Error:    ctx.Err().Error(),
				Kind:     FailureTransient,
			}, start)
		case <-time.After(delay):
		}
	}

	// Unreachable; the loop always returns. Kept for the compiler.
	return e.finish(Result{
		CallID:   call.ID,
		ToolName: call.Name,
		Success:  false,
		Error:    lastErr.Error(),
		Kind:     FailureTransient,
	}, start)
}

func (e *Executor) runOnce(ctx context.Context, tool Tool, args map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.ToolTimeout)
	defer cancel()
	return tool.Execute(callCtx, args)
}

func (e *Executor) finish(r Result, start time.Time) Result {
	r.Duration = time.Since(start)
	if e.recorder != nil {
		e.recorder.RecordToolExecution(r.ToolName, r.Success, r.Kind, r.Duration)
	}
	return r
}

// retryable is implemented by errors that know they are transient, such
// as the HTTP client's retry-exhaustion error.
type retryable interface {
	IsRetryable() bool
}

// Classify maps an execution error to a failure kind. Tools that wrap
// their errors in *ToolError decide for themselves; everything else is
// classified by error shape and message.
func Classify(err error) FailureKind {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Kind
	}

	var r retryable
	if errors.As(err, &r) && r.IsRetryable() {
		return FailureTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "rate limit", "temporarily", "unavailable", "connection refused", "connection reset"} {
		if strings.Contains(msg, marker) {
			return FailureTransient
		}
	}

	return FailurePermanent
}

// NormalizePayload guarantees the transcript payload is valid JSON.
// Valid JSON passes through; anything else is wrapped as a result
// string, truncated to keep pathological outputs from flooding the
// context window. This path cannot fail.
func NormalizePayload(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return trimmed
	}

	if len(trimmed) > maxRawPayloadChars {
		trimmed = trimmed[:maxRawPayloadChars]
	}
	wrapped, err := json.Marshal(map[string]string{"result": trimmed})
	if err != nil {
		// Marshaling a string map cannot fail; guard anyway.
		return `{"result":""}`
	}
	return string(wrapped)
}
