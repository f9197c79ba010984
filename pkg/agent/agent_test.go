package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/tools"
	"github.com/metricsmith/sage/pkg/utils"
)

// scriptedProvider returns canned responses in order and records every
// transcript it was asked to complete.
type scriptedProvider struct {
	responses   []*model.Response
	err         error
	calls       int
	transcripts [][]model.Message
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []model.Message, defs []model.ToolDefinition) (*model.Response, error) {
	snapshot := make([]model.Message, len(messages))
	copy(snapshot, messages)
	p.transcripts = append(p.transcripts, snapshot)
	p.calls++

	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &model.Response{Text: "default answer"}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) GetModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error         { return nil }

type countingTool struct {
	name  string
	out   string
	err   error
	calls int
}

func (t *countingTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{Name: t.name, Description: "test tool"}
}

func (t *countingTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	t.calls++
	if t.err != nil {
		return "", t.err
	}
	return t.out, nil
}

// blockingTool signals when it starts and waits to be released,
// recording whether it ran to completion.
type blockingTool struct {
	name     string
	entered  chan struct{}
	release  chan struct{}
	finished bool
}

func (t *blockingTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{Name: t.name, Description: "test tool"}
}

func (t *blockingTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	close(t.entered)
	<-t.release
	t.finished = true
	return `{}`, nil
}

type recordingMetrics struct {
	rounds int
	state  State
}

func (m *recordingMetrics) RecordRun(rounds int, state State) {
	m.rounds = rounds
	m.state = state
}

func newTestAgent(t *testing.T, provider model.Provider, registered ...tools.Tool) *Agent {
	t.Helper()
	return newTestAgentWithMetrics(t, provider, nil, registered...)
}

func newTestAgentWithMetrics(t *testing.T, provider model.Provider, metrics Metrics, registered ...tools.Tool) *Agent {
	t.Helper()

	registry := tools.NewRegistry()
	for _, tool := range registered {
		if err := registry.RegisterTool(tool); err != nil {
			t.Fatalf("RegisterTool() error = %v", err)
		}
	}
	executor := tools.NewExecutor(registry, tools.ExecutorConfig{
		MaxAttempts:    2,
		RetryBaseDelay: time.Millisecond,
		ToolTimeout:    time.Second,
	}, nil)

	counter, err := utils.NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}
	assembler, err := NewAssembler(counter, DefaultSystemInstruction(time.Now()), 8000)
	if err != nil {
		t.Fatalf("NewAssembler() error = %v", err)
	}

	agent, err := New(provider, registry, executor, nil, assembler, Config{MaxRounds: 3}, metrics)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return agent
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func assertSingleTrailingDone(t *testing.T, events []StreamEvent) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("Expected at least the done event")
	}
	doneCount := 0
	for _, ev := range events {
		if ev.Type == EventDone {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Errorf("Expected exactly 1 done event, got %d", doneCount)
	}
	if events[len(events)-1].Type != EventDone {
		t.Errorf("Expected done last, got %q", events[len(events)-1].Type)
	}
}

func TestChatToolCallThenAnswer(t *testing.T) {
	tool := &countingTool{name: "ads_campaign_performance", out: `{"cost": 120.5}`}
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "ads_campaign_performance", Arguments: map[string]any{}}}},
		{Text: "You spent $120.50 last week."},
	}}
	agent := newTestAgent(t, provider, tool)

	events := collect(t, agent.Chat(context.Background(), nil, "How much did I spend?"))
	assertSingleTrailingDone(t, events)

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []EventType{EventToolCallStarted, EventToolCallFinished, EventTextDelta, EventDone}
	if len(types) != len(want) {
		t.Fatalf("Event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("Event types = %v, want %v", types, want)
		}
	}
	if tool.calls != 1 {
		t.Errorf("Tool ran %d times, want 1", tool.calls)
	}
	if events[2].Text != "You spent $120.50 last week." {
		t.Errorf("Answer = %q", events[2].Text)
	}
}

func TestChatTranscriptAlternation(t *testing.T) {
	tool := &countingTool{name: "kb_search", out: `{"matches":[]}`}
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{
			{ID: "c1", Name: "kb_search", Arguments: map[string]any{}},
			{ID: "c2", Name: "kb_search", Arguments: map[string]any{}},
		}},
		{Text: "done"},
	}}
	agent := newTestAgent(t, provider, tool)

	collect(t, agent.Chat(context.Background(), nil, "q"))

	if len(provider.transcripts) != 2 {
		t.Fatalf("Expected 2 generation rounds, got %d", len(provider.transcripts))
	}

	// The second round's transcript must pair every tool call with its
	// result, in order, before anything else follows.
	second := provider.transcripts[1]
	var i int
	for i = range second {
		if len(second[i].ToolCalls) > 0 {
			break
		}
	}
	assistant := second[i]
	if len(assistant.ToolCalls) != 2 {
		t.Fatalf("Assistant turn has %d tool calls, want 2", len(assistant.ToolCalls))
	}
	for j, call := range assistant.ToolCalls {
		result := second[i+1+j]
		if result.Role != model.RoleTool {
			t.Fatalf("Expected tool message after assistant turn, got role %q", result.Role)
		}
		if result.ToolCallID != call.ID {
			t.Errorf("Result %d pairs call %q, want %q", j, result.ToolCallID, call.ID)
		}
	}

	// The synthesis nudge follows the results.
	nudge := second[i+1+len(assistant.ToolCalls)]
	if nudge.Role != model.RoleUser || !strings.Contains(nudge.Content, "original question") {
		t.Errorf("Expected synthesis nudge after results, got %+v", nudge)
	}
}

func TestChatGenerationFailure(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream 500")}
	agent := newTestAgent(t, provider)

	events := collect(t, agent.Chat(context.Background(), nil, "q"))
	assertSingleTrailingDone(t, events)

	if events[0].Type != EventError {
		t.Fatalf("Expected error event first, got %q", events[0].Type)
	}
	if !strings.Contains(events[0].Error, "generation failed") {
		t.Errorf("Error = %q", events[0].Error)
	}
}

func TestChatRoundCapExhaustion(t *testing.T) {
	tool := &countingTool{name: "kb_search", out: `{}`}
	// The model asks for tools forever.
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c", Name: "kb_search", Arguments: map[string]any{}}}},
	}}
	agent := newTestAgent(t, provider, tool)

	events := collect(t, agent.Chat(context.Background(), nil, "q"))
	assertSingleTrailingDone(t, events)

	if provider.calls != 3 {
		t.Errorf("Expected 3 rounds (the cap), got %d", provider.calls)
	}

	// Exhaustion degrades to fallback text; error events stay reserved
	// for generation and internal failures.
	var sawFallback bool
	for _, ev := range events {
		if ev.Type == EventError {
			t.Errorf("Unexpected error event on exhaustion: %+v", ev)
		}
		if ev.Type == EventTextDelta && ev.Text == exhaustedFallback {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Errorf("Expected fallback text, events = %+v", events)
	}
}

func TestChatExhaustionRecordsRoundCap(t *testing.T) {
	tool := &countingTool{name: "kb_search", out: `{}`}
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c", Name: "kb_search", Arguments: map[string]any{}}}},
	}}
	metrics := &recordingMetrics{}
	agent := newTestAgentWithMetrics(t, provider, metrics, tool)

	collect(t, agent.Chat(context.Background(), nil, "q"))

	if metrics.rounds != 3 {
		t.Errorf("Recorded rounds = %d, want 3 (the cap)", metrics.rounds)
	}
	if metrics.state != StateFailed {
		t.Errorf("Recorded state = %q, want %q", metrics.state, StateFailed)
	}
}

func TestChatMixedTurnSuppressesText(t *testing.T) {
	tool := &countingTool{name: "kb_search", out: `{}`}
	provider := &scriptedProvider{responses: []*model.Response{
		{Text: "Let me check that for you...", ToolCalls: []model.ToolCall{{ID: "c1", Name: "kb_search", Arguments: map[string]any{}}}},
		{Text: "final answer"},
	}}
	agent := newTestAgent(t, provider, tool)

	events := collect(t, agent.Chat(context.Background(), nil, "q"))

	for _, ev := range events {
		if ev.Type == EventTextDelta && ev.Text != "final answer" {
			t.Errorf("Provisional narration leaked to the stream: %q", ev.Text)
		}
	}
	if tool.calls != 1 {
		t.Errorf("Tool ran %d times, want 1", tool.calls)
	}
}

func TestChatMultiToolFailureIsolation(t *testing.T) {
	good := &countingTool{name: "analytics_run_report", out: `{"sessions": 900}`}
	bad := &countingTool{name: "warehouse_query", err: tools.NewPermanentError("warehouse_query", "no such table", nil)}
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{
			{ID: "c1", Name: "analytics_run_report", Arguments: map[string]any{}},
			{ID: "c2", Name: "warehouse_query", Arguments: map[string]any{}},
		}},
		{Text: "partial data answer"},
	}}
	agent := newTestAgent(t, provider, good, bad)

	events := collect(t, agent.Chat(context.Background(), nil, "q"))
	assertSingleTrailingDone(t, events)

	var finished []StreamEvent
	for _, ev := range events {
		if ev.Type == EventToolCallFinished {
			finished = append(finished, ev)
		}
	}
	if len(finished) != 2 {
		t.Fatalf("Expected 2 finished events, got %d", len(finished))
	}
	if !finished[0].Success || finished[1].Success {
		t.Errorf("Expected first success, second failure: %+v", finished)
	}

	// The failed call still produced a transcript entry and the run
	// still reached a text answer.
	last := events[len(events)-2]
	if last.Type != EventTextDelta || last.Text != "partial data answer" {
		t.Errorf("Expected final answer despite tool failure, got %+v", last)
	}
}

func TestChatUnknownToolBecomesFailedResult(t *testing.T) {
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "no_such_tool", Arguments: map[string]any{}}}},
		{Text: "recovered"},
	}}
	agent := newTestAgent(t, provider)

	events := collect(t, agent.Chat(context.Background(), nil, "q"))
	assertSingleTrailingDone(t, events)

	var sawFailed bool
	for _, ev := range events {
		if ev.Type == EventToolCallFinished && !ev.Success && strings.Contains(ev.Error, "no_such_tool") {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Errorf("Expected failed result for unknown tool, events = %+v", events)
	}
}

func TestChatCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{responses: []*model.Response{{Text: "never"}}}
	agent := newTestAgent(t, provider)

	events := collect(t, agent.Chat(ctx, nil, "q"))
	assertSingleTrailingDone(t, events)

	if events[0].Type != EventError {
		t.Errorf("Expected error on canceled context, got %q", events[0].Type)
	}
	if provider.calls != 0 {
		t.Errorf("Provider should not be called after cancellation, got %d calls", provider.calls)
	}
}

func TestChatCancellationDuringToolRun(t *testing.T) {
	tool := &blockingTool{
		name:    "warehouse_query",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "warehouse_query", Arguments: map[string]any{}}}},
		{Text: "never reached"},
	}}
	agent := newTestAgent(t, provider, tool)

	ctx, cancel := context.WithCancel(context.Background())
	stream := agent.Chat(ctx, nil, "q")

	// Cancel while the tool is in flight, then let it finish.
	<-tool.entered
	cancel()
	close(tool.release)

	events := collect(t, stream)
	assertSingleTrailingDone(t, events)

	if !tool.finished {
		t.Error("In-flight tool should run to completion after cancellation")
	}
	if provider.calls != 1 {
		t.Errorf("Expected no further generation after cancellation, got %d calls", provider.calls)
	}

	var sawStarted, sawError bool
	for _, ev := range events {
		switch ev.Type {
		case EventToolCallStarted:
			sawStarted = true
		case EventToolCallFinished:
			t.Errorf("Discarded tool result leaked to the stream: %+v", ev)
		case EventError:
			if strings.Contains(ev.Error, context.Canceled.Error()) {
				sawError = true
			}
		}
	}
	if !sawStarted {
		t.Error("Expected tool_call_started before cancellation")
	}
	if !sawError {
		t.Errorf("Expected cancellation error event, events = %+v", events)
	}
}

func TestChatEmptyResponseDoesNotLoopForever(t *testing.T) {
	provider := &scriptedProvider{responses: []*model.Response{{}}}
	agent := newTestAgent(t, provider)

	done := make(chan struct{})
	var events []StreamEvent
	go func() {
		events = collect(t, agent.Chat(context.Background(), nil, "q"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Chat did not terminate on empty responses")
	}
	assertSingleTrailingDone(t, events)
	if provider.calls != 1 {
		t.Errorf("Expected 1 round for an empty response, got %d", provider.calls)
	}
}
