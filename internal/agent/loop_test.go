package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	ctxmgr "toadcore/internal/context"
	"toadcore/internal/hygiene"
	"toadcore/internal/llm"
	"toadcore/internal/resources"
	"toadcore/internal/tools"
)

// scriptedProvider returns a fixed sequence of responses, one per Chat
// call, repeating the last once exhausted.
type scriptedProvider struct {
	responses []llm.Message
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string) (llm.Message, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string, h llm.StreamHandler) error {
	resp, _ := p.Chat(ctx, msgs, toolSchemas, model)
	h.OnDelta(resp.Content)
	return nil
}

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "echoes its input back",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
	}
}
func (echoTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(raw, &args)
	return map[string]any{"ok": true, "echoed": args.Text}, nil
}

func newTestLoop(t *testing.T, provider llm.Provider, cfg Config) *Loop {
	t.Helper()
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	return &Loop{
		Config:      cfg,
		Provider:    provider,
		Tools:       registry,
		Executor:    tools.NewExecutor(registry),
		Context:     ctxmgr.NewManager(ctxmgr.Config{MaxTokens: 50_000}),
		Hooks:       NewHookManager(),
		Resources:   resources.NewRegistry(),
		Hygiene:     hygiene.NewTracker(),
		Echo:        hygiene.NewEchoDetector(0, 0),
		Corrections: hygiene.NewCorrectionQueue(),
		SessionID:   "test-session",
	}
}

func drain(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out waiting for loop to finish")
		}
	}
}

func TestLoopCompletesOnTextOnlyResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Message{{Role: "assistant", Content: "all done"}}}
	loop := newTestLoop(t, provider, DefaultConfig())

	events, _ := loop.Run(context.Background(), "say hello")
	all := drain(t, events, 2*time.Second)

	last := all[len(all)-1]
	if last.Type != EventComplete {
		t.Fatalf("expected terminal complete event, got %s", last.Type)
	}
	if last.Summary != "all done" {
		t.Fatalf("expected summary %q, got %q", "all done", last.Summary)
	}
	if last.Turns != 1 {
		t.Fatalf("expected 1 turn, got %d", last.Turns)
	}
}

func TestLoopRunsToolCallsThenCompletes(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]any{"text": "hi"})
	provider := &scriptedProvider{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: "echo", Args: toolArgs, ID: "call-1"}}},
		{Role: "assistant", Content: "echoed successfully"},
	}}
	loop := newTestLoop(t, provider, DefaultConfig())

	events, _ := loop.Run(context.Background(), "echo hi")
	all := drain(t, events, 2*time.Second)

	var sawToolCall, sawToolResult bool
	toolCallIdx, toolResultIdx := -1, -1
	for i, ev := range all {
		if ev.Type == EventToolCall {
			sawToolCall = true
			toolCallIdx = i
		}
		if ev.Type == EventToolResult {
			sawToolResult = true
			toolResultIdx = i
		}
	}
	if !sawToolCall || !sawToolResult {
		t.Fatalf("expected both toolCall and toolResult events, got %+v", all)
	}
	if toolCallIdx > toolResultIdx {
		t.Fatalf("expected toolCall to precede toolResult")
	}

	last := all[len(all)-1]
	if last.Type != EventComplete {
		t.Fatalf("expected terminal complete event, got %s", last.Type)
	}
}

func TestLoopFailsOnIterationCap(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]any{"text": "again"})
	provider := &scriptedProvider{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: "echo", Args: toolArgs, ID: "call-loop"}}},
	}}
	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	loop := newTestLoop(t, provider, cfg)

	events, _ := loop.Run(context.Background(), "loop forever")
	all := drain(t, events, 2*time.Second)

	last := all[len(all)-1]
	if last.Type != EventFailed {
		t.Fatalf("expected terminal failed event, got %s", last.Type)
	}
	if last.Reason != string(ReasonIterationCap) {
		t.Fatalf("expected iteration_cap reason, got %s", last.Reason)
	}
}

func TestLoopCancellation(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]any{"text": "again"})
	provider := &scriptedProvider{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: "echo", Args: toolArgs, ID: "call-loop"}}},
	}}
	cfg := DefaultConfig()
	cfg.MaxIterations = 1000
	loop := newTestLoop(t, provider, cfg)

	events, cancel := loop.Run(context.Background(), "loop until cancelled")
	cancel("user requested stop")
	all := drain(t, events, 2*time.Second)

	last := all[len(all)-1]
	if last.Type != EventCancelled {
		t.Fatalf("expected terminal cancelled event, got %s", last.Type)
	}
}

func TestSchemaViolationSurfacesAsToolResultError(t *testing.T) {
	badArgs, _ := json.Marshal(map[string]any{"wrong_field": "nope"})
	provider := &scriptedProvider{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: "echo", Args: badArgs, ID: "call-bad"}}},
		{Role: "assistant", Content: "noted the error"},
	}}
	cfg := DefaultConfig()
	cfg.MaxErrors = 5
	loop := newTestLoop(t, provider, cfg)

	events, _ := loop.Run(context.Background(), "echo with bad args")
	all := drain(t, events, 2*time.Second)

	var sawFailedResult bool
	for _, ev := range all {
		if ev.Type == EventToolResult && !ev.Success {
			sawFailedResult = true
		}
	}
	if !sawFailedResult {
		t.Fatalf("expected a failed tool result event for the schema violation")
	}
}
