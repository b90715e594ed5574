package agent

import (
	"context"
	"encoding/json"
	"testing"

	"toadcore/internal/llm"
	"toadcore/internal/tools"
)

func TestAgentRegistryRejectsNestedDelegate(t *testing.T) {
	r := NewAgentRegistry()
	err := r.Register(AgentSpec{Name: "rogue", ToolWhitelist: []string{"read_file", "delegate"}})
	if err == nil {
		t.Fatal("expected registering a whitelist containing \"delegate\" to fail")
	}
}

func TestAgentRegistryHasBuiltins(t *testing.T) {
	r := NewAgentRegistry()
	for _, name := range []string{"planner", "analyzer", "explorer"} {
		if _, ok := r.Lookup(name); !ok {
			t.Fatalf("expected builtin agent %q to be registered", name)
		}
	}
}

func TestDelegatorRunUnknownAgent(t *testing.T) {
	d := NewDelegator(&scriptedProvider{responses: []llm.Message{{Content: "done"}}}, tools.NewRegistry(), NewAgentRegistry(), "test-model")
	_, err := d.Run(context.Background(), DelegateRequest{Agent: "ghost", Task: "do something"})
	if err == nil {
		t.Fatal("expected an error for an unknown agent")
	}
}

func TestDelegatorRunReturnsSummaryAndMetrics(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	provider := &scriptedProvider{responses: []llm.Message{{Role: "assistant", Content: "investigated and found nothing unusual"}}}

	d := NewDelegator(provider, registry, NewAgentRegistry(), "test-model")
	result, err := d.Run(context.Background(), DelegateRequest{
		Agent:        "analyzer",
		Task:         "check the canvas for orphaned nodes",
		ExpectReturn: ExpectAnalysis,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Summary == "" {
		t.Fatal("expected a non-empty summary")
	}
	if result.Metrics.EstimatedInlineTokens < 0 {
		t.Fatalf("expected non-negative estimated inline tokens, got %d", result.Metrics.EstimatedInlineTokens)
	}
}

func TestDelegateToolSchemaRequiresAgentAndTask(t *testing.T) {
	tool := &DelegateTool{Delegator: NewDelegator(&scriptedProvider{responses: []llm.Message{{Content: "ok"}}}, tools.NewRegistry(), NewAgentRegistry(), "test-model")}
	schema := tool.JSONSchema()
	params, ok := schema["parameters"].(map[string]any)
	if !ok {
		t.Fatal("expected parameters map in schema")
	}
	required, ok := params["required"].([]string)
	if !ok || len(required) != 2 {
		t.Fatalf("expected exactly 2 required fields, got %v", params["required"])
	}
}

func TestWhitelistedRegistryBlocksUnlistedTools(t *testing.T) {
	base := tools.NewRegistry()
	base.Register(echoTool{})
	w := newWhitelistedRegistry(base, []string{"other_tool"})

	payload, err := w.Dispatch(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]any
	_ = json.Unmarshal(payload, &resp)
	if _, ok := resp["error"]; !ok {
		t.Fatalf("expected an error payload for a non-whitelisted tool, got %s", payload)
	}
}
