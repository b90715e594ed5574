package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	ctxmgr "toadcore/internal/context"
	"toadcore/internal/agent/prompts"
	"toadcore/internal/hygiene"
	"toadcore/internal/llm"
	"toadcore/internal/resources"
	"toadcore/internal/tools"
)

// ExpectReturn names the shape of payload a delegated sub-agent is expected
// to hand back to its caller, matching spec §4.L.
type ExpectReturn string

const (
	ExpectElements  ExpectReturn = "elements"
	ExpectPositions ExpectReturn = "positions"
	ExpectStyles    ExpectReturn = "styles"
	ExpectAnalysis  ExpectReturn = "analysis"
	ExpectPlan      ExpectReturn = "plan"
)

// DelegateRequest is the payload a `delegate` tool call carries.
type DelegateRequest struct {
	Agent       string
	Task        string
	ElementIDs  []string
	ContextHint string
	ExpectReturn ExpectReturn
}

// DelegateMetrics quantifies the token isolation a delegated run achieved:
// how many tokens were spent inside the isolated sub-context versus how
// many crossed back into the parent, against an estimate of what inlining
// the same tool activity into the parent loop would have cost.
type DelegateMetrics struct {
	IsolatedTokens        int
	ReturnedTokens        int
	EstimatedInlineTokens int
	SavingsPercent        float64
}

// DelegateResult is what a delegated run hands back to the parent loop. Only
// Summary (and the Created/ModifiedIDs best-effort extraction) crosses the
// isolation boundary — the sub-agent's full transcript never does.
type DelegateResult struct {
	Success     bool
	Summary     string
	CreatedIDs  []string
	ModifiedIDs []string
	TokensUsed  int
	Metrics     DelegateMetrics
	Error       string
}

// AgentSpec names one delegatable agent persona: its system prompt and the
// subset of tools it may call. A spec's ToolWhitelist must never include
// "delegate" itself — nesting sub-agents is not supported (spec §4.L).
type AgentSpec struct {
	Name          string
	SystemPrompt  string
	ToolWhitelist []string
}

// AgentRegistry holds named AgentSpecs. NewAgentRegistry pre-populates the
// three builtin personas; callers may register additional specs, subject to
// the no-nesting invariant.
type AgentRegistry struct {
	mu    sync.RWMutex
	specs map[string]AgentSpec
}

// NewAgentRegistry returns a registry seeded with the builtin planner,
// analyzer, and explorer agents.
func NewAgentRegistry() *AgentRegistry {
	r := &AgentRegistry{specs: make(map[string]AgentSpec)}
	for _, s := range []AgentSpec{
		{Name: "planner", SystemPrompt: prompts.PlannerPrompt, ToolWhitelist: []string{"read_file", "list_files", "grep", "web_search", "web_fetch"}},
		{Name: "analyzer", SystemPrompt: prompts.AnalyzerPrompt, ToolWhitelist: []string{"read_file", "list_files", "grep", "run_cli"}},
		{Name: "explorer", SystemPrompt: prompts.ExplorerPrompt, ToolWhitelist: []string{"read_file", "list_files", "grep", "web_fetch"}},
	} {
		_ = r.Register(s)
	}
	return r
}

// Register adds or replaces a spec. It rejects any spec whose whitelist
// names "delegate", which would let a sub-agent spawn further sub-agents.
func (r *AgentRegistry) Register(s AgentSpec) error {
	for _, t := range s.ToolWhitelist {
		if t == "delegate" {
			return fmt.Errorf("agent %q: tool whitelist may not include %q (sub-agents cannot nest)", s.Name, "delegate")
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[s.Name] = s
	return nil
}

// Lookup returns the spec for name.
func (r *AgentRegistry) Lookup(name string) (AgentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Names lists every registered agent name.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for n := range r.specs {
		out = append(out, n)
	}
	return out
}

// whitelistedRegistry wraps a base Registry, exposing only tools named in
// allow. Register forwards to the base registry: a tool registered through
// the wrapper is added to the shared base (and so becomes visible to the
// parent), and is callable here only if its name is in allow.
type whitelistedRegistry struct {
	base  tools.Registry
	allow map[string]bool
}

func newWhitelistedRegistry(base tools.Registry, allow []string) *whitelistedRegistry {
	set := make(map[string]bool, len(allow))
	for _, a := range allow {
		set[a] = true
	}
	return &whitelistedRegistry{base: base, allow: set}
}

func (w *whitelistedRegistry) Schemas() []llm.ToolSchema {
	all := w.base.Schemas()
	out := make([]llm.ToolSchema, 0, len(all))
	for _, s := range all {
		if w.allow[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

func (w *whitelistedRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	if !w.allow[name] {
		return []byte(fmt.Sprintf(`{"error":"tool %q is not available to this agent"}`, name)), nil
	}
	return w.base.Dispatch(ctx, name, raw)
}

func (w *whitelistedRegistry) Register(t tools.Tool) { w.base.Register(t) }

// Delegator spawns an isolated, tightly bounded Loop for a `delegate` tool
// call: a fresh context manager, a tool set filtered to the target agent's
// whitelist, and a token budget far smaller than the parent's, returning
// only a bounded summary plus metrics quantifying how many tokens the
// isolation kept out of the parent's context.
//
// Grounded on the teacher's internal/agent/engine.go runDelegatedAgent path
// (isolated sub-run invoked via a Delegator interface), generalized to the
// spec's {agent, task, elementIds, contextHint, expectReturn} contract and
// fresh-context isolation rather than a shared conversation.
type Delegator struct {
	Provider llm.Provider
	Tools    tools.Registry
	Agents   *AgentRegistry
	Hooks    *HookManager

	MaxIterations int
	TokenBudget   int
	Model         string
}

// NewDelegator returns a Delegator with the spec-default inner-loop bounds
// (10 iterations, 50k tokens).
func NewDelegator(provider llm.Provider, registry tools.Registry, agents *AgentRegistry, model string) *Delegator {
	return &Delegator{
		Provider:      provider,
		Tools:         registry,
		Agents:        agents,
		Hooks:         NewHookManager(),
		MaxIterations: 10,
		TokenBudget:   50_000,
		Model:         model,
	}
}

const estimatedInlineTokensPerCall = 800

// Run executes req against the named agent's isolated sub-loop to
// completion and returns a bounded summary. It never returns a Go error for
// the sub-agent's own failures — those are reported as DelegateResult{Success: false, Error: ...}
// so the parent loop can fold delegation outcomes into its own tool-result
// stream uniformly; a Go error here means the request itself was malformed
// (unknown agent).
func (d *Delegator) Run(ctx context.Context, req DelegateRequest) (DelegateResult, error) {
	spec, ok := d.Agents.Lookup(req.Agent)
	if !ok {
		return DelegateResult{}, fmt.Errorf("delegate: unknown agent %q", req.Agent)
	}

	innerRegistry := newWhitelistedRegistry(d.Tools, spec.ToolWhitelist)
	innerContext := ctxmgr.NewManager(ctxmgr.Config{MaxTokens: d.TokenBudget})

	loop := &Loop{
		Config: Config{
			Model:                 d.Model,
			SystemPrompt:          spec.SystemPrompt,
			MaxIterations:         d.MaxIterations,
			TokenBudget:           d.TokenBudget,
			MaxErrors:             3,
			CheckpointInterval:    0,
			MaxToolParallelism:    2,
			ResponseReserveTokens: 1_000,
			AliasTokenBudget:      1_000,
		},
		Provider:    d.Provider,
		Tools:       innerRegistry,
		Executor:    tools.NewExecutor(innerRegistry),
		Context:     innerContext,
		Hooks:       d.Hooks,
		Resources:   resources.NewRegistry(),
		Hygiene:     hygiene.NewTracker(),
		Echo:        hygiene.NewEchoDetector(0, 0),
		Corrections: hygiene.NewCorrectionQueue(),
	}

	task := buildDelegateTask(req)
	events, _ := loop.Run(ctx, task)

	result := DelegateResult{}
	toolCalls := 0
	for ev := range events {
		switch ev.Type {
		case EventToolResult:
			toolCalls++
			collectIDs(ev, &result)
		case EventComplete:
			result.Success = true
			result.Summary = ev.Summary
			result.TokensUsed = ev.Usage.TotalTokens
		case EventFailed:
			result.Success = false
			result.Error = fmt.Sprintf("delegate: sub-agent %q failed: %s", req.Agent, ev.Reason)
			result.TokensUsed = ev.Usage.TotalTokens
		case EventCancelled:
			result.Success = false
			result.Error = fmt.Sprintf("delegate: sub-agent %q was cancelled", req.Agent)
		}
	}

	est := toolCalls * estimatedInlineTokensPerCall
	summaryTokens := len(strings.Fields(result.Summary)) * 4 / 3 // rough word->token scale, matches heuristic estimator proportions
	result.Metrics = DelegateMetrics{
		IsolatedTokens:        result.TokensUsed,
		ReturnedTokens:        summaryTokens,
		EstimatedInlineTokens: est,
	}
	if est > 0 {
		result.Metrics.SavingsPercent = 1 - float64(summaryTokens)/float64(est)
		if result.Metrics.SavingsPercent < 0 {
			result.Metrics.SavingsPercent = 0
		}
	}
	return result, nil
}

// DelegateTool exposes a Delegator as an ordinary tool (named "delegate")
// that the parent loop's provider can call like any other. It is never
// included in a sub-agent's own whitelist — AgentRegistry.Register already
// rejects that — so delegation cannot nest.
type DelegateTool struct {
	Delegator *Delegator
}

// Name implements tools.Tool.
func (t *DelegateTool) Name() string { return "delegate" }

// JSONSchema implements tools.Tool.
func (t *DelegateTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Delegate a bounded sub-task to an isolated specialist agent (planner, analyzer, explorer). Returns only a summary; the sub-agent's own tool activity never enters this conversation.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"agent", "task"},
			"properties": map[string]any{
				"agent":        map[string]any{"type": "string", "enum": []any{"planner", "analyzer", "explorer"}},
				"task":         map[string]any{"type": "string"},
				"elementIds":   map[string]any{"type": "array"},
				"contextHint":  map[string]any{"type": "string"},
				"expectReturn": map[string]any{"type": "string", "enum": []any{"elements", "positions", "styles", "analysis", "plan"}},
			},
		},
	}
}

// Call implements tools.Tool, translating raw JSON arguments into a
// DelegateRequest and running it to completion.
func (t *DelegateTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Agent        string   `json:"agent"`
		Task         string   `json:"task"`
		ElementIDs   []string `json:"elementIds"`
		ContextHint  string   `json:"contextHint"`
		ExpectReturn string   `json:"expectReturn"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("delegate: invalid arguments: %w", err)
	}
	result, err := t.Delegator.Run(ctx, DelegateRequest{
		Agent:        args.Agent,
		Task:         args.Task,
		ElementIDs:   args.ElementIDs,
		ContextHint:  args.ContextHint,
		ExpectReturn: ExpectReturn(args.ExpectReturn),
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func buildDelegateTask(req DelegateRequest) string {
	var b strings.Builder
	b.WriteString(req.Task)
	if len(req.ElementIDs) > 0 {
		b.WriteString("\n\nRelevant element IDs: ")
		b.WriteString(strings.Join(req.ElementIDs, ", "))
	}
	if req.ContextHint != "" {
		b.WriteString("\n\nContext: ")
		b.WriteString(req.ContextHint)
	}
	if req.ExpectReturn != "" {
		b.WriteString(fmt.Sprintf("\n\nReturn your final answer as: %s", req.ExpectReturn))
	}
	return b.String()
}

// collectIDs applies a light heuristic over a tool result's JSON payload to
// surface IDs the delegated run created or modified, so the parent loop can
// track effects without replaying the sub-agent's transcript. Tools that
// don't report an "id"/"ids" field contribute nothing here.
func collectIDs(ev Event, result *DelegateResult) {
	var probe struct {
		ID  string   `json:"id"`
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(ev.Output, &probe); err != nil {
		return
	}
	bucket := &result.ModifiedIDs
	if strings.Contains(ev.Tool, "create") || strings.Contains(ev.Tool, "add") {
		bucket = &result.CreatedIDs
	}
	if probe.ID != "" {
		*bucket = append(*bucket, probe.ID)
	}
	*bucket = append(*bucket, probe.IDs...)
}
