package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ctxmgr "toadcore/internal/context"
	"toadcore/internal/adapter"
	"toadcore/internal/hygiene"
	"toadcore/internal/llm"
	"toadcore/internal/observability"
	"toadcore/internal/resources"
	"toadcore/internal/tools"
)

// Config tunes one Loop's resource and termination limits (spec §5).
type Config struct {
	Model                 string
	SystemPrompt          string
	MaxIterations          int
	TokenBudget            int
	MaxErrors              int
	CheckpointInterval     int
	MaxToolParallelism     int
	ResponseReserveTokens  int
	AliasTokenBudget       int
}

// DefaultConfig matches the spec-mandated session defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:         20,
		TokenBudget:           200_000,
		MaxErrors:             3,
		CheckpointInterval:    5,
		MaxToolParallelism:    4,
		ResponseReserveTokens: 4_000,
		AliasTokenBudget:      2_000,
	}
}

// Loop drives the Think-Act-Observe-Decide state machine (component K).
// It owns no mutable per-run state itself — Run builds that locally — so a
// single Loop value can be reused (or shared by a Delegator) across calls.
//
// Grounded on the teacher's internal/agent/engine.go runLoop/dispatchTools,
// generalized from an open-ended chat loop into a bounded, checkpointed,
// cancellation-aware state machine with explicit Observe/Decide phases.
type Loop struct {
	Config Config

	Provider  llm.Provider
	Tools     tools.Registry
	Executor  *tools.Executor
	Context   *ctxmgr.Manager
	Hooks     *HookManager
	Resources *resources.Registry
	Hygiene   *hygiene.Tracker
	Echo      *hygiene.EchoDetector
	Corrections *hygiene.CorrectionQueue
	Adapter   adapter.Adapter // optional; nil when no external surface is wired
	Checkpoint Serializer     // optional; defaults to NoopSerializer
	SessionID string
}

func (l *Loop) checkpointer() Serializer {
	if l.Checkpoint != nil {
		return l.Checkpoint
	}
	return NoopSerializer{}
}

// Run starts the loop against task in a new goroutine and returns the event
// stream plus a cancel function. The channel is closed after exactly one
// terminal event (complete/failed/cancelled) is sent. Calling cancel is
// safe at any point, including after the loop has already finished.
func (l *Loop) Run(ctx context.Context, task string) (<-chan Event, func(reason string)) {
	events := make(chan Event, 64)
	runCtx, cancel := context.WithCancel(ctx)

	var reason atomic.Value
	cancelFn := func(r string) {
		reason.Store(r)
		cancel()
	}

	go func() {
		defer close(events)
		defer cancel()
		l.run(runCtx, task, events, &reason)
	}()

	return events, cancelFn
}

type toolOutcome struct {
	call       llm.ToolCall
	payload    []byte
	err        error
	durationMs int64
}

func (l *Loop) run(ctx context.Context, task string, events chan<- Event, cancelReason *atomic.Value) {
	cfg := l.Config
	emit := func(e Event) {
		e.Timestamp = time.Now()
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}
	// The terminal event is always delivered, even after cancellation, so
	// the stream ends with exactly one complete/failed/cancelled event.
	emitTerminal := func(e Event) {
		e.Timestamp = time.Now()
		events <- e
	}

	schemas := l.Tools.Schemas()
	toolNames := make([]string, 0, len(schemas))
	for _, s := range schemas {
		toolNames = append(toolNames, s.Name)
	}
	emit(Event{Type: EventSystem, Tools: toolNames, Model: cfg.Model, SessionID: l.SessionID})

	if cfg.SystemPrompt != "" {
		if _, err := l.Context.AddSystem(ctx, cfg.SystemPrompt); err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Msg("toad_add_system_failed")
		}
	}
	if _, err := l.Context.AddUser(ctx, task); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Msg("toad_add_user_failed")
	}

	state := StateThink
	iteration := 0
	consecutiveErrors := 0
	totalToolCalls := 0
	var finalText string
	var failReason FailReason

	var pendingCalls []llm.ToolCall
	var pendingOutcomes []toolOutcome

runLoop:
	for {
		select {
		case <-ctx.Done():
			state = StateCancelled
			break runLoop
		default:
		}

		switch state {
		case StateThink:
			iteration++
			emit(Event{Type: EventIteration, N: iteration})

			if _, err := l.Hooks.Run(ctx, HookPreThink, HookEvent{}); err != nil {
				consecutiveErrors++
				emit(errEvent(err))
				state = StateDecide
				continue
			}

			prepared := l.Context.PrepareForRequest(ctx, cfg.ResponseReserveTokens)
			msgs := prepared.Messages
			if note := l.Corrections.Format(); note != "" {
				msgs = append(msgs, llm.Message{Role: "system", Content: note})
			}

			resp, err := l.Provider.Chat(ctx, msgs, schemas, cfg.Model)
			if err != nil {
				consecutiveErrors++
				emit(Event{Type: EventError, ErrorCode: "provider_error", ErrorMessage: err.Error(), ErrorRecoverable: true})
				state = StateDecide
				continue
			}
			emit(Event{Type: EventThinking, Text: resp.Content})
			if _, err := l.Context.AddAssistant(ctx, resp.Content); err != nil {
				observability.LoggerWithTrace(ctx).Error().Err(err).Msg("toad_add_assistant_failed")
			}
			if _, err := l.Hooks.Run(ctx, HookPostThink, HookEvent{Data: resp}); err != nil {
				consecutiveErrors++
				emit(errEvent(err))
				state = StateDecide
				continue
			}

			if len(resp.ToolCalls) == 0 {
				finalText = resp.Content
				state = StateComplete
				continue
			}
			pendingCalls = resp.ToolCalls
			state = StateAct

		case StateAct:
			pendingOutcomes = l.act(ctx, pendingCalls, emit)
			totalToolCalls += len(pendingCalls)
			state = StateObserve

		case StateObserve:
			hardErrors := l.observe(ctx, pendingOutcomes, emit)
			consecutiveErrors += hardErrors
			if hardErrors == 0 && len(pendingOutcomes) > 0 {
				consecutiveErrors = 0
			}
			state = StateDecide

		case StateDecide:
			next, r, terminal := l.decide(iteration, consecutiveErrors, cfg)
			emit(Event{Type: EventDecision, NextState: next, Reason: r})

			if cfg.CheckpointInterval > 0 && iteration%cfg.CheckpointInterval == 0 {
				cp := Checkpoint{
					Version:   SchemaVersion,
					SessionID: l.SessionID,
					UpdatedAt: time.Now(),
					Iteration: iteration,
					ToolCalls: totalToolCalls,
					Stats:     l.Context.GetStats(),
				}
				if err := l.checkpointer().SaveCheckpoint(ctx, cp); err != nil {
					observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("toad_checkpoint_failed")
				}
			}

			if terminal {
				state = next
				failReason = FailReason(r)
				break runLoop
			}
			state = next
		}
	}

	budget := l.Context.GetBudget()
	usage := Usage{TotalTokens: budget.Spent()}

	switch state {
	case StateComplete:
		l.Hooks.Run(ctx, HookOnComplete, HookEvent{})
		emitTerminal(Event{Type: EventComplete, Summary: finalText, Turns: iteration, ToolCalls: totalToolCalls, Usage: usage})
	case StateCancelled:
		r, _ := cancelReason.Load().(string)
		emitTerminal(Event{Type: EventCancelled, Reason: r})
	default:
		l.Hooks.Run(ctx, HookOnError, HookEvent{Data: string(failReason)})
		emitTerminal(Event{Type: EventFailed, Reason: string(failReason), Turns: iteration, ToolCalls: totalToolCalls, Usage: usage})
	}
}

func errEvent(err error) Event {
	code := "hook_error"
	recoverable := true
	if he, ok := err.(*HookError); ok {
		recoverable = he.Recoverable()
	}
	return Event{Type: EventError, ErrorCode: code, ErrorMessage: err.Error(), ErrorRecoverable: recoverable}
}

// act resolves @alias references, validates and dispatches every pending
// tool call, running calls that don't depend on one another's results in
// parallel (bounded by MaxToolParallelism) while forcing calls that
// reference another call's ID in the same batch to wait for it.
func (l *Loop) act(ctx context.Context, calls []llm.ToolCall, emit func(Event)) []toolOutcome {
	resolved := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		c.Args = l.resolveAliases(ctx, c.Args)
		resolved[i] = c
	}

	groups := dependencyLayers(resolved)
	outcomes := make([]toolOutcome, len(resolved))
	maxParallel := l.Config.MaxToolParallelism
	if maxParallel <= 0 {
		maxParallel = 1
	}

	for _, group := range groups {
		var wg sync.WaitGroup
		sem := make(chan struct{}, maxParallel)
		for _, idx := range group {
			tc := resolved[idx]
			emit(Event{Type: EventToolCall, ID: tc.ID, Tool: tc.Name, Input: tc.Args})

			wg.Add(1)
			sem <- struct{}{}
			go func(idx int, tc llm.ToolCall) {
				defer wg.Done()
				defer func() { <-sem }()
				start := time.Now()
				payload, err := l.dispatchOne(ctx, tc)
				outcomes[idx] = toolOutcome{call: tc, payload: payload, err: err, durationMs: time.Since(start).Milliseconds()}
				emit(Event{
					Type: EventToolResult, ID: tc.ID, Tool: tc.Name,
					Output: payload, DurationMs: outcomes[idx].durationMs, Success: err == nil && !isErrorPayload(payload),
				})
			}(idx, tc)
		}
		wg.Wait()
	}
	return outcomes
}

// dependencyLayers groups tool calls into sequential layers so that a call
// whose arguments reference an earlier call's ID in the same batch always
// runs after it; calls within a layer have no such dependency and may run
// concurrently.
func dependencyLayers(calls []llm.ToolCall) [][]int {
	n := len(calls)
	dependsOn := make([][]int, n)
	for j := 0; j < n; j++ {
		for i := 0; i < j; i++ {
			if calls[i].ID != "" && bytes.Contains(calls[j].Args, []byte(calls[i].ID)) {
				dependsOn[j] = append(dependsOn[j], i)
			}
		}
	}

	placed := make([]int, n)
	for i := range placed {
		placed[i] = -1
	}
	var groups [][]int
	remaining := n
	for remaining > 0 {
		var layer []int
		for idx := 0; idx < n; idx++ {
			if placed[idx] != -1 {
				continue
			}
			ready := true
			for _, dep := range dependsOn[idx] {
				if placed[dep] == -1 {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, idx)
			}
		}
		if len(layer) == 0 {
			for idx := range placed {
				if placed[idx] == -1 {
					layer = append(layer, idx)
				}
			}
		}
		for _, idx := range layer {
			placed[idx] = len(groups)
		}
		groups = append(groups, layer)
		remaining -= len(layer)
	}
	return groups
}

// resolveAliases expands `@name(args)` references found anywhere in a tool
// call's raw argument JSON against the resource registry, substituting each
// resolved alias's summary form. Unresolved or erroring aliases are left
// untouched so the model sees its own unexpanded reference.
func (l *Loop) resolveAliases(ctx context.Context, raw json.RawMessage) json.RawMessage {
	if l.Resources == nil || len(raw) == 0 {
		return raw
	}
	text := string(raw)
	matches := resources.Parse(text)
	if len(matches) == 0 {
		return raw
	}
	budget := l.Config.AliasTokenBudget
	resolvedList := l.Resources.ResolveAll(ctx, matches, budget, true)
	return json.RawMessage(resources.Rewrite(text, resolvedList))
}

// dispatchOne runs pre/post-tool-use hooks around a single validated
// dispatch. The only Go errors it returns are protocol-class (schema
// violation, hook abort) — a tool's own runtime failure comes back as a
// normal `{"ok":false,...}` payload with a nil error, per the registry's
// contract.
func (l *Loop) dispatchOne(ctx context.Context, tc llm.ToolCall) ([]byte, error) {
	preRes, err := l.Hooks.Run(ctx, HookPreToolUse, HookEvent{Tool: tc.Name, Args: tc.Args})
	if err != nil {
		return nil, err
	}
	if preRes.Action == HookSkip {
		return []byte(`{"skipped":true}`), nil
	}

	payload, err := l.Executor.Run(ctx, tc.Name, tc.Args)
	if err != nil {
		return nil, err
	}

	if l.Adapter != nil && l.Adapter.Supports(tc.Name) {
		l.Adapter.InvalidateStateCache()
	}

	if _, err := l.Hooks.Run(ctx, HookPostToolUse, HookEvent{Tool: tc.Name, Data: payload}); err != nil {
		return payload, err
	}
	return payload, nil
}

func isErrorPayload(payload []byte) bool {
	var probe struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return (probe.OK != nil && !*probe.OK) || probe.Error != ""
}

// observe appends every outcome as a tool-result message, ages tracked
// results, feeds failures to the echo detector, and returns the count of
// protocol-class (hard) errors this round — the only kind that count
// toward the error cap.
func (l *Loop) observe(ctx context.Context, outcomes []toolOutcome, emit func(Event)) int {
	l.Hygiene.Tick()
	hardErrors := 0

	for _, o := range outcomes {
		content := string(o.payload)
		isError := o.err != nil || isErrorPayload(o.payload)
		if o.err != nil {
			content = o.err.Error()
		}

		id, err := l.Context.AddToolResult(ctx, o.call.Name, o.call.ID, content, isError)
		if err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Msg("toad_add_tool_result_failed")
			continue
		}
		l.Hygiene.Track(id)

		if isError {
			errString := content
			if corr := l.Echo.RecordContext(ctx, o.call.Name, errString); corr != nil {
				l.Corrections.Push(corr)
			}
		}
		if o.err != nil {
			hardErrors++
		}
	}

	emit(Event{Type: EventObservation, Note: fmt.Sprintf("%d tool result(s) observed", len(outcomes))})
	stats := l.Context.GetStats()
	emit(Event{Type: EventContext, TokensUsed: stats.Memory.TotalTokens, Compressions: len(stats.Compactions)})
	return hardErrors
}

// decide applies the terminal-condition priority order described in spec
// §4.K (cancellation and the no-tool-calls completion path are both
// resolved before Decide is ever reached): iteration cap, then budget
// exhaustion, then the consecutive hard-error cap, else loop back to Think.
func (l *Loop) decide(iteration, consecutiveErrors int, cfg Config) (State, string, bool) {
	switch {
	case cfg.MaxIterations > 0 && iteration >= cfg.MaxIterations:
		return StateFailed, string(ReasonIterationCap), true
	case cfg.TokenBudget > 0 && l.Context.GetBudget().Spent() >= cfg.TokenBudget:
		return StateFailed, string(ReasonBudgetExhausted), true
	case cfg.MaxErrors > 0 && consecutiveErrors >= cfg.MaxErrors:
		return StateFailed, string(ReasonErrorCap), true
	default:
		return StateThink, "continue", false
	}
}
