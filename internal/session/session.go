// Package session implements the session API (component M): the
// connect/disconnect/run/execute/stats/history/cancel surface that wires a
// provider, an optional action adapter, the tool registry, and the TOAD
// loop together, preserving context across multiple Run calls so turn N+1
// sees turn N's (possibly compressed) history.
//
// Grounded on the teacher's cmd/agent-demo/main.go wiring (provider +
// tool registry + engine assembly) and internal/agent/engine.go's
// Run/RunStream entry points, generalized into a reusable, multi-turn
// session object instead of a single one-shot call.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"toadcore/internal/adapter"
	"toadcore/internal/agent"
	"toadcore/internal/agent/prompts"
	"toadcore/internal/config"
	ctxmgr "toadcore/internal/context"
	"toadcore/internal/hygiene"
	"toadcore/internal/llm"
	"toadcore/internal/llm/providers"
	"toadcore/internal/observability"
	"toadcore/internal/resources"
	"toadcore/internal/tools"

	"github.com/google/uuid"
)

// HistoryEntry records one completed Run call.
type HistoryEntry struct {
	Task      string
	Result    agent.Result
	StartedAt time.Time
	EndedAt   time.Time
}

// Session is the multi-turn session object a caller connects, runs tasks
// against, and eventually disconnects.
type Session struct {
	mu sync.Mutex

	id      string
	cfg     config.SessionConfig
	started bool

	provider  llm.Provider
	adapter   adapter.Adapter
	registry  tools.Registry
	executor  *tools.Executor
	context   *ctxmgr.Manager
	hooks     *agent.HookManager
	resources *resources.Registry
	hygiene   *hygiene.Tracker
	echo      *hygiene.EchoDetector
	echoStore *hygiene.RedisWindowStore
	corrections *hygiene.CorrectionQueue
	agents    *agent.AgentRegistry
	delegator *agent.Delegator
	checkpoint agent.Serializer

	systemPromptSent bool
	history          []HistoryEntry
	cancelCurrent    func(string)
}

// Options carries the pieces a Session can't construct on its own: the
// tool registry to drive (nil uses an empty registry; `delegate` is added
// only when EnableParallelDelegation is set), an
// optional external action adapter, a checkpoint serializer, and an HTTP
// client for provider calls (nil uses http.DefaultClient).
type Options struct {
	Registry   tools.Registry
	Adapter    adapter.Adapter
	Checkpoint agent.Serializer
	HTTPClient *http.Client
}

// Connect builds a Session: constructs the configured provider, connects
// the adapter (if any), and wires the context manager, hooks, hygiene
// trackers, and (when EnableParallelDelegation is set) the delegate tool.
// The returned Session is ready for Run.
func Connect(ctx context.Context, cfg config.SessionConfig, opts Options) (*Session, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	provider, err := providers.Build(cfg.ToLLMConfig(), httpClient)
	if err != nil {
		return nil, fmt.Errorf("session: building provider: %w", err)
	}

	if opts.Adapter != nil {
		if err := opts.Adapter.Connect(ctx); err != nil {
			return nil, fmt.Errorf("session: connecting adapter: %w", err)
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = tools.NewRegistry()
	}

	agents := agent.NewAgentRegistry()
	delegator := agent.NewDelegator(provider, registry, agents, cfg.Provider.ResolveModel())
	if cfg.EnableParallelDelegation {
		registry.Register(&agent.DelegateTool{Delegator: delegator})
	}

	checkpoint := opts.Checkpoint
	if checkpoint == nil {
		checkpoint = agent.NoopSerializer{}
	}

	echoDetector, echoStore, err := buildEchoDetector(cfg.Hygiene)
	if err != nil {
		return nil, fmt.Errorf("session: building echo detector: %w", err)
	}

	s := &Session{
		id:          uuid.NewString(),
		cfg:         cfg,
		started:     true,
		provider:    provider,
		adapter:     opts.Adapter,
		registry:    registry,
		executor:    tools.NewExecutor(registry),
		context:     ctxmgr.NewManager(ctxmgr.Config{MaxTokens: cfg.Memory.MaxTokens, RecentWindowTurns: cfg.Memory.RecentWindowTurns}),
		hooks:       agent.NewHookManager(),
		resources:   resources.NewRegistry(),
		hygiene:     hygiene.NewTracker(),
		echo:        echoDetector,
		echoStore:   echoStore,
		corrections: hygiene.NewCorrectionQueue(),
		agents:      agents,
		delegator:   delegator,
		checkpoint:  checkpoint,
	}
	return s, nil
}

// buildEchoDetector constructs the echo-poisoning detector per cfg,
// sharing its rolling window over Redis when cfg.Redis is enabled so that
// several replicas of this engine catch a loop regardless of which one
// lands the repeated failing call.
func buildEchoDetector(cfg config.HygieneConfig) (*hygiene.EchoDetector, *hygiene.RedisWindowStore, error) {
	if !cfg.Redis.Enabled {
		return hygiene.NewEchoDetector(cfg.LoopWindow, cfg.LoopThreshold), nil, nil
	}
	store, err := hygiene.NewRedisWindowStore(hygiene.RedisConfig{
		Addr:                  cfg.Redis.Addr,
		Password:              cfg.Redis.Password,
		DB:                    cfg.Redis.DB,
		TLSInsecureSkipVerify: cfg.Redis.TLSInsecureSkipVerify,
	})
	if err != nil {
		return nil, nil, err
	}
	return hygiene.NewEchoDetectorWithStore(cfg.LoopWindow, cfg.LoopThreshold, store), store, nil
}

// Disconnect disconnects the adapter, if one is configured, and marks the
// session unusable for further Run calls.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	if s.echoStore != nil {
		_ = s.echoStore.Close()
	}
	if s.adapter != nil {
		return s.adapter.Disconnect(ctx)
	}
	return nil
}

// ID returns the session's identifier, stamped on every event it emits.
func (s *Session) ID() string { return s.id }

func (s *Session) systemPrompt() string {
	if s.cfg.SystemPrompt != "" {
		return s.cfg.SystemPrompt
	}
	return prompts.DefaultSystemPrompt(".")
}

// Run drives one task through the TOAD loop and returns its event stream
// plus a cancel function, preserving the session's context manager (and
// hygiene/correction state) across calls so a later Run sees this one's
// history. The system prompt is only admitted into context once, on the
// session's first Run.
func (s *Session) Run(ctx context.Context, task string) (<-chan agent.Event, func(string), error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("session: not connected")
	}
	systemPrompt := ""
	if !s.systemPromptSent {
		systemPrompt = s.systemPrompt()
		s.systemPromptSent = true
	}
	loop := &agent.Loop{
		Config: agent.Config{
			Model:                 s.cfg.Provider.ResolveModel(),
			SystemPrompt:          systemPrompt,
			MaxIterations:         s.cfg.MaxIterations,
			TokenBudget:           s.cfg.TokenBudget,
			MaxErrors:             s.cfg.MaxErrors,
			CheckpointInterval:    s.cfg.CheckpointInterval,
			MaxToolParallelism:    s.cfg.MaxToolParallelism,
			ResponseReserveTokens: s.cfg.Memory.ResponseReserveTokens,
			AliasTokenBudget:      s.cfg.Memory.ToolReserveTokens,
		},
		Provider:    s.provider,
		Tools:       s.registry,
		Executor:    s.executor,
		Context:     s.context,
		Hooks:       s.hooks,
		Resources:   s.resources,
		Hygiene:     s.hygiene,
		Echo:        s.echo,
		Corrections: s.corrections,
		Adapter:     s.adapter,
		Checkpoint:  s.checkpoint,
		SessionID:   s.id,
	}
	s.mu.Unlock()

	started := time.Now()
	events, cancel := loop.Run(ctx, task)

	s.mu.Lock()
	s.cancelCurrent = cancel
	s.mu.Unlock()

	out := make(chan agent.Event, 64)
	go func() {
		defer close(out)
		var last agent.Event
		for ev := range events {
			out <- ev
			last = ev
		}
		s.recordHistory(task, last, started)
	}()
	return out, cancel, nil
}

// Execute drives Run to completion and returns the terminal Result,
// discarding the intermediate event stream. Use Run directly when the
// caller wants to observe progress.
func (s *Session) Execute(ctx context.Context, task string) (agent.Result, error) {
	events, _, err := s.Run(ctx, task)
	if err != nil {
		return agent.Result{}, err
	}
	var last agent.Event
	for ev := range events {
		last = ev
	}
	return resultFromEvent(last), nil
}

// Cancel requests cancellation of whatever Run call is currently in
// flight; it's a no-op if none is.
func (s *Session) Cancel(reason string) {
	s.mu.Lock()
	cancel := s.cancelCurrent
	s.mu.Unlock()
	if cancel != nil {
		cancel(reason)
	}
}

// Stats returns the context manager's current tier/budget/pressure stats.
func (s *Session) Stats() ctxmgr.Stats {
	return s.context.GetStats()
}

// History returns a copy of every completed Run call this session has
// recorded, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) recordHistory(task string, last agent.Event, started time.Time) {
	entry := HistoryEntry{Task: task, Result: resultFromEvent(last), StartedAt: started, EndedAt: time.Now()}
	s.mu.Lock()
	s.history = append(s.history, entry)
	max := s.cfg.MaxHistoryEntries
	if max > 0 && len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.mu.Unlock()
	observability.LoggerWithTrace(context.Background()).Debug().
		Str("session_id", s.id).Str("state", string(entry.Result.State)).Msg("session_run_recorded")
}

func resultFromEvent(ev agent.Event) agent.Result {
	switch ev.Type {
	case agent.EventComplete:
		return agent.Result{State: agent.StateComplete, FinalText: ev.Summary, Turns: ev.Turns, ToolCalls: ev.ToolCalls, Usage: ev.Usage, TokensUsed: ev.Usage.TotalTokens}
	case agent.EventFailed:
		return agent.Result{State: agent.StateFailed, FailReason: agent.FailReason(ev.Reason), Turns: ev.Turns, ToolCalls: ev.ToolCalls, Usage: ev.Usage, TokensUsed: ev.Usage.TotalTokens}
	case agent.EventCancelled:
		return agent.Result{State: agent.StateCancelled, Cancelled: true}
	default:
		return agent.Result{}
	}
}
