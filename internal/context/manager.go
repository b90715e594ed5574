// Package context implements the tiered, budget-aware conversation manager
// that fronts internal/memory, internal/compression, and internal/tokens:
// message admission, request preparation with prompt-cache breakpoints, and
// triggered compression/eviction as utilization crosses thresholds.
//
// Grounded on the teacher's internal/agent/engine.go request-assembly path
// (buildMessages / maybeSummarize / buildSummarizedMessages) and
// internal/llm/provider.go's cache-breakpoint handling for Anthropic
// requests, generalized into a standalone, provider-agnostic facade.
package context

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"toadcore/internal/compression"
	"toadcore/internal/llm"
	"toadcore/internal/memory"
	"toadcore/internal/tokens"
)

// EventType names the facade's observable lifecycle events.
type EventType string

const (
	EventMessageAdded        EventType = "message_added"
	EventMessageEvicted      EventType = "message_evicted"
	EventCompressionStarted  EventType = "compression_started"
	EventCompressionComplete EventType = "compression_completed"
	EventBudgetWarning       EventType = "budget_warning"
	EventBudgetCritical      EventType = "budget_critical"
)

// Event is passed to every listener registered with OnEvent for each lifecycle
// transition a caller might want to observe (logging, metrics, UI).
type Event struct {
	Type      EventType
	MessageID string
	Tier      memory.Tier
	Detail    string
}

// Manager is the context/conversation facade used by the loop (component K)
// and the session API (component M).
type Manager struct {
	mu                sync.Mutex
	store             *memory.Store
	budget            *tokens.Budget
	estimator         *tokens.Estimator
	pipeline          *compression.Pipeline
	listeners         []func(Event)
	compactions       []CompactionRecord
	recentWindowTurns int
}

// CompactionRecord logs one compact() invocation for get_stats/history.
type CompactionRecord struct {
	TokensBefore int
	TokensAfter  int
	Ratio        float64
}

// Config configures a new Manager.
type Config struct {
	MaxTokens         int
	Estimator         *tokens.Estimator
	Summarizer        compression.Summarizer
	TierOverrides     map[memory.Tier]memory.TierConfig
	RecentWindowTurns int // user-turn window before recent ages into archived; 0 = spec default (10)
}

// NewManager constructs a Manager with default tier sizing scaled to
// cfg.MaxTokens, or explicit TierOverrides when given.
func NewManager(cfg Config) *Manager {
	tierCfg := cfg.TierOverrides
	if tierCfg == nil {
		tierCfg = memory.DefaultTierConfigs(cfg.MaxTokens)
	}
	est := cfg.Estimator
	if est == nil {
		est = tokens.NewEstimator(nil)
	}
	budget := tokens.NewBudget(cfg.MaxTokens)
	pipeline := compression.NewPipeline(func(s string) int {
		return tokens.EstimateChars(s)
	}, cfg.Summarizer)
	window := cfg.RecentWindowTurns
	if window <= 0 {
		window = 10
	}
	return &Manager{
		store:             memory.NewStore(tierCfg),
		budget:            budget,
		estimator:         est,
		pipeline:          pipeline,
		recentWindowTurns: window,
	}
}

// OnEvent registers a listener invoked synchronously for every Event.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) emit(e Event) {
	for _, l := range m.listeners {
		l(e)
	}
}

func newID() string { return uuid.NewString() }

// AddSystem admits a system-role message.
func (m *Manager) AddSystem(ctx context.Context, content string) (string, error) {
	return m.add(ctx, memory.RoleSystem, content, memory.PrioritySystem, memory.Metadata{})
}

// AddUser admits a user-role message.
func (m *Manager) AddUser(ctx context.Context, content string) (string, error) {
	return m.add(ctx, memory.RoleUser, content, memory.PriorityNormal, memory.Metadata{})
}

// AddAssistant admits an assistant-role message.
func (m *Manager) AddAssistant(ctx context.Context, content string) (string, error) {
	return m.add(ctx, memory.RoleAssistant, content, memory.PriorityNormal, memory.Metadata{})
}

// AddToolResult admits a tool result, tagged with the tool name/call ID so
// compression and hygiene can route it through the right compressor and
// lifecycle tracking.
func (m *Manager) AddToolResult(ctx context.Context, toolName, toolCallID, content string, isError bool) (string, error) {
	meta := memory.Metadata{ToolName: toolName, ToolCallID: toolCallID, IsError: isError, Stage: memory.AgeFresh}
	return m.add(ctx, memory.RoleTool, content, memory.PriorityNormal, meta)
}

func (m *Manager) add(ctx context.Context, role memory.Role, content string, priority int, meta memory.Metadata) (string, error) {
	id := newID()
	tok := m.estimator.CountText(ctx, content)

	m.mu.Lock()
	tier, err := m.store.Add(memory.Message{
		ID: id, Role: role, Content: content, Tokens: tok,
		Priority: priority, Compressible: role != memory.RoleSystem, Metadata: meta,
	})
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	m.budget.Spend(id, tok)
	m.emit(Event{Type: EventMessageAdded, MessageID: id, Tier: tier})

	m.enforceRecentWindow()
	m.maybeCompress(ctx)
	return id, nil
}

// enforceRecentWindow implements the admission rule's recent-tier sizing
// (§4.B: "if recent's user-turn count < configured window ... else
// archived"): once the number of user turns held in recent exceeds the
// configured window, the oldest turn (and anything preceding it, e.g. a
// dangling tool/assistant message) ages out into archived.
func (m *Manager) enforceRecentWindow() {
	if m.recentWindowTurns <= 0 {
		return
	}
	for {
		m.mu.Lock()
		recent := m.store.GetTier(memory.TierRecent)
		m.mu.Unlock()

		userTurns := 0
		for _, msg := range recent {
			if msg.Role == memory.RoleUser {
				userTurns++
			}
		}
		if userTurns <= m.recentWindowTurns {
			return
		}

		n := 0
		for _, msg := range recent {
			n++
			if msg.Role == memory.RoleUser {
				break
			}
		}

		m.mu.Lock()
		demoted, _ := m.store.Demote(n)
		m.mu.Unlock()
		if len(demoted) == 0 {
			return
		}
	}
}

// maybeCompress checks budget pressure and, when crossing the compression
// threshold (70% utilization), compresses compressible tiers; at the
// eviction threshold (90%) it compresses harder first (a stronger ratio
// gives compression a chance to recover the budget without discarding
// content) and only evicts lowest-priority/oldest messages if pressure is
// still critical/exhausted afterward.
func (m *Manager) maybeCompress(ctx context.Context) {
	pressure := m.budget.Pressure()
	if pressure == tokens.PressureNormal {
		return
	}

	m.emit(Event{Type: EventBudgetWarning, Detail: pressure.String()})
	if pressure == tokens.PressureCritical || pressure == tokens.PressureExhausted {
		m.emit(Event{Type: EventBudgetCritical, Detail: pressure.String()})
		m.compressCompressibleTiers(ctx, 0.6)
		if p := m.budget.Pressure(); p == tokens.PressureCritical || p == tokens.PressureExhausted {
			m.evictUntilSafe(ctx)
		}
		return
	}
	m.compressCompressibleTiers(ctx, 0.3)
}

func (m *Manager) compressCompressibleTiers(ctx context.Context, neededRatio float64) {
	for _, tier := range []memory.Tier{memory.TierArchived, memory.TierTools, memory.TierResources, memory.TierRecent} {
		msgs := m.store.GetTier(tier)
		for _, msg := range msgs {
			if !msg.Compressible {
				continue
			}
			m.emit(Event{Type: EventCompressionStarted, MessageID: msg.ID, Tier: tier})
			level := compression.LevelFromRatio(neededRatio)
			out, _ := m.pipeline.Compress(msg.Content, msg.Metadata.ToolName, neededRatio, level)
			if len(out) >= len(msg.Content) {
				continue
			}
			newTok := m.estimator.CountText(ctx, out)
			delta := msg.Tokens - newTok
			m.mu.Lock()
			_ = m.store.Replace(msg.ID, out, newTok)
			m.mu.Unlock()
			if delta > 0 {
				m.budget.Spend(msg.ID, -delta)
			}
			m.emit(Event{Type: EventCompressionComplete, MessageID: msg.ID, Tier: tier})
		}
	}
}

// evictUntilSafe walks every evictable tier, including recent (ordinary
// conversation turns are not exempt from eviction — only the system tier
// and CRITICAL+ priority messages are, per invariant 3), freeing each
// tier's real overage above its configured cap rather than one message at
// a time, until pressure drops back under critical.
func (m *Manager) evictUntilSafe(ctx context.Context) {
	for _, tier := range []memory.Tier{memory.TierEphemeral, memory.TierArchived, memory.TierTools, memory.TierResources, memory.TierRecent} {
		for {
			p := m.budget.Pressure()
			if p == tokens.PressureNormal || p == tokens.PressureWarning {
				return
			}
			need := m.tierOverage(tier)
			if need <= 0 {
				break
			}
			m.mu.Lock()
			evicted, freed := m.store.Evict(tier, need)
			m.mu.Unlock()
			if freed <= 0 {
				break
			}
			m.budget.Spend("evict:"+string(tier), -freed)
			for _, id := range evicted {
				m.emit(Event{Type: EventMessageEvicted, MessageID: id, Tier: tier})
			}
		}
	}
}

// tierOverage reports how many tokens a tier currently holds above its
// target: its CompressionTarget fraction of MaxTokens when critical
// pressure calls for a more aggressive trim, else MaxTokens itself. Returns
// 0 when the tier has no configured cap or isn't over it.
func (m *Manager) tierOverage(tier memory.Tier) int {
	cfg := m.store.TierConfig(tier)
	if cfg.MaxTokens <= 0 {
		return 0
	}
	target := cfg.MaxTokens
	if cfg.CompressionTarget > 0 {
		if scaled := int(float64(cfg.MaxTokens) * cfg.CompressionTarget); scaled < target {
			target = scaled
		}
	}
	cur := m.store.Stats().PerTier[tier]
	if cur <= target {
		return 0
	}
	return cur - target
}

// PreparedRequest is what PrepareForRequest returns: the ordered messages a
// provider call should send, plus bookkeeping the loop needs.
type PreparedRequest struct {
	Messages            []llm.Message
	TotalTokens          int
	ResponseTokensAvail int
	WasCompressed        bool
	CacheBreakpoints     []int
}

// PrepareForRequest returns the canonically ordered message list, reserving
// responseReserve tokens for the model's reply and computing Anthropic-style
// cache breakpoints (end of the system prefix, end of a >=3-entry tool
// block).
func (m *Manager) PrepareForRequest(ctx context.Context, responseReserve int) PreparedRequest {
	m.mu.Lock()
	all := m.store.GetAll()
	m.mu.Unlock()

	msgs := make([]llm.Message, 0, len(all))
	total := 0
	for _, mm := range all {
		msgs = append(msgs, llm.Message{Role: string(mm.Role), Content: mm.Content})
		total += mm.Tokens
	}

	breakpoints := cacheBreakpoints(all)
	return PreparedRequest{
		Messages:            msgs,
		TotalTokens:          total,
		ResponseTokensAvail: responseReserve,
		CacheBreakpoints:     breakpoints,
	}
}

// cacheBreakpoints returns indices marking the end of the contiguous
// system-role prefix and the end of a contiguous tool-definition-shaped
// block of >=3 entries, matching the facade's determinism requirement:
// identical inputs always produce identical breakpoints.
func cacheBreakpoints(msgs []memory.Message) []int {
	var breaks []int
	i := 0
	for i < len(msgs) && msgs[i].Role == memory.RoleSystem {
		i++
	}
	if i > 0 {
		breaks = append(breaks, i-1)
	}
	j := i
	toolRun := 0
	for j < len(msgs) && msgs[j].Role == memory.RoleTool {
		toolRun++
		j++
	}
	if toolRun >= 3 {
		breaks = append(breaks, j-1)
	}
	return breaks
}

// Compact runs a compression pass targeting roughly `ratio` reduction in
// total tokens across compressible tiers, recording a CompactionRecord.
func (m *Manager) Compact(ctx context.Context, ratio float64) CompactionRecord {
	before := m.budget.Spent()
	m.compressCompressibleTiers(ctx, ratio)
	after := m.budget.Spent()
	rec := CompactionRecord{TokensBefore: before, TokensAfter: after}
	if before > 0 {
		rec.Ratio = float64(before-after) / float64(before)
	}
	m.mu.Lock()
	m.compactions = append(m.compactions, rec)
	m.mu.Unlock()
	return rec
}

// Clone returns a deep, independent copy of the manager's state: mutating
// the clone never affects the original.
func (m *Manager) Clone() *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := &Manager{
		store:             memory.NewStore(memory.DefaultTierConfigs(m.budget.Total())),
		budget:            m.budget.Clone(),
		estimator:         m.estimator,
		pipeline:          m.pipeline,
		recentWindowTurns: m.recentWindowTurns,
	}
	for _, tier := range []memory.Tier{memory.TierSystem, memory.TierTools, memory.TierResources, memory.TierArchived, memory.TierRecent, memory.TierEphemeral} {
		for _, msg := range m.store.GetTier(tier) {
			if msg.Metadata.Extra == nil {
				msg.Metadata.Extra = map[string]any{}
			}
			msg.Metadata.Extra["tier"] = tier
			_, _ = clone.store.Add(msg)
		}
	}
	clone.compactions = append([]CompactionRecord(nil), m.compactions...)
	return clone
}

// GetBudget exposes the underlying token budget tracker.
func (m *Manager) GetBudget() *tokens.Budget { return m.budget }

// Stats reports tier-level token/message counts plus compaction history.
type Stats struct {
	Memory      memory.Stats
	Compactions []CompactionRecord
	Pressure    tokens.Pressure
}

func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Memory:      m.store.Stats(),
		Compactions: append([]CompactionRecord(nil), m.compactions...),
		Pressure:    m.budget.Pressure(),
	}
}
