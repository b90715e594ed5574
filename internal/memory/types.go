// Package memory implements the six-tier, priority-ordered conversation
// store described as component B: per-tier token caps, admission tier
// inference, promotion/demotion between recent and archived, and
// lowest-priority-then-oldest eviction.
//
// Grounded on the teacher's internal/agent/memory.go (RingMemory) and
// internal/agent/memory/manager.go for the tiering/eviction shape, adapted
// from a single ring buffer into the six named tiers the engine requires.
package memory

import "time"

// Priority levels. Well-known thresholds used for tier inference.
const (
	PriorityEphemeral = 10
	PriorityLow       = 25
	PriorityNormal    = 50
	PriorityHigh      = 75
	PriorityCritical  = 150
	PrioritySystem    = 200
)

// Tier names the six memory buckets, in the canonical get_all ordering.
type Tier string

const (
	TierSystem    Tier = "system"
	TierTools     Tier = "tools"
	TierResources Tier = "resources"
	TierArchived  Tier = "archived"
	TierRecent    Tier = "recent"
	TierEphemeral Tier = "ephemeral"
)

// orderedTiers is the fixed iteration order for GetAll: system, tools,
// resources, archived, recent, ephemeral.
var orderedTiers = []Tier{TierSystem, TierTools, TierResources, TierArchived, TierRecent, TierEphemeral}

// Role is the conversational role of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// AgeStage classifies how long a tool result has sat in the conversation.
type AgeStage string

const (
	AgeFresh    AgeStage = "fresh"
	AgeAgeing   AgeStage = "ageing"
	AgeStale    AgeStage = "stale"
	AgeArchived AgeStage = "archived"
)

// Metadata carries the optional, tool/error-shaped annotations a Message may
// have attached.
type Metadata struct {
	ToolName       string
	ToolCallID     string
	IsError        bool
	Critical       bool
	SummarizedFrom []string
	AgeIterations  int
	Stage          AgeStage
	Extra          map[string]any
}

// Message is a single stored conversation entry.
type Message struct {
	ID            string
	Role          Role
	Content       string
	Timestamp     time.Time
	Tokens        int
	Priority      int
	Compressible  bool
	Metadata      Metadata
	seq           uint64 // insertion order, for deterministic tie-breaking
}

// TierConfig describes the admission/eviction policy for one tier.
type TierConfig struct {
	MaxTokens           int
	MinTokens           int
	Compressible        bool
	CompressionTarget   float64 // target ratio, 0 = unset
	PriorityThreshold   int     // minimum priority required for admission, 0 = unset
}

// DefaultTierConfigs returns the spec-mandated default caps. Callers
// typically scale MaxTokens to the session's overall budget.
func DefaultTierConfigs(totalBudget int) map[Tier]TierConfig {
	if totalBudget <= 0 {
		totalBudget = 200_000
	}
	return map[Tier]TierConfig{
		TierSystem:    {MaxTokens: totalBudget, MinTokens: 0, Compressible: false},
		TierTools:     {MaxTokens: totalBudget / 4, MinTokens: 0, Compressible: true, CompressionTarget: 0.5},
		TierResources: {MaxTokens: totalBudget / 8, MinTokens: 0, Compressible: true, CompressionTarget: 0.5},
		TierArchived:  {MaxTokens: totalBudget / 4, MinTokens: 0, Compressible: true, CompressionTarget: 0.3},
		TierRecent:    {MaxTokens: totalBudget / 2, MinTokens: totalBudget / 10, Compressible: true, CompressionTarget: 0.6},
		TierEphemeral: {MaxTokens: totalBudget / 20, MinTokens: 0, Compressible: true},
	}
}

// Stats reports per-tier and total token usage.
type Stats struct {
	PerTier     map[Tier]int
	TotalTokens int
	Counts      map[Tier]int
}
