// Package agent implements the TOAD loop (component K), the hooks manager
// (component I), and sub-agent delegation (component L): the bounded
// Think-Act-Observe-Decide state machine that drives inference and tool
// execution, the pre/post hook points wrapped around it, and the isolated
// inner-loop mechanism a `delegate` tool call spawns.
//
// Grounded on the teacher's internal/agent/engine.go step loop (dispatchTools
// semaphore-bounded concurrency, per-step zerolog event names, streaming
// accumulation) generalized from a single open-ended chat loop into the
// spec's bounded, checkpointed, cancellation-aware state machine.
package agent

import (
	"encoding/json"
	"time"
)

// State names one node of the TOAD state machine.
type State string

const (
	StateInit      State = "init"
	StateThink     State = "think"
	StateAct       State = "act"
	StateObserve   State = "observe"
	StateDecide    State = "decide"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// FailReason names why Decide terminated the loop in StateFailed.
type FailReason string

const (
	ReasonIterationCap    FailReason = "iteration_cap"
	ReasonBudgetExhausted FailReason = "budget_exhausted"
	ReasonErrorCap        FailReason = "error_cap"
)

// EventType enumerates the engine-to-caller event stream entries (spec §6).
type EventType string

const (
	EventSystem      EventType = "system"
	EventIteration   EventType = "iteration"
	EventThinking    EventType = "thinking"
	EventToolCall    EventType = "toolCall"
	EventToolResult  EventType = "toolResult"
	EventObservation EventType = "observation"
	EventDecision    EventType = "decision"
	EventContext     EventType = "context"
	EventError       EventType = "error"
	EventComplete    EventType = "complete"
	EventFailed      EventType = "failed"
	EventCancelled   EventType = "cancelled"
)

// Usage mirrors a provider's reported token usage for one Chat call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Event is one entry on the loop's output stream. Every event carries Type
// and Timestamp; the remaining fields are populated according to Type, per
// the table in spec §6. Consumers that need a tagged union switch on Type.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// system
	Tools     []string
	Model     string
	SessionID string
	Agents    []string

	// iteration
	N int

	// thinking
	Text       string
	Delta      string
	TokenCount int

	// toolCall / toolResult
	ID         string
	Tool       string
	Input      json.RawMessage
	Output     json.RawMessage
	DurationMs int64
	Success    bool

	// observation
	Note string

	// decision
	NextState State
	Reason    string

	// context
	TokensUsed   int
	Compressions int

	// error
	ErrorCode        string
	ErrorMessage     string
	ErrorRecoverable bool

	// complete
	Summary   string
	Usage     Usage
	Turns     int
	ToolCalls int
}

// Result is the terminal outcome of a Run, derived from the last event
// emitted plus running counters the caller may want without replaying the
// whole stream.
type Result struct {
	State      State
	FinalText  string
	FailReason FailReason
	Cancelled  bool
	Turns      int
	ToolCalls  int
	TokensUsed int
	Usage      Usage
}
