// Package hygiene tracks tool-result aging and staleness, and detects
// echo-poisoning loops (the same tool call repeatedly failing with the
// same error), injecting bounded correction messages for the loop to
// surface back to the model.
//
// Grounded on the teacher's internal/agent/engine.go tool-result bookkeeping
// (age-based summarization triggers) and internal/agent/critic.go's
// repeated-failure detection, split into a standalone package.
package hygiene

import (
	"time"

	"toadcore/internal/memory"
)

// Staging thresholds, expressed in loop iterations since a tool result was
// added: fresh (0-4), ageing (5-9), stale (10-19), archived (20+).
const (
	AgeingAt  = 5
	StaleAt   = 10
	ArchivedAt = 20
)

// StageFor classifies a tool result's age in iterations.
func StageFor(ageIterations int) memory.AgeStage {
	switch {
	case ageIterations >= ArchivedAt:
		return memory.AgeArchived
	case ageIterations >= StaleAt:
		return memory.AgeStale
	case ageIterations >= AgeingAt:
		return memory.AgeAgeing
	default:
		return memory.AgeFresh
	}
}

// Tracker maintains per-message age counters across loop iterations.
type Tracker struct {
	ages map[string]int
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker { return &Tracker{ages: make(map[string]int)} }

// Tick advances every tracked message's age by one iteration.
func (t *Tracker) Tick() {
	for id := range t.ages {
		t.ages[id]++
	}
}

// Track starts aging a newly added tool result at age 0.
func (t *Tracker) Track(messageID string) { t.ages[messageID] = 0 }

// Forget stops tracking a message (e.g. once evicted).
func (t *Tracker) Forget(messageID string) { delete(t.ages, messageID) }

// Stage returns the current age stage for a tracked message.
func (t *Tracker) Stage(messageID string) memory.AgeStage {
	return StageFor(t.ages[messageID])
}

// Age returns the raw iteration count for a tracked message.
func (t *Tracker) Age(messageID string) int { return t.ages[messageID] }

// StateSnapshot is an opaque fingerprint of adapter-observed state (e.g. a
// hash of get_state()'s current resource list) used to detect when a stale
// tool result's claims about the world no longer hold.
type StateSnapshot struct {
	Fingerprint string
	ObservedAt  time.Time
}

// Correction describes a hygiene issue the loop should surface to the
// model as a bounded system message.
type Correction struct {
	Type      CorrectionType
	MessageID string
	Detail    string
}

// CorrectionType enumerates the kinds of hygiene corrections.
type CorrectionType string

const (
	CorrectionInvalidID       CorrectionType = "invalid_id"
	CorrectionStaleState      CorrectionType = "stale_state"
	CorrectionRepeatedError   CorrectionType = "repeated_error"
	CorrectionContradiction   CorrectionType = "contradiction"
)

// DetectStaleness compares a tracked tool result's recorded state snapshot
// against the adapter's current snapshot, producing a stale_state
// Correction when they diverge and the result is at or past the stale
// stage (younger results are allowed to lag without triggering a
// correction).
func (t *Tracker) DetectStaleness(messageID string, recorded, current StateSnapshot) *Correction {
	if t.Stage(messageID) == memory.AgeFresh || t.Stage(messageID) == memory.AgeAgeing {
		return nil
	}
	if recorded.Fingerprint == "" || recorded.Fingerprint == current.Fingerprint {
		return nil
	}
	return &Correction{
		Type:      CorrectionStaleState,
		MessageID: messageID,
		Detail:    "referenced state has changed since this result was produced",
	}
}
