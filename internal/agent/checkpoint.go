package agent

import (
	"context"
	"time"

	ctxmgr "toadcore/internal/context"
)

// SchemaVersion is the current persisted-state schema version (spec §6
// "Persisted state"). Unknown future versions must be rejected by readers.
const SchemaVersion = 1

// Checkpoint is the serializable snapshot Decide hands to a Serializer
// every CheckpointInterval iterations. It carries the session id,
// timestamps, the iteration and tool-call counters, and the context
// manager's Stats. It does not carry the tier contents (the messages), the
// budget ledger, the compression records or the memory configuration, so
// a session's context cannot be rebuilt from a Checkpoint alone.
type Checkpoint struct {
	Version   int
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
	Iteration int
	ToolCalls int
	Stats     ctxmgr.Stats
}

// Serializer persists (and, for a storage layer, later restores) a
// Checkpoint. The loop never implements storage itself — it only calls
// SaveCheckpoint when one is configured, per spec §1's "exposes
// serializable state that a storage layer may save."
type Serializer interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// NoopSerializer discards every checkpoint; it's the zero-value default
// when a caller doesn't configure persistence.
type NoopSerializer struct{}

func (NoopSerializer) SaveCheckpoint(context.Context, Checkpoint) error { return nil }
