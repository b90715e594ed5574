package adapter

import (
	"context"
	"time"
)

// ConnectionState enumerates the adapter's lifecycle states.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// ActionError is the structured error shape surfaced to the loop on a
// terminal action failure; it never escapes as a Go error across the
// adapter boundary, only as this field on ActionResult.
type ActionError struct {
	Code        string
	Message     string
	Recoverable bool
}

func (e *ActionError) Error() string { return e.Code + ": " + e.Message }

// ActionResult is the outcome of executing one action.
type ActionResult struct {
	Success bool
	Data    any
	Error   *ActionError
}

// ExecuteOptions tunes a single Execute call.
type ExecuteOptions struct {
	Timeout time.Duration
	Retries int // overrides the adapter's configured default when > 0
}

// ActionDescriptor describes one action the adapter exposes, matching the
// tool-schema shape the loop hands to a provider.
type ActionDescriptor struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Awareness is the adapter's best-effort snapshot of what the underlying
// surface currently looks like (e.g. a canvas's visible elements), used to
// ground the model's situational context.
type Awareness struct {
	Summary string
	Data    any
}

// Adapter is the contract the loop drives all external side effects
// through: connect/disconnect lifecycle, action execution with per-call
// timeout/retry overrides, schema discovery, and best-effort state/
// awareness snapshots.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ConnectionState() ConnectionState

	Execute(ctx context.Context, action string, params map[string]any, opts ExecuteOptions) (ActionResult, error)
	AvailableActions(ctx context.Context) ([]ActionDescriptor, error)
	Supports(action string) bool
	Schema(action string) (map[string]any, bool)

	GetState(ctx context.Context) (map[string]any, error)
	GetAwareness(ctx context.Context) (Awareness, error)

	// InvalidateStateCache drops any cached GetState/GetAwareness snapshot.
	// The loop calls this after every mutating tool call (invariant 6);
	// Execute implementations should also call it internally so a caller
	// that never reaches the loop still observes fresh state.
	InvalidateStateCache()
}
