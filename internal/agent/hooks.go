package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"toadcore/internal/observability"
)

// HookPoint names one of the six points the loop wraps with pre/post hooks.
type HookPoint string

const (
	HookPreToolUse  HookPoint = "pre-tool-use"
	HookPostToolUse HookPoint = "post-tool-use"
	HookPreThink    HookPoint = "pre-think"
	HookPostThink   HookPoint = "post-think"
	HookOnError     HookPoint = "on-error"
	HookOnComplete  HookPoint = "on-complete"
)

// HookAction is what a handler asks the caller to do next.
type HookAction string

const (
	HookContinue HookAction = "continue"
	HookSkip     HookAction = "skip"
	HookAbort    HookAction = "abort"
)

// HookEvent is passed to a handler at the point it's registered for.
type HookEvent struct {
	Point HookPoint
	Tool  string
	Args  json.RawMessage
	Data  any
}

// HookResult is what a handler returns to influence the call.
type HookResult struct {
	Action HookAction
	Data   any
}

// HookFunc is one registered handler.
type HookFunc func(ctx context.Context, ev HookEvent) (HookResult, error)

// HookHandler names a registered handler and whether its failures should
// propagate (Critical) rather than just be logged and treated as continue.
type HookHandler struct {
	Name     string
	Critical bool
	Fn       HookFunc
}

// HookError is the recoverable error surfaced when a handler aborts a call,
// or when a Critical handler fails (Err then holds the handler's own error).
type HookError struct {
	Handler string
	Point   HookPoint
	Err     error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %q at %s: %v", e.Handler, e.Point, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Recoverable reports true: a hook abort never corrupts adapter/loop state,
// so the caller may retry or let the model react to the abort.
func (e *HookError) Recoverable() bool { return true }

// HookManager runs registered handlers in registration order around tool
// calls and loop lifecycle points (component I).
//
// Grounded on the teacher's internal/agent/engine.go callback fields
// (OnAssistant/OnTool/OnToolStart/OnTurnMessage), generalized from ad hoc
// struct fields into a named, orderable hook registry with explicit
// continue/skip/abort semantics.
type HookManager struct {
	mu       sync.Mutex
	handlers map[HookPoint][]HookHandler
}

// NewHookManager returns an empty HookManager.
func NewHookManager() *HookManager {
	return &HookManager{handlers: make(map[HookPoint][]HookHandler)}
}

// Register adds a handler at the given point, appended after any already
// registered there.
func (m *HookManager) Register(point HookPoint, h HookHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[point] = append(m.handlers[point], h)
}

// Run executes every handler registered at point, in registration order.
// A handler's own error is logged and treated as "continue" unless the
// handler is Critical, in which case it's returned as *HookError and the
// caller must abort. A handler that itself returns HookAbort or HookSkip
// stops the chain and returns that result immediately.
func (m *HookManager) Run(ctx context.Context, point HookPoint, ev HookEvent) (HookResult, error) {
	m.mu.Lock()
	handlers := append([]HookHandler(nil), m.handlers[point]...)
	m.mu.Unlock()

	ev.Point = point
	result := HookResult{Action: HookContinue}
	for _, h := range handlers {
		res, err := h.Fn(ctx, ev)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().
				Str("hook", h.Name).Str("point", string(point)).Err(err).Msg("hook_handler_error")
			if h.Critical {
				return result, &HookError{Handler: h.Name, Point: point, Err: err}
			}
			continue
		}
		result = res
		if result.Data != nil {
			ev.Data = result.Data
		}
		if result.Action == HookAbort {
			return result, &HookError{Handler: h.Name, Point: point, Err: fmt.Errorf("hook requested abort")}
		}
		if result.Action == HookSkip {
			return result, nil
		}
	}
	return result, nil
}
