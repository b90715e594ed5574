package agent

import (
	"context"
	"errors"
	"testing"
)

func TestHookManagerRunsInRegistrationOrder(t *testing.T) {
	m := NewHookManager()
	var order []string
	m.Register(HookPreToolUse, HookHandler{Name: "first", Fn: func(ctx context.Context, ev HookEvent) (HookResult, error) {
		order = append(order, "first")
		return HookResult{Action: HookContinue}, nil
	}})
	m.Register(HookPreToolUse, HookHandler{Name: "second", Fn: func(ctx context.Context, ev HookEvent) (HookResult, error) {
		order = append(order, "second")
		return HookResult{Action: HookContinue}, nil
	}})

	res, err := m.Run(context.Background(), HookPreToolUse, HookEvent{Tool: "echo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != HookContinue {
		t.Fatalf("expected continue, got %s", res.Action)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected registration order [first second], got %v", order)
	}
}

func TestHookManagerAbortShortCircuits(t *testing.T) {
	m := NewHookManager()
	var secondRan bool
	m.Register(HookPreToolUse, HookHandler{Name: "aborter", Fn: func(ctx context.Context, ev HookEvent) (HookResult, error) {
		return HookResult{Action: HookAbort}, nil
	}})
	m.Register(HookPreToolUse, HookHandler{Name: "never", Fn: func(ctx context.Context, ev HookEvent) (HookResult, error) {
		secondRan = true
		return HookResult{Action: HookContinue}, nil
	}})

	_, err := m.Run(context.Background(), HookPreToolUse, HookEvent{})
	if err == nil {
		t.Fatal("expected an error from an aborting handler")
	}
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("expected *HookError, got %T", err)
	}
	if secondRan {
		t.Fatal("expected the abort to short-circuit remaining handlers")
	}
}

func TestHookManagerSkipStopsChainWithoutError(t *testing.T) {
	m := NewHookManager()
	m.Register(HookPreToolUse, HookHandler{Name: "skipper", Fn: func(ctx context.Context, ev HookEvent) (HookResult, error) {
		return HookResult{Action: HookSkip}, nil
	}})

	res, err := m.Run(context.Background(), HookPreToolUse, HookEvent{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != HookSkip {
		t.Fatalf("expected skip, got %s", res.Action)
	}
}

func TestHookManagerNonCriticalErrorIsSwallowed(t *testing.T) {
	m := NewHookManager()
	var secondRan bool
	m.Register(HookPreToolUse, HookHandler{Name: "flaky", Fn: func(ctx context.Context, ev HookEvent) (HookResult, error) {
		return HookResult{}, errors.New("boom")
	}})
	m.Register(HookPreToolUse, HookHandler{Name: "next", Fn: func(ctx context.Context, ev HookEvent) (HookResult, error) {
		secondRan = true
		return HookResult{Action: HookContinue}, nil
	}})

	_, err := m.Run(context.Background(), HookPreToolUse, HookEvent{})
	if err != nil {
		t.Fatalf("expected non-critical handler error to be swallowed, got %v", err)
	}
	if !secondRan {
		t.Fatal("expected the chain to continue past a non-critical error")
	}
}

func TestHookManagerCriticalErrorPropagates(t *testing.T) {
	m := NewHookManager()
	m.Register(HookOnError, HookHandler{Name: "critical", Critical: true, Fn: func(ctx context.Context, ev HookEvent) (HookResult, error) {
		return HookResult{}, errors.New("fatal")
	}})

	_, err := m.Run(context.Background(), HookOnError, HookEvent{})
	if err == nil {
		t.Fatal("expected a critical handler's error to propagate")
	}
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("expected *HookError, got %T", err)
	}
	if hookErr.Handler != "critical" {
		t.Fatalf("expected handler name %q, got %q", "critical", hookErr.Handler)
	}
}
