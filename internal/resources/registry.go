package resources

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ResolveResult is what a Definition's Resolve function returns: a short
// summary form suitable for inline substitution, a full value for callers
// that want the raw data, and the estimated token cost of the context form.
type ResolveResult struct {
	Summary       string
	Value         any
	TokenEstimate int
}

// ResolveFunc resolves one alias occurrence against live state.
type ResolveFunc func(ctx context.Context, args []string) (ResolveResult, error)

// Definition registers a resolver under an alias name.
type Definition struct {
	Name    string
	Resolve ResolveFunc
	Timeout time.Duration // 0 = no per-alias timeout
}

// Registry holds named resource Definitions and resolves parsed Matches
// against them, bounded by a token budget and optional per-alias timeouts.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]Definition)}
}

// Register adds or replaces a Definition.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[d.Name] = d
}

// Lookup returns the Definition registered under name and whether one was
// found.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[name]
	return d, ok
}

// Resolved pairs a parsed Match with its resolution outcome.
type Resolved struct {
	Match  Match
	Result ResolveResult
	Err    error
}

// ResolveAll resolves every Match in matches against the registry,
// respecting a total token budget: resolution stops admitting further
// results once the budget is exhausted, and by default continues past
// individual resolver errors (continueOnError), collecting them for the
// caller rather than aborting the whole batch.
func (r *Registry) ResolveAll(ctx context.Context, matches []Match, tokenBudget int, continueOnError bool) []Resolved {
	out := make([]Resolved, 0, len(matches))
	spent := 0
	for _, m := range matches {
		if !m.Valid {
			out = append(out, Resolved{Match: m, Err: fmt.Errorf("resources: invalid alias %q", m.Raw)})
			continue
		}
		def, ok := r.Lookup(m.Name)
		if !ok {
			err := fmt.Errorf("resources: unknown alias %q", m.Name)
			out = append(out, Resolved{Match: m, Err: err})
			if !continueOnError {
				return out
			}
			continue
		}

		res, err := resolveOne(ctx, def, m.Args)
		if err != nil {
			out = append(out, Resolved{Match: m, Err: err})
			if !continueOnError {
				return out
			}
			continue
		}
		if tokenBudget > 0 && spent+res.TokenEstimate > tokenBudget {
			out = append(out, Resolved{Match: m, Err: fmt.Errorf("resources: resolving %q would exceed token budget", m.Raw)})
			continue
		}
		spent += res.TokenEstimate
		out = append(out, Resolved{Match: m, Result: res})
	}
	return out
}

func resolveOne(ctx context.Context, def Definition, args []string) (ResolveResult, error) {
	if def.Timeout <= 0 {
		return def.Resolve(ctx, args)
	}
	cctx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	type res struct {
		r   ResolveResult
		err error
	}
	ch := make(chan res, 1)
	go func() {
		r, err := def.Resolve(cctx, args)
		ch <- res{r, err}
	}()
	select {
	case out := <-ch:
		return out.r, out.err
	case <-cctx.Done():
		return ResolveResult{}, fmt.Errorf("resources: resolving %q timed out: %w", def.Name, cctx.Err())
	}
}

// Rewrite replaces every resolved Match's Raw occurrence in text with its
// summary form (or, for unresolved/erroring matches, leaves the original
// text untouched so the model sees its own unexpanded reference).
func Rewrite(text string, resolved []Resolved) string {
	if len(resolved) == 0 {
		return text
	}
	var b []byte
	last := 0
	for _, r := range resolved {
		if r.Err != nil {
			continue
		}
		b = append(b, text[last:r.Match.Start]...)
		b = append(b, r.Result.Summary...)
		last = r.Match.End
	}
	b = append(b, text[last:]...)
	return string(b)
}
