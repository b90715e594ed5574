// Package tokens estimates token counts and tracks a session's token budget.
//
// Grounded on the teacher's internal/llm.Tokenizer/EstimateTokens heuristic
// and internal/agent/engine.go's countTokens/countMessagesTokens fallback
// chain (accurate tokenizer when available, chars/4 heuristic otherwise).
package tokens

import (
	"context"
	"unicode/utf8"

	"toadcore/internal/llm"
	"toadcore/internal/observability"
)

// roleOverhead approximates the per-message formatting cost (role marker,
// separators) added on top of raw content when no accurate tokenizer is
// wired in: system/user/assistant messages cost ~3 tokens of framing, tool
// messages ~5 (name + call-id + status wrapper).
const (
	roleOverheadDefault = 3
	roleOverheadTool    = 5
)

// imageOverhead is the fixed per-image token cost charged when a provider
// does not expose an accurate multimodal tokenizer.
const imageOverhead = 1000

// multiByteSurcharge is added on top of the plain chars/4 estimate when a
// string contains multi-byte UTF-8 sequences, approximating the extra
// tokens non-ASCII text tends to cost real BPE tokenizers.
const multiByteSurcharge = 0.08

// Estimator counts tokens for text and messages, preferring an accurate
// provider tokenizer when one is attached and falling back to the chars/4
// heuristic otherwise.
type Estimator struct {
	tokenizer llm.Tokenizer
}

// NewEstimator returns an Estimator. tokenizer may be nil, in which case all
// counts use the heuristic.
func NewEstimator(tokenizer llm.Tokenizer) *Estimator {
	return &Estimator{tokenizer: tokenizer}
}

// Attach wires an accurate tokenizer in after construction (e.g. once a
// provider has been selected).
func (e *Estimator) Attach(tokenizer llm.Tokenizer) { e.tokenizer = tokenizer }

// EstimateChars implements the reference heuristic: ceil(len/4) for ASCII
// text, plus ~8% for strings containing multi-byte sequences. It never
// consults a tokenizer and is deterministic and monotone in input length.
func EstimateChars(text string) int {
	if text == "" {
		return 0
	}
	n := len(text)
	base := (n + 3) / 4
	if utf8.RuneCountInString(text) != n {
		base = int(float64(base)*(1+multiByteSurcharge) + 0.999999)
	}
	if base < 1 {
		base = 1
	}
	return base
}

// CountText returns the token count for a single string.
func (e *Estimator) CountText(ctx context.Context, text string) int {
	if e.tokenizer == nil {
		return EstimateChars(text)
	}
	n, err := e.tokenizer.CountTokens(ctx, text)
	if err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Msg("tokenizer_count_failed_using_heuristic")
		return EstimateChars(text)
	}
	return n
}

// roleOverhead returns the per-message framing cost for a role.
func roleOverhead(role string) int {
	if role == "tool" {
		return roleOverheadTool
	}
	return roleOverheadDefault
}

// CountMessages returns the token count for a conversation: per-message
// content (tokenizer-accurate when available, heuristic otherwise) plus
// role overhead plus a fixed cost per attached image block.
func (e *Estimator) CountMessages(ctx context.Context, msgs []llm.Message) int {
	var total int
	for _, m := range msgs {
		total += e.CountText(ctx, m.Content)
		total += roleOverhead(m.Role)
		total += imageOverhead * len(m.Images)
	}
	return total
}
