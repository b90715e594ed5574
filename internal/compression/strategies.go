// Package compression implements the general and per-tool strategies the
// context manager applies to keep the conversation within budget: minify,
// extract, and summarize as general strategies, plus structure-aware
// compressors for common tool outputs (Read, Grep, Bash, Glob, canvas reads).
//
// Grounded on the teacher's internal/agent/engine.go maybeSummarize /
// buildSummarizedMessages (summarization-on-pressure) and
// internal/agent/memory.go's truncation helpers, generalized into a
// pluggable, tool-aware pipeline.
package compression

import (
	"strings"
)

// Level selects how aggressively a tool-aware compressor trims content.
type Level int

const (
	LevelLight Level = iota
	LevelModerate
	LevelAggressive
)

// Summarizer produces an abstractive summary of text, typically by calling
// back into an LLM. Compress falls back to Extract when summarizer is nil
// or returns an error.
type Summarizer func(text string, targetTokens int) (string, error)

// Minify strips redundant whitespace and blank lines without removing
// information, the cheapest possible compression.
func Minify(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		trimmed := strings.TrimRight(l, " \t")
		if strings.TrimSpace(trimmed) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

// Extract keeps only the first and last portions of text, replacing the
// middle with an omission marker. ratio is the fraction of the original
// length to keep in total, split evenly between head and tail.
func Extract(text string, ratio float64) string {
	if ratio <= 0 {
		ratio = 0.3
	}
	if ratio >= 1 {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= 4 {
		return text
	}
	keep := int(float64(len(lines)) * ratio)
	if keep < 2 {
		keep = 2
	}
	head := keep / 2
	tail := keep - head
	omitted := len(lines) - head - tail
	if omitted <= 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.Join(lines[:head], "\n"))
	b.WriteString("\n… ")
	b.WriteString(omittedMarker(omitted))
	b.WriteString(" …\n")
	b.WriteString(strings.Join(lines[len(lines)-tail:], "\n"))
	return b.String()
}

func omittedMarker(n int) string {
	if n == 1 {
		return "1 line omitted"
	}
	return itoa(n) + " lines omitted"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// Summarize reduces text to approximately targetTokens using summarizer,
// falling back to Extract if summarizer is nil or fails.
func Summarize(text string, targetTokens int, estimateTokens func(string) int, summarizer Summarizer) string {
	if summarizer != nil {
		if out, err := summarizer(text, targetTokens); err == nil && out != "" {
			return out
		}
	}
	current := estimateTokens(text)
	if current <= 0 || targetTokens <= 0 {
		return Extract(text, 0.3)
	}
	ratio := float64(targetTokens) / float64(current)
	return Extract(text, ratio)
}

// SelectStrategy chooses a general strategy name ("extract" or "summarize")
// given how much compression is needed, expressed as the fraction of tokens
// that must be removed (0 = none needed, 1 = remove everything): ratio >=
// 0.4 -> extract, < 0.4 -> summarize (Summarize itself falls back to
// Extract when no summarizer is available). "minify" is never selected
// here. Tool-aware content always prefers its dedicated compressor over the
// general strategies when one is registered.
func SelectStrategy(neededRatio float64) string {
	switch {
	case neededRatio >= 0.7:
		return "extract"
	case neededRatio >= 0.4:
		return "extract"
	default:
		return "summarize"
	}
}
