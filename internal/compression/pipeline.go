package compression

// Record describes one compression operation applied to a piece of content,
// returned alongside the compressed text so callers can log/emit events.
type Record struct {
	Strategy      string
	ToolName      string
	OriginalChars int
	ResultChars   int
}

// Pipeline selects and applies a compression strategy to a single piece of
// content, preferring a registered tool-aware compressor over the general
// strategies whenever toolName is non-empty and known.
type Pipeline struct {
	Summarizer     Summarizer
	EstimateTokens func(string) int
}

// NewPipeline builds a Pipeline. estimateTokens is required for the
// summarize strategy's fallback sizing; summarizer may be nil.
func NewPipeline(estimateTokens func(string) int, summarizer Summarizer) *Pipeline {
	return &Pipeline{Summarizer: summarizer, EstimateTokens: estimateTokens}
}

// Compress reduces content by neededRatio (fraction of current size that
// must be removed). toolName, when non-empty and registered, routes to a
// dedicated compressor regardless of the general strategy that would
// otherwise have been selected. level only affects tool-aware compressors.
func (p *Pipeline) Compress(content, toolName string, neededRatio float64, level Level) (string, Record) {
	original := len(content)

	if toolName != "" {
		if _, ok := registry[toolName]; ok {
			out := registry[toolName](content, level)
			return out, Record{Strategy: "tool:" + toolName, ToolName: toolName, OriginalChars: original, ResultChars: len(out)}
		}
	}

	strategy := SelectStrategy(neededRatio)
	var out string
	switch strategy {
	case "minify":
		out = Minify(content)
	case "summarize":
		target := p.EstimateTokens(content)
		if target > 0 {
			target = int(float64(target) * (1 - neededRatio))
		}
		out = Summarize(content, target, p.EstimateTokens, p.Summarizer)
	default:
		out = Extract(content, 1-neededRatio)
	}
	return out, Record{Strategy: strategy, ToolName: toolName, OriginalChars: original, ResultChars: len(out)}
}

// LevelFromRatio maps a needed-compression ratio to a tool-aware
// aggressiveness level: >=0.7 aggressive, >=0.4 moderate, else light.
func LevelFromRatio(neededRatio float64) Level {
	switch {
	case neededRatio >= 0.7:
		return LevelAggressive
	case neededRatio >= 0.4:
		return LevelModerate
	default:
		return LevelLight
	}
}
