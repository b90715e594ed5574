package compression

import (
	"strings"
	"testing"
)

func TestMinifyCollapsesBlankLines(t *testing.T) {
	in := "a\n\n\n\nb\n  \nc"
	out := Minify(in)
	if strings.Contains(out, "\n\n\n") {
		t.Fatalf("expected collapsed blank lines, got %q", out)
	}
}

func TestExtractKeepsHeadAndTail(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	in := strings.Join(lines, "\n")
	out := Extract(in, 0.2)
	if !strings.Contains(out, "omitted") {
		t.Fatalf("expected omission marker in output")
	}
	if len(out) >= len(in) {
		t.Fatalf("expected extract to shrink content")
	}
}

func TestSelectStrategyThresholds(t *testing.T) {
	if got := SelectStrategy(0.8); got != "extract" {
		t.Fatalf("expected extract at 0.8, got %s", got)
	}
	if got := SelectStrategy(0.5); got != "extract" {
		t.Fatalf("expected extract at 0.5, got %s", got)
	}
	if got := SelectStrategy(0.1); got != "summarize" {
		t.Fatalf("expected summarize at 0.1, got %s", got)
	}
}

func TestCompressReadKeepsHeadTailAndSignatures(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "line")
	}
	lines[20] = "func importantSignature() {"
	in := strings.Join(lines, "\n")
	out := CompressRead(in, LevelModerate)
	if !strings.Contains(out, "importantSignature") {
		t.Fatalf("expected signature line preserved, got %q", out)
	}
	if !strings.Contains(out, "omitted") {
		t.Fatalf("expected omission marker")
	}
}

func TestCompressBashPrioritizesStderrOnFailure(t *testing.T) {
	in := "exit_code: 1\nstdout:\n" + strings.Repeat("out ", 2000) + "\nstderr:\n" + strings.Repeat("err ", 2000) + "\n"
	out := CompressBash(in, LevelAggressive)
	if !strings.Contains(out, "exit_code: 1") {
		t.Fatalf("expected exit code preserved")
	}
}

func TestCompressGlobSummarizesLargeListings(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "dir/file.go")
	}
	in := strings.Join(lines, "\n")
	out := CompressGlob(in, LevelModerate)
	if !strings.Contains(out, "files total") {
		t.Fatalf("expected total count summary, got %q", out)
	}
}

func TestPipelineRoutesToToolCompressor(t *testing.T) {
	p := NewPipeline(func(s string) int { return len(s) / 4 }, nil)
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "line")
	}
	in := strings.Join(lines, "\n")
	out, rec := p.Compress(in, "read_file", 0.5, LevelFromRatio(0.5))
	if rec.Strategy != "tool:read_file" {
		t.Fatalf("expected tool-specific strategy recorded, got %s", rec.Strategy)
	}
	if len(out) >= len(in) {
		t.Fatalf("expected compression to shrink content")
	}
}
