package tokens

import (
	"context"
	"testing"

	"toadcore/internal/llm"
)

func TestEstimateCharsASCIIIsDeterministicAndMonotone(t *testing.T) {
	a := EstimateChars("hello world")
	b := EstimateChars("hello world")
	if a != b {
		t.Fatalf("expected deterministic output, got %d then %d", a, b)
	}
	shorter := EstimateChars("hi")
	longer := EstimateChars("hello world, this is longer")
	if !(shorter < longer) {
		t.Fatalf("expected monotone increase with length, got %d >= %d", shorter, longer)
	}
}

func TestEstimateCharsMultiByteSurcharge(t *testing.T) {
	ascii := "aaaaaaaaaa"
	multiByte := "日本語のテキスト"
	if EstimateChars(multiByte) <= 0 {
		t.Fatalf("expected positive estimate for multi-byte text")
	}
	plain := (len(multiByte) + 3) / 4
	if got := EstimateChars(multiByte); got <= plain {
		t.Fatalf("expected surcharge above plain chars/4 estimate %d, got %d", plain, got)
	}
	_ = ascii
}

func TestCountMessagesAppliesRoleOverheadAndImageCost(t *testing.T) {
	e := NewEstimator(nil)
	ctx := context.Background()

	toolMsg := []llm.Message{{Role: "tool", Content: "ok"}}
	userMsg := []llm.Message{{Role: "user", Content: "ok"}}
	toolTotal := e.CountMessages(ctx, toolMsg)
	userTotal := e.CountMessages(ctx, userMsg)
	if toolTotal <= userTotal {
		t.Fatalf("expected tool overhead (%d) > user overhead (%d)", toolTotal, userTotal)
	}

	withImage := []llm.Message{{Role: "user", Content: "ok", Images: []llm.GeneratedImage{{Data: []byte{1}, MIMEType: "image/png"}}}}
	withImageTotal := e.CountMessages(ctx, withImage)
	if withImageTotal < userTotal+imageOverhead {
		t.Fatalf("expected image overhead of %d added, got delta %d", imageOverhead, withImageTotal-userTotal)
	}
}
