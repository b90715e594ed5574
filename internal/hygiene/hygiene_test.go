package hygiene

import (
	"testing"
	"time"

	"toadcore/internal/memory"
)

func TestStageForThresholds(t *testing.T) {
	cases := []struct {
		age  int
		want memory.AgeStage
	}{
		{0, memory.AgeFresh},
		{4, memory.AgeFresh},
		{5, memory.AgeAgeing},
		{9, memory.AgeAgeing},
		{10, memory.AgeStale},
		{19, memory.AgeStale},
		{20, memory.AgeArchived},
	}
	for _, c := range cases {
		if got := StageFor(c.age); got != c.want {
			t.Fatalf("StageFor(%d) = %s, want %s", c.age, got, c.want)
		}
	}
}

func TestTrackerTicksAdvanceAge(t *testing.T) {
	tr := NewTracker()
	tr.Track("m1")
	for i := 0; i < 10; i++ {
		tr.Tick()
	}
	if tr.Age("m1") != 10 {
		t.Fatalf("expected age 10, got %d", tr.Age("m1"))
	}
	if tr.Stage("m1") != memory.AgeStale {
		t.Fatalf("expected stale stage, got %s", tr.Stage("m1"))
	}
}

func TestEchoDetectorFlagsRepeatedFailures(t *testing.T) {
	d := NewEchoDetector(time.Minute, 2)
	if c := d.Record("run_cli", "permission denied"); c != nil {
		t.Fatalf("expected no correction on first occurrence, got %+v", c)
	}
	c := d.Record("run_cli", "permission denied")
	if c == nil {
		t.Fatalf("expected correction on second occurrence")
	}
	if c.Type != CorrectionRepeatedError {
		t.Fatalf("expected repeated_error correction, got %s", c.Type)
	}
}

func TestEchoDetectorDistinguishesErrorStrings(t *testing.T) {
	d := NewEchoDetector(time.Minute, 2)
	d.Record("run_cli", "error A")
	if c := d.Record("run_cli", "error B"); c != nil {
		t.Fatalf("expected distinct errors to not trigger a loop correction, got %+v", c)
	}
}

func TestCorrectionQueueFormatAndDrain(t *testing.T) {
	q := NewCorrectionQueue()
	q.Push(&Correction{Type: CorrectionStaleState, Detail: "state changed"})
	out := q.Format()
	if out == "" {
		t.Fatalf("expected non-empty formatted correction")
	}
	if again := q.Format(); again != "" {
		t.Fatalf("expected queue to be drained after Format, got %q", again)
	}
}
