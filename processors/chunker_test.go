package processors

import (
	"math"
	"testing"
)

func TestPlanChunksCoversDuration(t *testing.T) {
	plans := PlanChunks(95, 30, 2)
	if len(plans) == 0 {
		t.Fatal("expected chunks for a 95s video")
	}
	if plans[0].Start != 0 {
		t.Errorf("first chunk starts at %v, want 0", plans[0].Start)
	}
	last := plans[len(plans)-1]
	if last.End != 95 {
		t.Errorf("last chunk ends at %v, want 95", last.End)
	}
	for i := 1; i < len(plans); i++ {
		// Consecutive chunks must overlap by the configured amount, so no
		// instant of audio is skipped.
		if plans[i].Start >= plans[i-1].End {
			t.Errorf("gap between chunk %d (end %v) and chunk %d (start %v)",
				i-1, plans[i-1].End, i, plans[i].Start)
		}
		want := plans[i-1].Start + 28
		if math.Abs(plans[i].Start-want) > 1e-9 {
			t.Errorf("chunk %d starts at %v, want %v", i, plans[i].Start, want)
		}
	}
}

func TestPlanChunksShortVideo(t *testing.T) {
	plans := PlanChunks(10, 30, 2)
	if len(plans) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(plans))
	}
	if plans[0].Start != 0 || plans[0].End != 10 {
		t.Errorf("chunk = [%v,%v], want [0,10]", plans[0].Start, plans[0].End)
	}
}

func TestPlanChunksExactMultiple(t *testing.T) {
	plans := PlanChunks(30, 30, 2)
	if len(plans) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(plans))
	}
}

func TestPlanChunksInvalidInput(t *testing.T) {
	if plans := PlanChunks(0, 30, 2); plans != nil {
		t.Errorf("zero duration: got %v, want nil", plans)
	}
	if plans := PlanChunks(100, 30, 30); plans != nil {
		t.Errorf("overlap == chunk: got %v, want nil", plans)
	}
	if plans := PlanChunks(100, 0, 0); plans != nil {
		t.Errorf("zero chunk duration: got %v, want nil", plans)
	}
}
