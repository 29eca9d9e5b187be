package processors

import (
	"context"
	"fmt"
	"testing"

	"screenTimeline/core"
)

// pairComparator scores consecutive frame pairs from a fixed table and
// returns 1.0 for any pair not listed.
type pairComparator struct {
	sims map[string]float64
}

func (c *pairComparator) Similarity(pathA, pathB string) (float64, error) {
	if s, ok := c.sims[pathA+"|"+pathB]; ok {
		return s, nil
	}
	return 1.0, nil
}

func testFrames(n int) []core.Frame {
	frames := make([]core.Frame, n)
	for i := range frames {
		frames[i] = core.Frame{TimestampSec: float64(i), Path: fmt.Sprintf("f%d.jpg", i)}
	}
	return frames
}

func pair(a, b int) string { return fmt.Sprintf("f%d.jpg|f%d.jpg", a, b) }

func newTestSegmenter(sims map[string]float64) *Segmenter {
	return NewSegmenter(&pairComparator{sims: sims}, SegmenterConfig{
		SimilarityThreshold: 0.85,
		MinDurationSec:      2.0,
	})
}

func TestSegmentStableVideoIsOneSegment(t *testing.T) {
	s := newTestSegmenter(nil)
	segs, err := s.Segment(context.Background(), NewFrameSeq(testFrames(10)), 10)
	if err != nil {
		t.Fatalf("Segment() failed: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Start != 0 || segs[0].End != 10 {
		t.Errorf("segment = [%v,%v], want [0,10]", segs[0].Start, segs[0].End)
	}
}

func TestSegmentCutsAtScreenChange(t *testing.T) {
	s := newTestSegmenter(map[string]float64{pair(4, 5): 0.2})
	segs, err := s.Segment(context.Background(), NewFrameSeq(testFrames(10)), 10)
	if err != nil {
		t.Fatalf("Segment() failed: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].End != 5 || segs[1].Start != 5 {
		t.Errorf("cut at %v/%v, want 5/5", segs[0].End, segs[1].Start)
	}
	// The screenshot must show the settled screen, not the change frame.
	if segs[0].ScreenshotPath != "f4.jpg" {
		t.Errorf("first screenshot = %s, want f4.jpg", segs[0].ScreenshotPath)
	}
	if segs[1].ScreenshotPath != "f9.jpg" {
		t.Errorf("second screenshot = %s, want f9.jpg", segs[1].ScreenshotPath)
	}
}

func TestSegmentMergesShortAcrossWeakerBoundary(t *testing.T) {
	// [5,6] is shorter than the 2s minimum; the boundary at 6 is weaker
	// (higher similarity) and must be the one dropped.
	s := newTestSegmenter(map[string]float64{
		pair(4, 5): 0.2,
		pair(5, 6): 0.5,
	})
	segs, err := s.Segment(context.Background(), NewFrameSeq(testFrames(10)), 10)
	if err != nil {
		t.Fatalf("Segment() failed: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].End != 5 {
		t.Errorf("kept boundary at %v, want 5", segs[0].End)
	}
}

func TestSegmentMergeTieGoesForward(t *testing.T) {
	// Equal boundary strengths: the short segment merges into the
	// following one, so the earlier boundary survives.
	s := newTestSegmenter(map[string]float64{
		pair(3, 4): 0.3,
		pair(4, 5): 0.3,
	})
	segs, err := s.Segment(context.Background(), NewFrameSeq(testFrames(10)), 10)
	if err != nil {
		t.Fatalf("Segment() failed: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].End != 4 {
		t.Errorf("kept boundary at %v, want 4", segs[0].End)
	}
}

func TestSegmentFinalShortSegmentAllowed(t *testing.T) {
	s := newTestSegmenter(map[string]float64{pair(8, 9): 0.2})
	segs, err := s.Segment(context.Background(), NewFrameSeq(testFrames(10)), 10)
	if err != nil {
		t.Fatalf("Segment() failed: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if last := segs[len(segs)-1]; last.Start != 9 || last.End != 10 {
		t.Errorf("final segment = [%v,%v], want [9,10]", last.Start, last.End)
	}
}

func TestSegmentContiguousAndOrdered(t *testing.T) {
	s := newTestSegmenter(map[string]float64{
		pair(2, 3): 0.1,
		pair(5, 6): 0.4,
		pair(7, 8): 0.6,
	})
	segs, err := s.Segment(context.Background(), NewFrameSeq(testFrames(12)), 12)
	if err != nil {
		t.Fatalf("Segment() failed: %v", err)
	}
	if segs[0].Start != 0 {
		t.Errorf("first segment starts at %v, want 0", segs[0].Start)
	}
	if last := segs[len(segs)-1]; last.End != 12 {
		t.Errorf("last segment ends at %v, want 12", last.End)
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Start != segs[i-1].End {
			t.Errorf("gap between segment %d and %d: %v != %v", i-1, i, segs[i-1].End, segs[i].Start)
		}
	}
}

func TestSegmentNoFrames(t *testing.T) {
	s := newTestSegmenter(nil)
	segs, err := s.Segment(context.Background(), NewFrameSeq(nil), 7)
	if err != nil {
		t.Fatalf("Segment() failed: %v", err)
	}
	if len(segs) != 1 || segs[0].Start != 0 || segs[0].End != 7 {
		t.Errorf("got %+v, want one [0,7] segment", segs)
	}
}
