package processors

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeAudio struct{}

func (fakeAudio) ExtractAudio(context.Context, string, string) error { return nil }

func (fakeAudio) CutChunk(context.Context, string, string, ChunkPlan) error { return nil }

// scriptedTranscriber returns per-chunk text keyed by chunk index and can
// fail a chunk a set number of times before succeeding.
type scriptedTranscriber struct {
	mu       sync.Mutex
	texts    map[int]string
	failures map[int]int
	attempts map[int]int
}

func chunkIndex(audioPath string) int {
	base := strings.TrimSuffix(filepath.Base(audioPath), ".wav")
	var i int
	fmt.Sscanf(base, "chunk_%04d", &i)
	return i
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, audioPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := chunkIndex(audioPath)
	if s.attempts == nil {
		s.attempts = map[int]int{}
	}
	s.attempts[i]++
	if s.failures[i] >= s.attempts[i] {
		return "", errors.New("transient transcription failure")
	}
	return s.texts[i], nil
}

func testAlignerConfig() AlignerConfig {
	return AlignerConfig{
		ChunkDurationSec: 30,
		OverlapSec:       2,
		MaxConcurrent:    3,
		CallTimeout:      time.Second,
		MaxAttempts:      3,
		RetryBaseDelay:   time.Millisecond,
	}
}

func TestAlignProducesGapFreeChunks(t *testing.T) {
	tr := &scriptedTranscriber{texts: map[int]string{0: "intro", 1: "middle", 2: "outro"}}
	a := NewTranscriptionAligner(tr, fakeAudio{}, testAlignerConfig())

	chunks, err := a.Align(context.Background(), "audio.wav", 70, t.TempDir())
	if err != nil {
		t.Fatalf("Align() failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Start != 0 {
		t.Errorf("first chunk starts at %v, want 0", chunks[0].Start)
	}
	if chunks[len(chunks)-1].End != 70 {
		t.Errorf("last chunk ends at %v, want 70", chunks[len(chunks)-1].End)
	}
	for i := 1; i < len(chunks); i++ {
		// Overlap reconciliation clips the earlier chunk to the later one.
		if chunks[i-1].End != chunks[i].Start {
			t.Errorf("chunks %d/%d not contiguous: %v != %v", i-1, i, chunks[i-1].End, chunks[i].Start)
		}
	}
	for i, want := range []string{"intro", "middle", "outro"} {
		if chunks[i].Text != want {
			t.Errorf("chunk %d text = %q, want %q", i, chunks[i].Text, want)
		}
		if !chunks[i].Success {
			t.Errorf("chunk %d not marked successful", i)
		}
	}
}

func TestAlignRetriesTransientFailures(t *testing.T) {
	tr := &scriptedTranscriber{
		texts:    map[int]string{0: "recovered"},
		failures: map[int]int{0: 2},
	}
	a := NewTranscriptionAligner(tr, fakeAudio{}, testAlignerConfig())

	chunks, err := a.Align(context.Background(), "audio.wav", 20, t.TempDir())
	if err != nil {
		t.Fatalf("Align() failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !chunks[0].Success || chunks[0].Text != "recovered" {
		t.Errorf("chunk = %+v, want successful %q", chunks[0], "recovered")
	}
	if got := tr.attempts[0]; got != 3 {
		t.Errorf("made %d attempts, want 3", got)
	}
}

func TestAlignKeepsFailedChunkBounds(t *testing.T) {
	tr := &scriptedTranscriber{
		texts:    map[int]string{0: "before", 2: "after"},
		failures: map[int]int{1: 100},
	}
	a := NewTranscriptionAligner(tr, fakeAudio{}, testAlignerConfig())

	chunks, err := a.Align(context.Background(), "audio.wav", 70, t.TempDir())
	if err != nil {
		t.Fatalf("Align() failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	failed := chunks[1]
	if failed.Success {
		t.Error("failed chunk marked successful")
	}
	if failed.Text != "" {
		t.Errorf("failed chunk carries text %q", failed.Text)
	}
	// The hole keeps its time bounds so correlation can tell "transcription
	// unavailable" from "no speech".
	if failed.Start >= failed.End {
		t.Errorf("failed chunk bounds collapsed: [%v,%v]", failed.Start, failed.End)
	}
	if !chunks[0].Success || !chunks[2].Success {
		t.Error("neighboring chunks should still succeed")
	}
}

func TestAlignCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &scriptedTranscriber{texts: map[int]string{}}
	a := NewTranscriptionAligner(tr, fakeAudio{}, testAlignerConfig())

	if _, err := a.Align(ctx, "audio.wav", 70, t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestAlignEmptyDuration(t *testing.T) {
	tr := &scriptedTranscriber{}
	a := NewTranscriptionAligner(tr, fakeAudio{}, testAlignerConfig())
	chunks, err := a.Align(context.Background(), "audio.wav", 0, t.TempDir())
	if err != nil {
		t.Fatalf("Align() failed: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}

func TestTrimOverlapWords(t *testing.T) {
	cases := []struct {
		prev, next, want string
	}{
		{"we open the settings panel", "settings panel and click save", "we open the"},
		{"no shared words here", "completely different text", "no shared words here"},
		{"ends with Save button", "save button next", "ends with"},
		{"", "anything", ""},
	}
	for _, c := range cases {
		if got := trimOverlapWords(c.prev, c.next); got != c.want {
			t.Errorf("trimOverlapWords(%q, %q) = %q, want %q", c.prev, c.next, got, c.want)
		}
	}
}
