package processors

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"screenTimeline/core"
)

// AlignerConfig tunes chunked transcription and reconciliation.
type AlignerConfig struct {
	ChunkDurationSec float64
	OverlapSec       float64
	// MaxConcurrent caps in-flight transcription calls; unbounded fan-out
	// would trip external rate limits.
	MaxConcurrent  int
	CallTimeout    time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// TranscriptionAligner produces a single ordered chunk sequence covering
// [0, duration] with no time gaps. A chunk that exhausts its retries is
// emitted with Success=false instead of failing the job.
type TranscriptionAligner struct {
	tr    Transcriber
	audio AudioProcessor
	cfg   AlignerConfig
}

func NewTranscriptionAligner(tr Transcriber, audio AudioProcessor, cfg AlignerConfig) *TranscriptionAligner {
	return &TranscriptionAligner{tr: tr, audio: audio, cfg: cfg}
}

// Align cuts the audio into overlapping chunks, transcribes them with
// bounded parallelism and reconciles the overlaps. Only cancellation
// produces an error.
func (a *TranscriptionAligner) Align(ctx context.Context, audioPath string, duration float64, chunkDir string) ([]core.TranscriptChunk, error) {
	plans := PlanChunks(duration, a.cfg.ChunkDurationSec, a.cfg.OverlapSec)
	if len(plans) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return nil, err
	}

	chunks := make([]core.TranscriptChunk, len(plans))
	sem := make(chan struct{}, a.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i, p := range plans {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, p ChunkPlan) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			chunks[i] = a.transcribeChunk(ctx, audioPath, chunkDir, p)
		}(i, p)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reconcile(chunks)
	return chunks, nil
}

func (a *TranscriptionAligner) transcribeChunk(ctx context.Context, audioPath, chunkDir string, p ChunkPlan) core.TranscriptChunk {
	chunk := core.TranscriptChunk{Start: p.Start, End: p.End}

	out := ChunkPath(chunkDir, p)
	if err := a.audio.CutChunk(ctx, audioPath, out, p); err != nil {
		log.Printf("cut chunk %d failed: %v", p.Index, err)
		return chunk
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return chunk
		}
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		text, err := a.tr.Transcribe(callCtx, out)
		cancel()
		if err == nil {
			chunk.Text = strings.TrimSpace(text)
			chunk.Success = true
			return chunk
		}
		lastErr = err
		if attempt < a.cfg.MaxAttempts {
			backoff := a.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return chunk
			}
		}
	}
	terr := &core.TranscriptionError{Start: p.Start, End: p.End, Attempts: a.cfg.MaxAttempts, Err: lastErr}
	log.Printf("%v", terr)
	return chunk
}

// reconcile resolves the planned overlap between consecutive chunks by
// preferring the later chunk: the earlier chunk's end is clipped to the
// later chunk's start and words already repeated at the boundary are
// stripped from the earlier chunk's tail.
func reconcile(chunks []core.TranscriptChunk) {
	for i := 1; i < len(chunks); i++ {
		prev, cur := &chunks[i-1], &chunks[i]
		if prev.End <= cur.Start {
			continue
		}
		prev.End = cur.Start
		if prev.Success && cur.Success {
			prev.Text = trimOverlapWords(prev.Text, cur.Text)
		}
	}
}

// trimOverlapWords removes the longest word suffix of prev that the next
// chunk's text starts with, so the overlap span is voiced only once.
func trimOverlapWords(prev, next string) string {
	pw := strings.Fields(prev)
	nw := strings.Fields(next)
	maxK := len(pw)
	if len(nw) < maxK {
		maxK = len(nw)
	}
	for k := maxK; k > 0; k-- {
		match := true
		for j := 0; j < k; j++ {
			if !strings.EqualFold(normalizeWord(pw[len(pw)-k+j]), normalizeWord(nw[j])) {
				match = false
				break
			}
		}
		if match {
			return strings.Join(pw[:len(pw)-k], " ")
		}
	}
	return prev
}

func normalizeWord(w string) string {
	return strings.Trim(strings.ToLower(w), ".,!?;:\"'")
}
