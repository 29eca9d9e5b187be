package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"screenTimeline/config"
	"screenTimeline/core"
	"screenTimeline/processors"
	"screenTimeline/storage"
)

// Deps are the pipeline collaborators. Tests swap them for fakes; the
// defaults shell out to ffmpeg and the configured transcription service.
type Deps struct {
	Sampler     processors.FrameSampler
	Comparator  processors.FrameComparator
	Audio       processors.AudioProcessor
	Transcriber processors.Transcriber
	Summarizer  processors.Summarizer
	Store       storage.ResultStore
	Index       storage.VectorStore
}

// DefaultDeps builds the production pipeline from config.
func DefaultDeps(cfg *config.Config, store storage.ResultStore, index storage.VectorStore) Deps {
	return Deps{
		Sampler:     processors.NewFFmpegSampler(cfg.FrameStride),
		Comparator:  processors.NewHistogramComparator(),
		Audio:       processors.FFmpegAudio{},
		Transcriber: processors.PickTranscriber(cfg),
		Summarizer:  processors.PickSummarizer(cfg),
		Store:       store,
		Index:       index,
	}
}

// Status is a point-in-time snapshot of one session.
type Status struct {
	SessionID string            `json:"session_id"`
	State     core.SessionState `json:"status"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message"`
	Error     string            `json:"error,omitempty"`
	Filename  string            `json:"video_filename,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func stateMessage(state core.SessionState, errMsg string) string {
	switch state {
	case core.StateIdle:
		return "Waiting for upload"
	case core.StateUploaded:
		return "Upload received, starting processing"
	case core.StateExtractingFrames:
		return "Extracting frames"
	case core.StateSegmenting:
		return "Detecting screen changes"
	case core.StateTranscribing:
		return "Transcribing audio"
	case core.StateCorrelating:
		return "Correlating visual and audio content"
	case core.StateCompleted:
		return "Processing complete"
	case core.StateError:
		return "Processing failed: " + errMsg
	default:
		return string(state)
	}
}

// Sensitivity holds the segmentation tunables that can be adjusted at
// runtime. Changes apply to sessions started afterwards.
type Sensitivity struct {
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MinSegmentDuration  float64 `json:"min_segment_duration"`
}

type session struct {
	id        string
	state     core.SessionState
	progress  int
	errMsg    string
	filename  string
	videoPath string
	createdAt time.Time
	updatedAt time.Time
	cancel    context.CancelFunc
}

// Orchestrator owns the session registry and drives each upload through
// the pipeline stages. All session lookups go through it.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*session
	sens     Sensitivity
}

func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		sessions: map[string]*session{},
		sens: Sensitivity{
			SimilarityThreshold: cfg.SimilarityThreshold,
			MinSegmentDuration:  cfg.MinSegmentDuration,
		},
	}
}

// CreateSession registers a new idle session and returns its ID and the
// directory the caller should place the uploaded video in.
func (o *Orchestrator) CreateSession(filename string) (string, string, error) {
	id := core.NewID()
	dir := filepath.Join(o.cfg.DataDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", &core.StorageError{Op: "create session dir", Err: err}
	}
	now := time.Now()
	o.mu.Lock()
	o.sessions[id] = &session{
		id:        id,
		state:     core.StateIdle,
		filename:  filename,
		createdAt: now,
		updatedAt: now,
	}
	o.mu.Unlock()
	return id, dir, nil
}

// Start transitions the session to uploaded and launches the pipeline in
// the background. The returned error only covers registration problems;
// processing failures surface through Status.
func (o *Orchestrator) Start(id, videoPath string) error {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	s, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("session %s: %w", id, core.ErrNotFound)
	}
	if s.state != core.StateIdle {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("session %s already started", id)
	}
	s.state = core.StateUploaded
	s.progress = 5
	s.videoPath = videoPath
	s.updatedAt = time.Now()
	s.cancel = cancel
	sens := o.sens
	o.mu.Unlock()

	go o.runPipeline(ctx, id, videoPath, sens)
	return nil
}

// Status reports the session snapshot, or core.ErrNotFound.
func (o *Orchestrator) Status(id string) (Status, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	if !ok {
		return Status{}, fmt.Errorf("session %s: %w", id, core.ErrNotFound)
	}
	return Status{
		SessionID: s.id,
		State:     s.state,
		Progress:  s.progress,
		Message:   stateMessage(s.state, s.errMsg),
		Error:     s.errMsg,
		Filename:  s.filename,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}, nil
}

// Result returns the completed timeline. A known but unfinished session
// yields core.ErrNotReady; an unknown ID falls through to the store so
// results persisted by an earlier process remain reachable.
func (o *Orchestrator) Result(ctx context.Context, id string) (*core.TimelineResult, error) {
	o.mu.RLock()
	s, ok := o.sessions[id]
	if ok && !s.state.Terminal() {
		o.mu.RUnlock()
		return nil, fmt.Errorf("session %s: %w", id, core.ErrNotReady)
	}
	if ok && s.state == core.StateError {
		o.mu.RUnlock()
		return nil, fmt.Errorf("session %s failed: %s", id, s.errMsg)
	}
	o.mu.RUnlock()
	return o.deps.Store.Get(ctx, id)
}

// Delete cancels any in-flight processing and removes the session, its
// files, its stored result and its search index entries. Idempotent.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	s, ok := o.sessions[id]
	if ok {
		if s.cancel != nil {
			s.cancel()
		}
		delete(o.sessions, id)
	}
	o.mu.Unlock()

	if err := o.deps.Store.Delete(ctx, id); err != nil {
		log.Printf("warning: deleting stored result for %s: %v", id, err)
	}
	o.deps.Index.Delete(ctx, id)
	if err := os.RemoveAll(filepath.Join(o.cfg.DataDir, id)); err != nil {
		log.Printf("warning: removing session dir for %s: %v", id, err)
	}
	return nil
}

// ActiveCount returns the number of sessions still being processed.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, s := range o.sessions {
		if !s.state.Terminal() && s.state != core.StateIdle {
			n++
		}
	}
	return n
}

// SetSensitivity clamps and applies new segmentation tunables.
func (o *Orchestrator) SetSensitivity(sens Sensitivity) Sensitivity {
	sens.SimilarityThreshold = core.Clamp(sens.SimilarityThreshold, 0.01, 0.99)
	if sens.MinSegmentDuration < 0.1 {
		sens.MinSegmentDuration = 0.1
	}
	o.mu.Lock()
	o.sens = sens
	o.mu.Unlock()
	return sens
}

func (o *Orchestrator) Sensitivity() Sensitivity {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sens
}

// setStage advances state and progress. Progress never decreases, even
// when the pipeline later fails.
func (o *Orchestrator) setStage(id string, state core.SessionState, progress int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return false
	}
	s.state = state
	if progress > s.progress {
		s.progress = progress
	}
	s.updatedAt = time.Now()
	return true
}

// fail marks the session errored, keeping the progress already made.
func (o *Orchestrator) fail(id string, err error) {
	log.Printf("session %s failed: %v", id, err)
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return
	}
	s.state = core.StateError
	s.errMsg = err.Error()
	s.updatedAt = time.Now()
}

func (o *Orchestrator) runPipeline(ctx context.Context, id, videoPath string, sens Sensitivity) {
	dir := filepath.Join(o.cfg.DataDir, id)

	if !o.setStage(id, core.StateExtractingFrames, 10) {
		return
	}
	seq, meta, err := o.deps.Sampler.Sample(ctx, videoPath, filepath.Join(dir, "frames"))
	if err != nil {
		if ctx.Err() == nil {
			o.fail(id, err)
		}
		return
	}

	if !o.setStage(id, core.StateSegmenting, 40) {
		return
	}
	seg := processors.NewSegmenter(o.deps.Comparator, processors.SegmenterConfig{
		SimilarityThreshold: sens.SimilarityThreshold,
		MinDurationSec:      sens.MinSegmentDuration,
	})
	visual, err := seg.Segment(ctx, seq, meta.DurationSec)
	if err != nil {
		if ctx.Err() == nil {
			o.fail(id, err)
		}
		return
	}

	if !o.setStage(id, core.StateTranscribing, 70) {
		return
	}
	chunks, hasAudio, err := o.transcribe(ctx, id, videoPath, meta.DurationSec, dir)
	if err != nil {
		if ctx.Err() == nil {
			o.fail(id, err)
		}
		return
	}

	if !o.setStage(id, core.StateCorrelating, 90) {
		return
	}
	corrCfg := processors.DefaultCorrelatorConfig()
	corrCfg.SummarizeTimeout = time.Duration(o.cfg.SummarizeSecs) * time.Second
	correlator := processors.NewContentCorrelator(o.deps.Summarizer, corrCfg)
	segments, err := correlator.Correlate(ctx, visual, chunks, hasAudio)
	if err != nil {
		if ctx.Err() == nil {
			o.fail(id, err)
		}
		return
	}

	res := &core.TimelineResult{
		SessionID:   id,
		Meta:        meta,
		Segments:    segments,
		ProcessedAt: time.Now(),
	}
	res.ComputeStats()
	if err := o.deps.Store.Save(ctx, res); err != nil {
		if ctx.Err() == nil {
			o.fail(id, err)
		}
		return
	}
	// Search indexing is best-effort: the timeline is already saved.
	if n := o.deps.Index.Upsert(ctx, id, segments); n < len(segments) {
		log.Printf("session %s: indexed %d of %d segments", id, n, len(segments))
	}

	if !o.setStage(id, core.StateCompleted, 100) {
		// The session was deleted while the result was being written, after
		// Delete already purged the store. Remove what just landed so the
		// deleted ID cannot serve a timeline again. ctx is cancelled here,
		// so the cleanup runs on its own context.
		cleanup := context.Background()
		o.deps.Index.Delete(cleanup, id)
		if err := o.deps.Store.Delete(cleanup, id); err != nil {
			log.Printf("warning: deleting stored result for %s: %v", id, err)
		}
		return
	}
	log.Printf("session %s completed: %d segments over %.1fs", id, len(segments), meta.DurationSec)
}

// transcribe extracts the audio track and aligns chunked transcription.
// A missing audio track is not an error: the session continues visual-only.
func (o *Orchestrator) transcribe(ctx context.Context, id, videoPath string, duration float64, dir string) ([]core.TranscriptChunk, bool, error) {
	audioPath := filepath.Join(dir, "audio.wav")
	if err := o.deps.Audio.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		if errors.Is(err, core.ErrNoAudioTrack) {
			log.Printf("session %s: no audio track, continuing visual-only", id)
			return nil, false, nil
		}
		return nil, false, err
	}

	aligner := processors.NewTranscriptionAligner(o.deps.Transcriber, o.deps.Audio, processors.AlignerConfig{
		ChunkDurationSec: o.cfg.ChunkDuration,
		OverlapSec:       o.cfg.ChunkOverlap,
		MaxConcurrent:    o.cfg.MaxConcurrent,
		CallTimeout:      time.Duration(o.cfg.TranscribeSecs) * time.Second,
		MaxAttempts:      o.cfg.MaxRetries,
		RetryBaseDelay:   time.Duration(o.cfg.RetryBaseMS) * time.Millisecond,
	})
	chunks, err := aligner.Align(ctx, audioPath, duration, filepath.Join(dir, "chunks"))
	if err != nil {
		return nil, true, err
	}
	return chunks, true, nil
}
