package processors

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"screenTimeline/core"
)

// CorrelatorConfig fixes the confidence contract: scores are 0-100 and
// monotonically related to transcript coverage, and a segment without a
// successful overlapping chunk can never reach the transcribed band.
type CorrelatorConfig struct {
	// VisualOnlyConfidence applies when the video carries no speech
	// evidence for the segment.
	VisualOnlyConfidence float64
	// UnavailableConfidence applies when audio exists but transcription
	// failed for every overlapping chunk.
	UnavailableConfidence float64
	// Transcribed segments score Floor + (Ceil-Floor) * coverage where
	// coverage is the fraction of the segment covered by successful chunks.
	TranscribedFloor float64
	TranscribedCeil  float64
	SummarizeTimeout time.Duration
}

func DefaultCorrelatorConfig() CorrelatorConfig {
	return CorrelatorConfig{
		VisualOnlyConfidence:  30,
		UnavailableConfidence: 15,
		TranscribedFloor:      50,
		TranscribedCeil:       95,
		SummarizeTimeout:      60 * time.Second,
	}
}

// ContentCorrelator merges visual segments with overlapping transcript
// chunks into final timeline segments.
type ContentCorrelator struct {
	sum Summarizer
	cfg CorrelatorConfig
}

func NewContentCorrelator(sum Summarizer, cfg CorrelatorConfig) *ContentCorrelator {
	return &ContentCorrelator{sum: sum, cfg: cfg}
}

// Correlate builds one timeline segment per visual segment. Summarization
// failures degrade the segment (empty summary and topics) without failing
// the job; only cancellation produces an error.
func (c *ContentCorrelator) Correlate(ctx context.Context, visual []core.VisualSegment, chunks []core.TranscriptChunk, hasAudio bool) ([]core.TimelineSegment, error) {
	log.Printf("correlating %d visual segments with %d transcript chunks", len(visual), len(chunks))
	out := make([]core.TimelineSegment, 0, len(visual))
	for i, vs := range visual {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := core.TimelineSegment{
			ID:             i + 1,
			Start:          vs.Start,
			End:            vs.End,
			ScreenshotPath: vs.ScreenshotPath,
			KeyTopics:      []string{},
		}
		c.fill(ctx, &seg, chunks, hasAudio)
		out = append(out, seg)
	}
	return out, nil
}

func (c *ContentCorrelator) fill(ctx context.Context, seg *core.TimelineSegment, chunks []core.TranscriptChunk, hasAudio bool) {
	if !hasAudio {
		seg.TranscriptStatus = core.TranscriptNone
		seg.Confidence = c.cfg.VisualOnlyConfidence
		seg.ScreenDescription = DescribeScreen("")
		return
	}

	overlapping := overlappingChunks(chunks, seg.Start, seg.End)
	transcript, covered, sawFailed := joinTranscript(overlapping, seg.Start, seg.End)
	seg.Transcript = transcript

	switch {
	case transcript == "" && sawFailed:
		// Audio was there but no overlapping chunk survived transcription.
		seg.TranscriptStatus = core.TranscriptUnavailable
		seg.Confidence = c.cfg.UnavailableConfidence
		seg.ScreenDescription = DescribeScreen("")
	case transcript == "":
		// Covered by successful chunks that heard nothing: silence.
		seg.TranscriptStatus = core.TranscriptNone
		seg.Confidence = c.cfg.VisualOnlyConfidence
		seg.ScreenDescription = DescribeScreen("")
	default:
		seg.TranscriptStatus = core.TranscriptOK
		coverage := core.Clamp(covered/seg.Duration(), 0, 1)
		seg.Confidence = c.cfg.TranscribedFloor + (c.cfg.TranscribedCeil-c.cfg.TranscribedFloor)*coverage
		seg.ScreenDescription = DescribeScreen(transcript)
		c.summarize(ctx, seg, transcript)
	}
}

func (c *ContentCorrelator) summarize(ctx context.Context, seg *core.TimelineSegment, transcript string) {
	sumCtx, cancel := context.WithTimeout(ctx, c.cfg.SummarizeTimeout)
	defer cancel()
	s, err := c.sum.Summarize(sumCtx, transcript)
	if err != nil {
		// Degrade, never fail the session over a summary.
		log.Printf("segment %d summarization failed: %v", seg.ID, err)
		return
	}
	seg.Summary = s.Summary
	if len(s.Topics) > 0 {
		seg.KeyTopics = dedupeTopics(s.Topics)
	}
}

// overlappingChunks returns chunks whose [start,end) window intersects the
// segment's, in time order.
func overlappingChunks(chunks []core.TranscriptChunk, start, end float64) []core.TranscriptChunk {
	var out []core.TranscriptChunk
	for _, ch := range chunks {
		if ch.Start < end && ch.End > start {
			out = append(out, ch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// joinTranscript concatenates successful overlapping text in time order and
// measures how much of the window successful chunks actually cover.
func joinTranscript(chunks []core.TranscriptChunk, start, end float64) (text string, covered float64, sawFailed bool) {
	var parts []string
	for _, ch := range chunks {
		if !ch.Success {
			sawFailed = true
			continue
		}
		oStart, oEnd := ch.Start, ch.End
		if oStart < start {
			oStart = start
		}
		if oEnd > end {
			oEnd = end
		}
		if oEnd > oStart {
			covered += oEnd - oStart
		}
		if t := strings.TrimSpace(ch.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), covered, sawFailed
}
