package processors

import (
	"context"
	"fmt"
	"log"

	"screenTimeline/core"
)

// SegmenterConfig tunes screen-change detection.
type SegmenterConfig struct {
	// SimilarityThreshold in (0,1): a change boundary is declared when the
	// similarity between consecutive frames drops below it.
	SimilarityThreshold float64
	// MinDurationSec: shorter segments are absorbed into the neighbor
	// sharing the weaker visual discontinuity.
	MinDurationSec float64
}

// Segmenter converts a sampled frame sequence into an ordered, gap-free,
// non-overlapping list of visual segments spanning the full video.
type Segmenter struct {
	cmp FrameComparator
	cfg SegmenterConfig
}

func NewSegmenter(cmp FrameComparator, cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cmp: cmp, cfg: cfg}
}

// boundary is a detected cut between two consecutive sampled frames.
type boundary struct {
	atSec    float64
	strength float64 // 1 - similarity
}

// Segment walks the frame sequence, scores consecutive pairs, cuts where
// similarity drops below the threshold and merges segments shorter than the
// configured minimum. A video with no detected changes yields exactly one
// segment spanning [0, videoDur].
func (s *Segmenter) Segment(ctx context.Context, seq *FrameSeq, videoDur float64) ([]core.VisualSegment, error) {
	seq.Restart()
	frames := make([]core.Frame, 0, seq.Len())
	for {
		f, ok := seq.Next()
		if !ok {
			break
		}
		frames = append(frames, f)
	}

	var boundaries []boundary
	for i := 1; i < len(frames); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sim, err := s.cmp.Similarity(frames[i-1].Path, frames[i].Path)
		if err != nil {
			return nil, &core.DecodeError{Path: frames[i].Path, Err: err}
		}
		if sim < s.cfg.SimilarityThreshold {
			boundaries = append(boundaries, boundary{atSec: frames[i].TimestampSec, strength: 1 - sim})
		}
	}

	boundaries = s.mergeShort(boundaries, videoDur)

	segments := buildSegments(boundaries, frames, videoDur)
	log.Printf("segmenter: %d boundaries kept, %d segments over %.1fs", len(boundaries), len(segments), videoDur)
	return segments, nil
}

// mergeShort drops boundaries until every segment except possibly the final
// one is at least MinDurationSec long. A short segment is absorbed across
// its weaker boundary; on a tie it merges into the following segment.
func (s *Segmenter) mergeShort(boundaries []boundary, videoDur float64) []boundary {
	for {
		if len(boundaries) == 0 {
			return boundaries
		}
		merged := false
		for i := 0; i <= len(boundaries); i++ {
			start := 0.0
			if i > 0 {
				start = boundaries[i-1].atSec
			}
			end := videoDur
			if i < len(boundaries) {
				end = boundaries[i].atSec
			}
			if end-start >= s.cfg.MinDurationSec {
				continue
			}
			// The final segment is allowed to run short; it only absorbs
			// the stride/duration remainder.
			if i == len(boundaries) {
				continue
			}
			drop := i // drop right boundary: merge into the following segment
			if i > 0 && boundaries[i-1].strength < boundaries[i].strength {
				drop = i - 1
			}
			boundaries = append(boundaries[:drop], boundaries[drop+1:]...)
			merged = true
			break
		}
		if !merged {
			return boundaries
		}
	}
}

// buildSegments turns kept boundaries into contiguous segments and picks
// each segment's representative screenshot: the last sampled frame strictly
// before its end boundary, so the settled state is captured rather than a
// transition artifact.
func buildSegments(boundaries []boundary, frames []core.Frame, videoDur float64) []core.VisualSegment {
	cuts := make([]float64, 0, len(boundaries)+2)
	cuts = append(cuts, 0)
	for _, b := range boundaries {
		cuts = append(cuts, b.atSec)
	}
	cuts = append(cuts, videoDur)

	segments := make([]core.VisualSegment, 0, len(cuts)-1)
	for i := 0; i+1 < len(cuts); i++ {
		if cuts[i+1] <= cuts[i] && len(segments) > 0 {
			continue
		}
		seg := core.VisualSegment{Start: cuts[i], End: cuts[i+1]}
		seg.ScreenshotPath = screenshotFor(frames, seg.Start, seg.End, videoDur)
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		segments = []core.VisualSegment{{Start: 0, End: videoDur, ScreenshotPath: screenshotFor(frames, 0, videoDur, videoDur)}}
	}
	return segments
}

func screenshotFor(frames []core.Frame, start, end, videoDur float64) string {
	var pick string
	for _, f := range frames {
		if f.TimestampSec < start {
			continue
		}
		if f.TimestampSec >= end && end < videoDur {
			break
		}
		if f.TimestampSec < end || end >= videoDur {
			pick = f.Path
		}
	}
	if pick == "" && len(frames) > 0 {
		pick = frames[0].Path
	}
	return pick
}

// Validate returns an error when the configuration cannot produce a
// well-formed segmentation.
func (c SegmenterConfig) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		return fmt.Errorf("similarity threshold %v out of (0,1)", c.SimilarityThreshold)
	}
	if c.MinDurationSec <= 0 {
		return fmt.Errorf("min duration %v must be positive", c.MinDurationSec)
	}
	return nil
}
