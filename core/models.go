package core

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of one processing session.
type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateUploaded         SessionState = "uploaded"
	StateExtractingFrames SessionState = "extracting_frames"
	StateSegmenting       SessionState = "segmenting"
	StateTranscribing     SessionState = "transcribing"
	StateCorrelating      SessionState = "correlating"
	StateCompleted        SessionState = "completed"
	StateError            SessionState = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// TranscriptStatus tells callers why a segment's transcript looks the way it does.
type TranscriptStatus string

const (
	// TranscriptOK means the transcript text covers the segment.
	TranscriptOK TranscriptStatus = "ok"
	// TranscriptUnavailable means audio exists but transcription failed for
	// every chunk overlapping the segment.
	TranscriptUnavailable TranscriptStatus = "unavailable"
	// TranscriptNone means the video has no speech evidence for the segment.
	TranscriptNone TranscriptStatus = "none"
)

// Frame is one sampled video frame.
type Frame struct {
	TimestampSec float64 `json:"timestamp_sec"`
	Path         string  `json:"path"`
}

// VideoMeta describes the source video of a session.
type VideoMeta struct {
	Filename    string  `json:"video_filename"`
	DurationSec float64 `json:"duration_sec"`
	FrameRate   float64 `json:"frame_rate"`
}

// VisualSegment is a time interval of visually stable screen content.
// Segments produced by the segmenter are contiguous, non-overlapping and
// cover [0, video duration].
type VisualSegment struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	ScreenshotPath string  `json:"screenshot_path"`
}

func (v VisualSegment) Duration() float64 { return v.End - v.Start }

// TranscriptChunk is one time-bounded slice of the transcript. A failed
// chunk keeps its bounds with Success=false and empty text so downstream
// stages can tell "no speech" from "transcription unavailable".
type TranscriptChunk struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Success bool    `json:"success"`
}

func (c TranscriptChunk) Duration() float64 { return c.End - c.Start }

// TimelineSegment is the final correlated unit: a visual segment paired
// with the speech discussed during it. Immutable once created.
type TimelineSegment struct {
	ID                int              `json:"id"`
	Start             float64          `json:"start_time"`
	End               float64          `json:"end_time"`
	ScreenshotPath    string           `json:"screenshot_path"`
	Transcript        string           `json:"transcript"`
	TranscriptStatus  TranscriptStatus `json:"transcript_status"`
	Summary           string           `json:"summary"`
	KeyTopics         []string         `json:"key_topics"`
	ScreenDescription string           `json:"screen_description"`
	// Confidence is a 0-100 measure of how well the transcript evidence
	// supports the segment's content.
	Confidence float64 `json:"confidence_score"`
}

func (t TimelineSegment) Duration() float64 { return t.End - t.Start }

// FormattedTimeRange renders the segment window as HH:MM:SS - HH:MM:SS.
func (t TimelineSegment) FormattedTimeRange() string {
	return fmt.Sprintf("%s - %s", FormatClock(t.Start), FormatClock(t.End))
}

// TimelineStats are aggregate numbers over one timeline.
type TimelineStats struct {
	TotalSegments      int     `json:"total_segments"`
	TotalDurationSec   float64 `json:"total_duration_sec"`
	AvgSegmentDuration float64 `json:"avg_segment_duration_sec"`
}

// TimelineResult is the unit returned to callers and persisted for later
// retrieval and export.
type TimelineResult struct {
	SessionID   string            `json:"session_id"`
	Meta        VideoMeta         `json:"metadata"`
	Segments    []TimelineSegment `json:"timeline_segments"`
	Stats       TimelineStats     `json:"stats"`
	ProcessedAt time.Time         `json:"processed_at"`
}

// ComputeStats fills Stats from the segment list.
func (r *TimelineResult) ComputeStats() {
	r.Stats = TimelineStats{TotalSegments: len(r.Segments)}
	if len(r.Segments) == 0 {
		return
	}
	var total float64
	for _, s := range r.Segments {
		total += s.Duration()
	}
	r.Stats.TotalDurationSec = r.Segments[len(r.Segments)-1].End
	r.Stats.AvgSegmentDuration = total / float64(len(r.Segments))
}

// Hit is one search result over stored timeline segments.
type Hit struct {
	Score     float64 `json:"score"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
	Summary   string  `json:"summary"`
	FramePath string  `json:"frame_path"`
}
