package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"screenTimeline/core"
)

// ReportExporter renders a completed timeline into a downloadable file and
// returns the file name inside the export directory.
type ReportExporter interface {
	Export(res *core.TimelineResult) (string, error)
}

// TextReportExporter writes a plain-text report, one block per segment.
type TextReportExporter struct {
	ExportDir string
}

func (e *TextReportExporter) Export(res *core.TimelineResult) (string, error) {
	if err := os.MkdirAll(e.ExportDir, 0755); err != nil {
		return "", &core.StorageError{Op: "export", Err: err}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Screen Recording Timeline Report\n")
	fmt.Fprintf(&b, "================================\n\n")
	fmt.Fprintf(&b, "Session:  %s\n", res.SessionID)
	fmt.Fprintf(&b, "Video:    %s\n", res.Meta.Filename)
	fmt.Fprintf(&b, "Duration: %s\n", core.FormatClock(res.Meta.DurationSec))
	fmt.Fprintf(&b, "Segments: %d (avg %.1fs)\n\n", res.Stats.TotalSegments, res.Stats.AvgSegmentDuration)

	for _, seg := range res.Segments {
		fmt.Fprintf(&b, "[%d] %s\n", seg.ID, seg.FormattedTimeRange())
		fmt.Fprintf(&b, "    Screen:     %s\n", seg.ScreenDescription)
		fmt.Fprintf(&b, "    Confidence: %.0f%%\n", seg.Confidence)
		switch seg.TranscriptStatus {
		case core.TranscriptOK:
			if seg.Summary != "" {
				fmt.Fprintf(&b, "    Summary:    %s\n", seg.Summary)
			}
			if len(seg.KeyTopics) > 0 {
				fmt.Fprintf(&b, "    Topics:     %s\n", strings.Join(seg.KeyTopics, ", "))
			}
			fmt.Fprintf(&b, "    Transcript: %s\n", seg.Transcript)
		case core.TranscriptUnavailable:
			fmt.Fprintf(&b, "    Transcript: unavailable (transcription failed)\n")
		default:
			fmt.Fprintf(&b, "    Transcript: none\n")
		}
		b.WriteString("\n")
	}

	name := fmt.Sprintf("%s_timeline.txt", res.SessionID)
	if err := os.WriteFile(filepath.Join(e.ExportDir, name), []byte(b.String()), 0644); err != nil {
		return "", &core.StorageError{Op: "export", Err: err}
	}
	return name, nil
}
