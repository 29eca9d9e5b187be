package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"screenTimeline/core"
)

func TestTextReportExporter(t *testing.T) {
	dir := t.TempDir()
	res := &core.TimelineResult{
		SessionID: "sess-report",
		Meta:      core.VideoMeta{Filename: "demo.mp4", DurationSec: 90},
		Segments: []core.TimelineSegment{
			{
				ID:                1,
				Start:             0,
				End:               45,
				Transcript:        "introducing the quarterly dashboard",
				TranscriptStatus:  core.TranscriptOK,
				Summary:           "Dashboard intro",
				KeyTopics:         []string{"Dashboard", "Metrics"},
				ScreenDescription: "Dashboard",
				Confidence:        95,
			},
			{
				ID:                2,
				Start:             45,
				End:               70,
				TranscriptStatus:  core.TranscriptUnavailable,
				ScreenDescription: "Visual content",
				Confidence:        15,
			},
			{
				ID:                3,
				Start:             70,
				End:               90,
				TranscriptStatus:  core.TranscriptNone,
				ScreenDescription: "Visual content",
				Confidence:        30,
			},
		},
		ProcessedAt: time.Now(),
	}
	res.ComputeStats()

	exporter := &TextReportExporter{ExportDir: dir}
	name, err := exporter.Export(res)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if name != "sess-report_timeline.txt" {
		t.Errorf("filename = %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	report := string(data)
	for _, want := range []string{
		"demo.mp4",
		"00:00:00 - 00:00:45",
		"Dashboard intro",
		"Dashboard, Metrics",
		"unavailable (transcription failed)",
		"Transcript: none",
		"Confidence: 95%",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
