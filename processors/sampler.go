package processors

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"screenTimeline/core"
)

// FrameSampler extracts a frame at a fixed stride from the source video.
// Re-running Sample for the same video and stride is deterministic.
type FrameSampler interface {
	Sample(ctx context.Context, videoPath, framesDir string) (*FrameSeq, core.VideoMeta, error)
}

// FrameSeq is a finite, restartable sequence of sampled frames.
type FrameSeq struct {
	frames []core.Frame
	pos    int
}

func NewFrameSeq(frames []core.Frame) *FrameSeq { return &FrameSeq{frames: frames} }

// Next returns the next frame in timestamp order.
func (s *FrameSeq) Next() (core.Frame, bool) {
	if s.pos >= len(s.frames) {
		return core.Frame{}, false
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true
}

// Restart rewinds the sequence to the first frame.
func (s *FrameSeq) Restart() { s.pos = 0 }

// Len returns the number of frames in the sequence.
func (s *FrameSeq) Len() int { return len(s.frames) }

// FFmpegSampler extracts frames with ffmpeg at one frame per StrideSec.
type FFmpegSampler struct {
	StrideSec float64
}

func NewFFmpegSampler(strideSec float64) *FFmpegSampler {
	return &FFmpegSampler{StrideSec: strideSec}
}

// Sample probes the container and writes numbered JPEG frames into
// framesDir. Any probe or extraction failure is a DecodeError, fatal to
// the session.
func (f *FFmpegSampler) Sample(ctx context.Context, videoPath, framesDir string) (*FrameSeq, core.VideoMeta, error) {
	meta := core.VideoMeta{Filename: filepath.Base(videoPath)}

	dur, err := probeDuration(ctx, videoPath)
	if err != nil {
		return nil, meta, &core.DecodeError{Path: videoPath, Err: err}
	}
	meta.DurationSec = dur

	fps, err := probeFrameRate(ctx, videoPath)
	if err != nil {
		return nil, meta, &core.DecodeError{Path: videoPath, Err: err}
	}
	meta.FrameRate = fps

	if err := os.MkdirAll(framesDir, 0755); err != nil {
		return nil, meta, &core.DecodeError{Path: framesDir, Err: err}
	}

	pattern := filepath.Join(framesDir, "%06d.jpg")
	args := []string{"-y", "-i", videoPath, "-vf", fmt.Sprintf("fps=1/%g", f.StrideSec), pattern}
	if err := runFFmpeg(ctx, args); err != nil {
		return nil, meta, &core.DecodeError{Path: videoPath, Err: err}
	}

	frames, err := enumerateFrames(framesDir, f.StrideSec)
	if err != nil {
		return nil, meta, &core.DecodeError{Path: framesDir, Err: err}
	}
	log.Printf("sampled %d frames from %s (%.1fs at 1/%gs)", len(frames), meta.Filename, dur, f.StrideSec)
	return NewFrameSeq(frames), meta, nil
}

// enumerateFrames builds the frame list from ffmpeg's numbered output.
// Frame i (1-based) was taken at (i-1)*stride seconds.
func enumerateFrames(framesDir string, strideSec float64) ([]core.Frame, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, err
	}
	frames := make([]core.Frame, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base := name
		if ext := filepath.Ext(base); ext != "" {
			base = base[:len(base)-len(ext)]
		}
		i, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		frames = append(frames, core.Frame{
			TimestampSec: float64(i-1) * strideSec,
			Path:         filepath.Join(framesDir, name),
		})
	}
	return frames, nil
}
