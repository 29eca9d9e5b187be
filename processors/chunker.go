package processors

import (
	"context"
	"fmt"
	"path/filepath"

	"screenTimeline/core"
)

// ChunkPlan is one audio chunk's absolute time window before extraction.
type ChunkPlan struct {
	Index int
	Start float64
	End   float64
}

// PlanChunks lays chunks on the grid [i*(chunk-overlap), i*(chunk-overlap)+chunk)
// clipped to duration. The overlap avoids severing words at chunk borders
// and is reconciled by the aligner, not duplicated in final output.
func PlanChunks(duration, chunkDur, overlap float64) []ChunkPlan {
	if duration <= 0 || chunkDur <= 0 || overlap < 0 || overlap >= chunkDur {
		return nil
	}
	step := chunkDur - overlap
	var plans []ChunkPlan
	for i := 0; ; i++ {
		start := float64(i) * step
		if start >= duration {
			break
		}
		end := start + chunkDur
		if end > duration {
			end = duration
		}
		plans = append(plans, ChunkPlan{Index: i, Start: start, End: end})
		if end >= duration {
			break
		}
	}
	return plans
}

// AudioProcessor extracts the audio track and cuts chunk files from it.
type AudioProcessor interface {
	// ExtractAudio writes the full audio track as 16kHz mono wav.
	// Returns core.ErrNoAudioTrack when the source has no audio stream.
	ExtractAudio(ctx context.Context, videoPath, audioOut string) error
	// CutChunk writes one chunk's wav file.
	CutChunk(ctx context.Context, audioPath, chunkOut string, p ChunkPlan) error
}

// FFmpegAudio implements AudioProcessor with ffmpeg/ffprobe.
type FFmpegAudio struct{}

func (FFmpegAudio) ExtractAudio(ctx context.Context, videoPath, audioOut string) error {
	ok, err := hasAudioStream(ctx, videoPath)
	if err != nil {
		return &core.DecodeError{Path: videoPath, Err: err}
	}
	if !ok {
		return core.ErrNoAudioTrack
	}
	args := []string{"-y", "-i", videoPath, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", audioOut}
	if err := runFFmpeg(ctx, args); err != nil {
		return &core.DecodeError{Path: videoPath, Err: err}
	}
	return nil
}

func (FFmpegAudio) CutChunk(ctx context.Context, audioPath, chunkOut string, p ChunkPlan) error {
	args := []string{
		"-y",
		"-i", audioPath,
		"-ss", fmt.Sprintf("%.3f", p.Start),
		"-t", fmt.Sprintf("%.3f", p.End-p.Start),
		"-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1",
		chunkOut,
	}
	return runFFmpeg(ctx, args)
}

// ChunkPath names the wav file for one chunk inside chunkDir.
func ChunkPath(chunkDir string, p ChunkPlan) string {
	return filepath.Join(chunkDir, fmt.Sprintf("chunk_%04d.wav", p.Index))
}
