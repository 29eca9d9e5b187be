package processors

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// runFFmpeg runs ffmpeg with args, returning stderr in the error on failure.
func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("ffmpeg %s: %w: %s", args[0], err, msg)
	}
	return nil
}

func runFFprobe(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(out.String()), nil
}

// probeDuration returns the container duration in seconds.
func probeDuration(ctx context.Context, path string) (float64, error) {
	s, err := runFFprobe(ctx, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// probeFrameRate returns the average frame rate of the first video stream.
func probeFrameRate(ctx context.Context, path string) (float64, error) {
	s, err := runFFprobe(ctx, []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, err
	}
	// avg_frame_rate is a rational like "30000/1001"
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, fmt.Errorf("parse frame rate %q", s)
		}
		return n / d, nil
	}
	return strconv.ParseFloat(s, 64)
}

// hasAudioStream reports whether the container carries at least one audio stream.
func hasAudioStream(ctx context.Context, path string) (bool, error) {
	s, err := runFFprobe(ctx, []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	})
	if err != nil {
		return false, err
	}
	return strings.Contains(s, "audio"), nil
}
