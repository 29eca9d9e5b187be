package processors

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// FrameComparator scores how similar two sampled frames look. Scores are in
// [0,1], deterministic and symmetric; closer images score higher.
type FrameComparator interface {
	Similarity(pathA, pathB string) (float64, error)
}

// HistogramComparator compares per-channel color histograms by
// intersection. Identical images score 1.0; disjoint palettes approach 0.
type HistogramComparator struct {
	Bins int
}

func NewHistogramComparator() *HistogramComparator {
	return &HistogramComparator{Bins: 32}
}

func (h *HistogramComparator) Similarity(pathA, pathB string) (float64, error) {
	ha, err := h.histogram(pathA)
	if err != nil {
		return 0, err
	}
	hb, err := h.histogram(pathB)
	if err != nil {
		return 0, err
	}
	// Histogram intersection over three normalized channels.
	var score float64
	for c := 0; c < 3; c++ {
		for b := 0; b < h.Bins; b++ {
			score += min(ha[c][b], hb[c][b])
		}
	}
	return score / 3, nil
}

func (h *HistogramComparator) histogram(path string) ([3][]float64, error) {
	var hist [3][]float64
	f, err := os.Open(path)
	if err != nil {
		return hist, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return hist, fmt.Errorf("decode frame %s: %w", path, err)
	}

	for c := range hist {
		hist[c] = make([]float64, h.Bins)
	}
	bounds := img.Bounds()
	total := float64(bounds.Dx() * bounds.Dy())
	if total == 0 {
		return hist, fmt.Errorf("empty image %s", path)
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			hist[0][int(r>>8)*h.Bins/256]++
			hist[1][int(g>>8)*h.Bins/256]++
			hist[2][int(b>>8)*h.Bins/256]++
		}
	}
	for c := range hist {
		for b := range hist[c] {
			hist[c][b] /= total
		}
	}
	return hist, nil
}
