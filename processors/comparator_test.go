package processors

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeSolidPNG(t *testing.T, dir, name string, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return path
}

func TestSimilarityIdenticalFrames(t *testing.T) {
	dir := t.TempDir()
	a := writeSolidPNG(t, dir, "a.png", color.RGBA{R: 40, G: 90, B: 200, A: 255})
	b := writeSolidPNG(t, dir, "b.png", color.RGBA{R: 40, G: 90, B: 200, A: 255})

	sim, err := NewHistogramComparator().Similarity(a, b)
	if err != nil {
		t.Fatalf("Similarity() failed: %v", err)
	}
	if sim < 0.999 {
		t.Errorf("identical frames similarity = %v, want ~1.0", sim)
	}
}

func TestSimilarityDifferentFrames(t *testing.T) {
	dir := t.TempDir()
	a := writeSolidPNG(t, dir, "red.png", color.RGBA{R: 255, A: 255})
	b := writeSolidPNG(t, dir, "blue.png", color.RGBA{B: 255, A: 255})

	sim, err := NewHistogramComparator().Similarity(a, b)
	if err != nil {
		t.Fatalf("Similarity() failed: %v", err)
	}
	if sim > 0.5 {
		t.Errorf("red vs blue similarity = %v, want clearly below 0.5", sim)
	}
	if sim < 0 || sim > 1 {
		t.Errorf("similarity %v out of [0,1]", sim)
	}
}

func TestSimilarityMissingFile(t *testing.T) {
	dir := t.TempDir()
	a := writeSolidPNG(t, dir, "a.png", color.RGBA{A: 255})
	if _, err := NewHistogramComparator().Similarity(a, filepath.Join(dir, "missing.png")); err == nil {
		t.Error("expected an error for a missing frame file")
	}
}
