package media

import (
	"context"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeJPEGSize(t *testing.T, uri string) (int, int) {
	t.Helper()
	f, err := os.Open(LocalPath(uri))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer func() { _ = f.Close() }()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestJPEGCompressorBoundsLongEdge(t *testing.T) {
	t.Parallel()

	src := writePNG(t, t.TempDir(), 400, 200)
	c, err := NewJPEGCompressor(filepath.Join(t.TempDir(), "cache"), nil)
	if err != nil {
		t.Fatalf("NewJPEGCompressor failed: %v", err)
	}

	primary, err := c.Compress(context.Background(), src, 128, 80)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !strings.HasPrefix(primary, "file://") {
		t.Fatalf("expected file URI, got %s", primary)
	}
	if w, h := decodeJPEGSize(t, primary); w != 128 || h != 64 {
		t.Fatalf("primary: got %dx%d, want 128x64", w, h)
	}

	thumb, err := c.Thumbnail(context.Background(), src, 32, 60)
	if err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if w, h := decodeJPEGSize(t, thumb); w != 32 || h != 16 {
		t.Fatalf("thumbnail: got %dx%d, want 32x16", w, h)
	}
	if primary == thumb {
		t.Fatal("primary and thumbnail must be distinct files")
	}
}

func TestJPEGCompressorKeepsSmallImages(t *testing.T) {
	t.Parallel()

	src := writePNG(t, t.TempDir(), 40, 30)
	c, err := NewJPEGCompressor(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Compress(context.Background(), src, 1280, 80)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if w, h := decodeJPEGSize(t, out); w != 40 || h != 30 {
		t.Fatalf("got %dx%d, want 40x30", w, h)
	}
}

func TestJPEGCompressorErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := NewJPEGCompressor(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	garbage := filepath.Join(dir, "garbage.jpg")
	if err := os.WriteFile(garbage, []byte("\xff\xd8 broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Compress(context.Background(), garbage, 100, 80); err == nil {
		t.Fatal("expected decode error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Compress(ctx, writePNG(t, t.TempDir(), 8, 8), 100, 80); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFitDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		w, h, edge int
		wantW      int
		wantH      int
	}{
		{4000, 3000, 1280, 1280, 960},
		{3000, 4000, 1280, 960, 1280},
		{1280, 1280, 1280, 1280, 1280},
		{800, 600, 1280, 800, 600},
		{5000, 2, 1280, 1280, 1},
		{800, 600, 0, 800, 600},
	}
	for _, tt := range tests {
		w, h := FitDimensions(tt.w, tt.h, tt.edge)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitDimensions(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.edge, w, h, tt.wantW, tt.wantH)
		}
	}
}
