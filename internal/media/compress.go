package media

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Compressor produces the upload asset and the local preview.
type Compressor interface {
	Compress(ctx context.Context, uri string, maxLongEdge, quality int) (string, error)
	Thumbnail(ctx context.Context, uri string, maxLongEdge, quality int) (string, error)
}

// JPEGCompressor re-encodes images as JPEG files in a cache directory.
type JPEGCompressor struct {
	dir    string
	logger *slog.Logger
}

// NewJPEGCompressor creates dir if needed.
func NewJPEGCompressor(dir string, logger *slog.Logger) (*JPEGCompressor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media cache directory: %w", err)
	}
	return &JPEGCompressor{dir: dir, logger: logger}, nil
}

// Compress bounds the long edge with a Catmull-Rom filter.
func (c *JPEGCompressor) Compress(ctx context.Context, uri string, maxLongEdge, quality int) (string, error) {
	return c.reencode(ctx, uri, maxLongEdge, quality, draw.CatmullRom, "send")
}

// Thumbnail bounds the long edge with a cheaper bilinear filter.
func (c *JPEGCompressor) Thumbnail(ctx context.Context, uri string, maxLongEdge, quality int) (string, error) {
	return c.reencode(ctx, uri, maxLongEdge, quality, draw.ApproxBiLinear, "thumb")
}

func (c *JPEGCompressor) reencode(ctx context.Context, uri string, maxLongEdge, quality int, scaler draw.Scaler, kind string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	in, err := os.Open(LocalPath(uri))
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	src, format, err := image.Decode(in)
	_ = in.Close()
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := fit(src, maxLongEdge, scaler)
	path := filepath.Join(c.dir, kind+"-"+uuid.NewString()+".jpg")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s asset: %w", kind, err)
	}
	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("encode %s asset: %w", kind, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("write %s asset: %w", kind, err)
	}

	c.logger.Debug("image re-encoded",
		"kind", kind,
		"source_format", format,
		"width", dst.Bounds().Dx(),
		"height", dst.Bounds().Dy(),
		"quality", clampQuality(quality))
	return FileURI(path), nil
}

// fit scales src so its long edge is at most maxLongEdge, flattening
// transparency onto white since JPEG has no alpha.
func fit(src image.Image, maxLongEdge int, scaler draw.Scaler) image.Image {
	b := src.Bounds()
	w, h := FitDimensions(b.Dx(), b.Dy(), maxLongEdge)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	scaler.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// FitDimensions returns w×h scaled down to a long edge of maxLongEdge,
// keeping the aspect ratio. A non-positive limit or a smaller image is unchanged.
func FitDimensions(w, h, maxLongEdge int) (int, int) {
	if maxLongEdge <= 0 || (w <= maxLongEdge && h <= maxLongEdge) {
		return w, h
	}
	if w >= h {
		return maxLongEdge, max(1, h*maxLongEdge/w)
	}
	return max(1, w*maxLongEdge/h), maxLongEdge
}

func clampQuality(q int) int {
	if q <= 0 {
		return jpeg.DefaultQuality
	}
	return min(q, 100)
}
