package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

// JPEGEncoder is the default image encoder: decode, scale down to the target
// width with Catmull-Rom resampling, re-encode as JPEG at the given quality.
// Images already at or below the target width are re-encoded without scaling.
type JPEGEncoder struct{}

func (JPEGEncoder) Encode(ctx context.Context, photo domain.CapturedPhoto, targetWidth int, quality float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(photo.Bytes))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}

	bounds := img.Bounds()
	if targetWidth > 0 && bounds.Dx() > targetWidth {
		scale := float64(targetWidth) / float64(bounds.Dx())
		height := int(float64(bounds.Dy()) * scale)
		dst := image.NewRGBA(image.Rect(0, 0, targetWidth, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	q := int(quality * 100)
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
