// Package watermark flattens a compressed photo and its overlay text into one
// image by coordinating two externally-owned subsystems: a render surface and
// a snapshot function. The two are synchronized through an explicit
// render-complete signal; a fixed delay is never an acceptable substitute,
// since it silently produces blank or stale watermarks on slow devices.
package watermark

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

// Handle is an overlay render in flight. Done is closed exactly once when the
// surface has fully rendered; Err is meaningful only after Done. Release tears
// down the transient render target and must always be called, success or not.
type Handle interface {
	Done() <-chan struct{}
	Err() error
	Release()
}

// Renderer lays out the photo plus overlay text on a render surface.
type Renderer interface {
	Render(ctx context.Context, photo domain.CapturedPhoto, fields domain.WatermarkFields) (Handle, error)
}

// Snapshotter captures the pixels of a fully rendered surface.
type Snapshotter interface {
	Snapshot(ctx context.Context, h Handle) (domain.CapturedPhoto, error)
}

// defaultRenderTimeout bounds how long we wait for the render-complete signal
// before treating the surface as wedged.
const defaultRenderTimeout = 5 * time.Second

type Compositor struct {
	renderer      Renderer
	snapshotter   Snapshotter
	renderTimeout time.Duration
	logger        *slog.Logger
}

func NewCompositor(renderer Renderer, snapshotter Snapshotter, logger *slog.Logger) *Compositor {
	return &Compositor{
		renderer:      renderer,
		snapshotter:   snapshotter,
		renderTimeout: defaultRenderTimeout,
		logger:        logger,
	}
}

// Composite submits the photo and fields to the renderer, waits for the
// render-complete signal, and only then snapshots the surface. The overlay
// surface is released whether or not the snapshot succeeds. There is no
// partial state to resume from: any error here means the operator retakes the
// photo.
func (c *Compositor) Composite(ctx context.Context, photo domain.CapturedPhoto, fields domain.WatermarkFields) (*domain.CapturedPhoto, error) {
	handle, err := c.renderer.Render(ctx, photo, fields)
	if err != nil {
		return nil, fmt.Errorf("render overlay: %w", err)
	}
	defer handle.Release()

	select {
	case <-handle.Done():
		if rerr := handle.Err(); rerr != nil {
			return nil, fmt.Errorf("overlay render failed: %w", rerr)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for overlay render: %w", ctx.Err())
	case <-time.After(c.renderTimeout):
		return nil, fmt.Errorf("overlay render did not complete within %s", c.renderTimeout)
	}

	flattened, err := c.snapshotter.Snapshot(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("snapshot overlay: %w", err)
	}

	c.logger.Debug("watermark composited",
		"in_bytes", photo.SizeBytes(), "out_bytes", flattened.SizeBytes())
	return &flattened, nil
}
