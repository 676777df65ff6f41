// Package device declares the narrow contracts of the hardware collaborators
// the pipeline consumes (camera, geolocation, codecs) and ships the adapters
// that back them: an HTTP bridge to the platform shell and a stdlib JPEG
// encoder.
package device

import (
	"context"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

// CaptureOptions mirrors the options the platform camera accepts.
type CaptureOptions struct {
	Quality float64
	Mirror  bool
}

// Camera is the platform camera. Ready must report true before Capture is
// invoked; the pipeline owns the grace window for a camera that is still
// warming up.
type Camera interface {
	Ready() bool
	Capture(ctx context.Context, opts CaptureOptions) (domain.CapturedPhoto, error)
}
