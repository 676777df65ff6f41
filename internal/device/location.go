package device

import (
	"context"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

// Accuracy hints how hard the platform should work for a fix.
type Accuracy int

const (
	AccuracyCoarse Accuracy = iota
	AccuracyBalanced
	AccuracyHigh
)

// Locator is the platform geolocation provider.
type Locator interface {
	// CurrentPosition returns the last known fix at the requested accuracy.
	CurrentPosition(ctx context.Context, hint Accuracy) (domain.GeoPoint, error)
	// RequestPermission prompts the operator if needed and reports whether
	// location access is granted.
	RequestPermission(ctx context.Context) (bool, error)
}
