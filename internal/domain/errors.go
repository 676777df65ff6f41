package domain

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Sentinels are wrapped with context at the point of
// failure; callers branch with errors.Is / errors.As.
var (
	ErrPermissionDenied         = errors.New("permission denied")
	ErrDeviceUnavailable        = errors.New("camera unavailable")
	ErrLocationUnavailable      = errors.New("current location unavailable")
	ErrOutletNotCaptureEligible = errors.New("outlet has no location on record")
	ErrCompositingFailed        = errors.New("watermark compositing failed")
	ErrValidationIncomplete     = errors.New("draft incomplete")
	ErrSubmissionNetwork        = errors.New("submission network error")
)

// OutOfRangeError reports a geofence failure with the measured distance so the
// UI can tell the operator how far off they are.
type OutOfRangeError struct {
	DistanceMeters float64
	RadiusMeters   uint32
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: %.0fm from outlet, allowed radius %dm", e.DistanceMeters, e.RadiusMeters)
}

// ActiveVisitConflictError carries the server's own wording for a duplicate or
// still-open visit, surfaced verbatim to the operator.
type ActiveVisitConflictError struct {
	Message string
}

func (e *ActiveVisitConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "outlet already has an active visit"
}

// SubmissionRejectedError is a non-200 answer from the visit server. Message
// is the server-provided text when present.
type SubmissionRejectedError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionRejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("submission rejected (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("submission rejected with status %d", e.StatusCode)
}
