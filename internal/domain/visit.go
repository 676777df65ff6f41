package domain

import (
	"fmt"
	"time"
)

// VisitMode distinguishes the two capture flows. Check-in creates the server
// visit record, check-out closes it.
type VisitMode string

const (
	ModeCheckIn  VisitMode = "checkin"
	ModeCheckOut VisitMode = "checkout"
)

// VisitDraft is the in-memory working state of one capture attempt. It lives
// only for the duration of the session and is never written to durable
// storage: an interrupted capture loses the draft by design.
type VisitDraft struct {
	OutletID int64
	// VisitID is the server visit being closed; zero for check-in.
	VisitID         int64
	Mode            VisitMode
	RawPhoto        *CapturedPhoto
	CompressedPhoto *CapturedPhoto
	CompositedPhoto *CapturedPhoto
	Notes           string
	// Transaction is nil until the operator chooses; check-out requires an
	// explicit true or false, not absence.
	Transaction     *bool
	CaptureLocation GeoPoint
	CapturedAt      time.Time
}

// ReadyToSubmit reports whether the draft satisfies the submission invariants:
// a composited photo always, plus non-empty notes and a chosen transaction
// flag for check-out. The returned error wraps ErrValidationIncomplete.
func (d *VisitDraft) ReadyToSubmit() error {
	if d.CompositedPhoto == nil || len(d.CompositedPhoto.Bytes) == 0 {
		return fmt.Errorf("%w: composited photo missing", ErrValidationIncomplete)
	}
	if d.Mode != ModeCheckOut {
		return nil
	}
	if d.Notes == "" {
		return fmt.Errorf("%w: notes are required for check-out", ErrValidationIncomplete)
	}
	if d.Transaction == nil {
		return fmt.Errorf("%w: transaction flag is required for check-out", ErrValidationIncomplete)
	}
	return nil
}

// DiscardPhotos drops every photo artifact from the draft. Compression and
// compositing failures must not reuse a partial photo, so the operator is
// forced to recapture.
func (d *VisitDraft) DiscardPhotos() {
	d.RawPhoto = nil
	d.CompressedPhoto = nil
	d.CompositedPhoto = nil
}

// ActiveVisit is the server's answer to the pre-flight "is there already an
// open visit for this outlet" check.
type ActiveVisit struct {
	VisitID int64
	Message string
}
