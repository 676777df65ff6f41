package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dwisurya/fieldvisit/internal/device"
	"github.com/dwisurya/fieldvisit/internal/domain"
	"github.com/dwisurya/fieldvisit/internal/geo"
)

// Session is one capture attempt. All public methods are safe for concurrent
// use; the session holds its mutex only around state words, never across an
// external call, and uses the state itself to reject conflicting operations.
type Session struct {
	id       string
	pipeline *Pipeline

	mu       sync.Mutex
	state    State
	err      error
	outlet   *domain.Outlet
	position domain.GeoPoint
	distance *float64
	draft    *domain.VisitDraft
	audit    string
	history  []Transition

	events chan Transition
}

// ID is the session's opaque identifier, stable for its lifetime.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the error behind a Blocked or Failed state, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Events is the stream of state transitions for UI binding. The channel is
// buffered; a consumer that falls far behind loses the oldest notifications
// but can always resynchronize from State. The stream is single-consumer:
// a second receiver on the same session steals transitions from the first.
func (s *Session) Events() <-chan Transition { return s.events }

// Mode reports whether this is a check-in or check-out attempt.
func (s *Session) Mode() domain.VisitMode { return s.draft.Mode }

// Distance returns the last measured distance to the outlet, if any.
func (s *Session) Distance() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.distance == nil {
		return 0, false
	}
	return *s.distance, true
}

// AuditNote is the advisory verdict from the photo audit, empty when the
// audit did not run.
func (s *Session) AuditNote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit
}

// transitionLocked flips the state while the caller holds s.mu and returns
// the record to emit once the lock is released.
func (s *Session) transitionLocked(to State, reason string) Transition {
	tr := Transition{From: s.state, To: to, Reason: reason, At: s.pipeline.now()}
	s.state = to
	s.history = append(s.history, tr)
	return tr
}

func (s *Session) emit(tr Transition) {
	s.pipeline.deps.Logger.Info("session transition",
		"session_id", s.id, "from", tr.From, "to", tr.To, "reason", tr.Reason)

	select {
	case s.events <- tr:
	default:
		// Observer is far behind; it will catch up from State.
	}
}

// transition moves the machine unconditionally and notifies observers.
// Callers must not hold s.mu.
func (s *Session) transition(to State, reason string) {
	s.mu.Lock()
	tr := s.transitionLocked(to, reason)
	s.mu.Unlock()
	s.emit(tr)
}

// transitionFrom moves the machine only when it is still in from, and reports
// whether the move happened. The capture leg checks it after every external
// call so a Cancel that landed meanwhile is never overwritten.
func (s *Session) transitionFrom(from, to State, reason string) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	tr := s.transitionLocked(to, reason)
	s.mu.Unlock()
	s.emit(tr)
	return true
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Session) block(err error, remediation string) {
	s.setErr(err)
	s.transition(StateBlocked, remediation)
}

func (s *Session) fail(err error, reason string) {
	s.setErr(err)
	s.transition(StateFailed, reason)
}

// validate runs the location pass: outlet lookup, permission, fix, geofence,
// and (check-in only) the server's active-visit pre-flight. It is the entry
// pass after Start and the whole of Revalidate.
func (s *Session) validate(ctx context.Context) {
	s.transition(StateValidatingLocation, "")
	deps := s.pipeline.deps

	outlet, err := deps.Outlets.GetOutlet(ctx, s.draft.OutletID)
	if err != nil {
		s.fail(fmt.Errorf("outlet lookup: %w", err), "outlet lookup failed")
		return
	}
	if outlet == nil {
		s.fail(fmt.Errorf("outlet %d not found", s.draft.OutletID), "outlet not found")
		return
	}
	if !outlet.CaptureEligible() {
		// Deliberately not a geofence failure: the remediation is completing
		// the outlet's location, and no camera access may happen first.
		s.block(domain.ErrOutletNotCaptureEligible, "complete the outlet location before capturing")
		return
	}

	granted, err := deps.Locator.RequestPermission(ctx)
	if err != nil {
		s.block(fmt.Errorf("%w: %s", domain.ErrLocationUnavailable, err), "location permission check failed")
		return
	}
	if !granted {
		s.block(domain.ErrPermissionDenied, "grant location permission and retry")
		return
	}

	position, err := deps.Locator.CurrentPosition(ctx, device.AccuracyHigh)
	if err != nil {
		s.block(fmt.Errorf("%w: %s", domain.ErrLocationUnavailable, err), "could not get a location fix")
		return
	}

	res := geo.Validate(outlet, position)

	s.mu.Lock()
	s.outlet = outlet
	s.position = position
	if res.HasDistance {
		d := res.Distance
		s.distance = &d
	}
	s.mu.Unlock()

	enforce := s.draft.Mode == domain.ModeCheckIn || s.pipeline.cfg.CheckoutGeofence
	if enforce && !res.InRange {
		s.block(
			&domain.OutOfRangeError{DistanceMeters: res.Distance, RadiusMeters: outlet.RadiusMeters},
			"move closer to the outlet, or correct its location or radius",
		)
		return
	}

	if s.draft.Mode == domain.ModeCheckIn {
		active, err := deps.Visits.ActiveVisit(ctx, outlet.ID)
		if err != nil {
			s.fail(fmt.Errorf("active visit check: %w", err), "active visit check failed")
			return
		}
		if active != nil {
			s.block(&domain.ActiveVisitConflictError{Message: active.Message}, "resolve the open visit before checking in")
			return
		}
	}

	s.transition(StateReadyToCapture, "")
}

// Revalidate re-runs the location pass. Valid whenever the operator has moved
// or edited the outlet and no photo is in flight.
func (s *Session) Revalidate(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateBlocked && s.state != StateReadyToCapture {
		s.mu.Unlock()
		return fmt.Errorf("%w: revalidate from %s", ErrInvalidState, s.state)
	}
	s.err = nil
	s.mu.Unlock()

	s.validate(ctx)
	return nil
}

// Capture drives the photo leg: camera readiness, capture, compression,
// compositing. Exactly one photo may be in flight; a second call while one is
// outstanding returns ErrCaptureInFlight. Check-in submits automatically once
// a composited photo exists; check-out moves to field collection.
func (s *Session) Capture(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReadyToCapture:
		// proceed
	case StateCapturing, StateCompressing, StateCompositing:
		s.mu.Unlock()
		return ErrCaptureInFlight
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: capture from %s", ErrInvalidState, st)
	}
	outlet := s.outlet
	position := s.position
	tr := s.transitionLocked(StateCapturing, "")
	s.mu.Unlock()
	s.emit(tr)

	deps := s.pipeline.deps

	if err := s.pipeline.waitCameraReady(ctx); err != nil {
		s.fail(err, "camera not ready")
		return err
	}

	raw, err := deps.Camera.Capture(ctx, device.CaptureOptions{Quality: 0.9})
	if err != nil {
		err = fmt.Errorf("%w: %s", domain.ErrDeviceUnavailable, err)
		s.fail(err, "capture failed")
		return err
	}

	capturedAt := s.pipeline.now()
	s.mu.Lock()
	s.draft.RawPhoto = &raw
	s.draft.CaptureLocation = position
	s.draft.CapturedAt = capturedAt
	s.mu.Unlock()

	if !s.transitionFrom(StateCapturing, StateCompressing, "") {
		return s.abortCapture()
	}
	compressed, err := deps.Compressor.Compress(ctx, raw, s.pipeline.cfg.PhotoBudgetBytes)
	if err != nil {
		s.discardPhotos()
		s.fail(err, "retake the photo with better conditions")
		return err
	}
	compressedPhoto := domain.CapturedPhoto{
		Bytes:    compressed.Bytes,
		MimeType: compressed.MimeType,
		WidthPx:  raw.WidthPx,
	}
	s.mu.Lock()
	s.draft.CompressedPhoto = &compressedPhoto
	s.mu.Unlock()

	if !s.transitionFrom(StateCompressing, StateCompositing, "") {
		return s.abortCapture()
	}
	fields := watermarkFields(outlet, position, capturedAt)
	composited, err := deps.Compositor.Composite(ctx, compressedPhoto, fields)
	if err != nil {
		s.discardPhotos()
		err = fmt.Errorf("%w: %s", domain.ErrCompositingFailed, err)
		s.fail(err, "retake the photo")
		return err
	}
	s.mu.Lock()
	s.draft.CompositedPhoto = composited
	s.mu.Unlock()

	if deps.Auditor != nil {
		note, auditErr := deps.Auditor.Audit(ctx, *composited, fields)
		if auditErr != nil {
			deps.Logger.Warn("photo audit failed", "session_id", s.id, "error", auditErr)
		} else {
			s.mu.Lock()
			s.audit = note
			s.mu.Unlock()
		}
	}

	if s.draft.Mode == domain.ModeCheckOut {
		if !s.transitionFrom(StateCompositing, StateCollectingFields, "") {
			return s.abortCapture()
		}
		return nil
	}
	if !s.transitionFrom(StateCompositing, StateSubmitting, "") {
		return s.abortCapture()
	}
	s.mu.Lock()
	draft := s.draft
	s.mu.Unlock()
	return s.deliver(ctx, draft)
}

// abortCapture cleans up a capture leg that lost its state to a concurrent
// Cancel: whatever the leg stashed in the draft after the cancellation is
// discarded, and the session stays where Cancel put it.
func (s *Session) abortCapture() error {
	s.discardPhotos()
	return context.Canceled
}

// SetFields records the operator-entered check-out fields. The gate to
// Submitting stays closed until notes are non-empty and the transaction flag
// is explicitly chosen.
func (s *Session) SetFields(notes string, transaction bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCollectingFields {
		return fmt.Errorf("%w: set fields from %s", ErrInvalidState, s.state)
	}
	s.draft.Notes = notes
	tx := transaction
	s.draft.Transaction = &tx
	return nil
}

// Submit sends the draft. One attempt, no automatic retry: a failed
// submission keeps the draft intact and Submit may be called again for a
// manual resubmit without recapturing. Only field collection and a
// resubmittable failure accept the call; check-in's automatic submission
// takes an internal path out of Compositing, so an outside caller can never
// race an in-flight capture leg into a duplicate submission.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateCollectingFields:
	case s.state == StateFailed && s.resubmittableLocked():
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: submit from %s", ErrInvalidState, st)
	}

	if err := s.draft.ReadyToSubmit(); err != nil {
		// Stay where we are; the operator completes the fields and retries.
		s.mu.Unlock()
		return err
	}
	draft := s.draft
	// The move to Submitting happens under the gate's lock, so two callers
	// can never both pass the gate for one attempt.
	tr := s.transitionLocked(StateSubmitting, "")
	s.mu.Unlock()
	s.emit(tr)

	return s.deliver(ctx, draft)
}

// deliver runs the single submission attempt from Submitting.
func (s *Session) deliver(ctx context.Context, draft *domain.VisitDraft) error {
	visitID, err := s.pipeline.deps.Submitter.Submit(ctx, draft)
	if err != nil {
		s.fail(err, "submission failed; draft kept for manual resubmit")
		return err
	}

	s.mu.Lock()
	if s.state != StateSubmitting {
		// Cancelled while the request was on the wire. The server accepted
		// the visit, so record that, but the session stays where Cancel put
		// it.
		s.mu.Unlock()
		s.pipeline.deps.Logger.Warn("visit submitted after session left submitting",
			"session_id", s.id, "visit_id", visitID)
		return nil
	}
	s.err = nil
	s.draft.DiscardPhotos()
	tr := s.transitionLocked(StateCompleted, "")
	s.mu.Unlock()

	s.pipeline.deps.Logger.Info("visit submitted",
		"session_id", s.id, "visit_id", visitID, "mode", draft.Mode)
	s.emit(tr)
	return nil
}

// resubmittableLocked reports whether the Failed state was caused by a
// submission error, the one failure class that keeps the draft usable.
// Caller holds s.mu.
func (s *Session) resubmittableLocked() bool {
	if s.draft.CompositedPhoto == nil {
		return false
	}
	var rejected *domain.SubmissionRejectedError
	return errors.Is(s.err, domain.ErrSubmissionNetwork) || errors.As(s.err, &rejected)
}

// Cancel abandons the attempt and destroys the draft. The operator restarts
// from outlet selection.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.draft.DiscardPhotos()
	s.mu.Unlock()
	s.fail(context.Canceled, "cancelled by operator")
}

func (s *Session) discardPhotos() {
	s.mu.Lock()
	s.draft.DiscardPhotos()
	s.mu.Unlock()
}

// watermarkFields assembles the overlay projection from the outlet, the fix
// taken at validation time, and the wall clock at capture.
func watermarkFields(outlet *domain.Outlet, position domain.GeoPoint, at time.Time) domain.WatermarkFields {
	return domain.WatermarkFields{
		OutletLabel:    outlet.Name,
		OutletSubLabel: outlet.Address,
		TimestampText:  at.Format("2006-01-02 15:04:05"),
		LocationText:   fmt.Sprintf("%.6f, %.6f", position.Lat, position.Lon),
	}
}
