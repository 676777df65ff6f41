// Package capture orchestrates one visit capture attempt end to end: outlet
// lookup, geofence validation, photo capture, compression, watermark
// compositing, field collection and submission. The Pipeline owns the
// per-operator guard (one session at a time); each attempt is a Session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dwisurya/fieldvisit/internal/compress"
	"github.com/dwisurya/fieldvisit/internal/device"
	"github.com/dwisurya/fieldvisit/internal/domain"
)

var (
	// ErrSessionActive rejects a second Start while a capture session is in
	// flight; the pipeline, not the UI, owns this guard.
	ErrSessionActive = errors.New("a capture session is already active")
	// ErrInvalidState rejects an operation the current state does not allow.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrCaptureInFlight rejects a second capture request while one photo is
	// still being processed.
	ErrCaptureInFlight = errors.New("a capture is already in flight")
)

// OutletSource yields the outlet snapshot validation runs against.
type OutletSource interface {
	GetOutlet(ctx context.Context, id int64) (*domain.Outlet, error)
}

// VisitChecker is the server-side pre-flight: nil means clear to check in.
type VisitChecker interface {
	ActiveVisit(ctx context.Context, outletID int64) (*domain.ActiveVisit, error)
}

// Submitter sends a finished draft to the visit server.
type Submitter interface {
	Submit(ctx context.Context, draft *domain.VisitDraft) (int64, error)
}

// PhotoCompressor is the subset of compress.Compressor the session requires.
type PhotoCompressor interface {
	Compress(ctx context.Context, photo domain.CapturedPhoto, budgetBytes int) (*compress.Result, error)
}

// Compositor is the subset of watermark.Compositor the session requires.
type Compositor interface {
	Composite(ctx context.Context, photo domain.CapturedPhoto, fields domain.WatermarkFields) (*domain.CapturedPhoto, error)
}

// Auditor is an optional advisory check on the composited photo. Its verdict
// never gates submission.
type Auditor interface {
	Audit(ctx context.Context, photo domain.CapturedPhoto, fields domain.WatermarkFields) (string, error)
}

// Config carries the pipeline policy knobs.
type Config struct {
	PhotoBudgetBytes int
	// CameraGrace bounds how long to wait for camera readiness before the
	// capture is failed.
	CameraGrace time.Duration
	// CheckoutGeofence controls whether check-out re-validates distance the
	// way check-in does.
	CheckoutGeofence bool
}

func DefaultConfig() Config {
	return Config{
		PhotoBudgetBytes: 1 << 20,
		CameraGrace:      3 * time.Second,
		CheckoutGeofence: true,
	}
}

// Deps bundles the pipeline's collaborators. Auditor may be nil.
type Deps struct {
	Outlets    OutletSource
	Visits     VisitChecker
	Camera     device.Camera
	Locator    device.Locator
	Compressor PhotoCompressor
	Compositor Compositor
	Submitter  Submitter
	Auditor    Auditor
	Logger     *slog.Logger
}

type Pipeline struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu     sync.Mutex
	active *Session
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	return &Pipeline{deps: deps, cfg: cfg, now: time.Now}
}

// StartCheckIn begins a check-in session against the outlet and runs geofence
// validation plus the server pre-flight immediately. The returned session is
// in ReadyToCapture, Blocked, or Failed.
func (p *Pipeline) StartCheckIn(ctx context.Context, outletID int64) (*Session, error) {
	return p.start(ctx, domain.ModeCheckIn, outletID, 0)
}

// StartCheckOut begins a check-out session closing the given server visit.
func (p *Pipeline) StartCheckOut(ctx context.Context, visitID, outletID int64) (*Session, error) {
	return p.start(ctx, domain.ModeCheckOut, outletID, visitID)
}

func (p *Pipeline) start(ctx context.Context, mode domain.VisitMode, outletID, visitID int64) (*Session, error) {
	p.mu.Lock()
	if p.active != nil && !p.active.State().Terminal() {
		p.mu.Unlock()
		return nil, ErrSessionActive
	}

	s := &Session{
		id:       uuid.NewString(),
		pipeline: p,
		state:    StateSelectingOutlet,
		events:   make(chan Transition, 32),
		draft: &domain.VisitDraft{
			OutletID: outletID,
			VisitID:  visitID,
			Mode:     mode,
		},
	}
	p.active = s
	p.mu.Unlock()

	p.deps.Logger.Info("capture session started",
		"session_id", s.id, "mode", mode, "outlet_id", outletID)

	s.validate(ctx)
	return s, nil
}

// ActiveSession returns the in-flight session, or nil.
func (p *Pipeline) ActiveSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil && !p.active.State().Terminal() {
		return p.active
	}
	return nil
}

// waitCameraReady polls the camera readiness signal for the configured grace
// window. Not-ready beyond the window is a hard failure requiring operator
// retry.
func (p *Pipeline) waitCameraReady(ctx context.Context) error {
	if p.deps.Camera.Ready() {
		return nil
	}

	deadline := p.now().Add(p.cfg.CameraGrace)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.deps.Camera.Ready() {
				return nil
			}
			if p.now().After(deadline) {
				return fmt.Errorf("%w: not ready after %s", domain.ErrDeviceUnavailable, p.cfg.CameraGrace)
			}
		}
	}
}
