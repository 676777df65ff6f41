package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwisurya/fieldvisit/internal/compress"
	"github.com/dwisurya/fieldvisit/internal/device"
	"github.com/dwisurya/fieldvisit/internal/domain"
)

// --- collaborator stubs -----------------------------------------------------

type stubOutlets struct {
	outlets map[int64]*domain.Outlet
	err     error
}

func (s *stubOutlets) GetOutlet(_ context.Context, id int64) (*domain.Outlet, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.outlets[id], nil
}

type stubVisits struct {
	active *domain.ActiveVisit
	err    error
}

func (s *stubVisits) ActiveVisit(_ context.Context, _ int64) (*domain.ActiveVisit, error) {
	return s.active, s.err
}

type stubCamera struct {
	mu       sync.Mutex
	ready    bool
	photo    domain.CapturedPhoto
	err      error
	captures int
}

func (s *stubCamera) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *stubCamera) Capture(_ context.Context, _ device.CaptureOptions) (domain.CapturedPhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	return s.photo, s.err
}

type stubLocator struct {
	granted  bool
	position domain.GeoPoint
	posErr   error
}

func (s *stubLocator) CurrentPosition(_ context.Context, _ device.Accuracy) (domain.GeoPoint, error) {
	return s.position, s.posErr
}

func (s *stubLocator) RequestPermission(_ context.Context) (bool, error) {
	return s.granted, nil
}

type stubCompressor struct {
	result *compress.Result
	err    error
}

func (s *stubCompressor) Compress(_ context.Context, _ domain.CapturedPhoto, _ int) (*compress.Result, error) {
	return s.result, s.err
}

type stubCompositor struct {
	out    *domain.CapturedPhoto
	err    error
	fields domain.WatermarkFields
}

func (s *stubCompositor) Composite(_ context.Context, _ domain.CapturedPhoto, fields domain.WatermarkFields) (*domain.CapturedPhoto, error) {
	s.fields = fields
	return s.out, s.err
}

type stubSubmitter struct {
	mu      sync.Mutex
	visitID int64
	err     error
	drafts  []*domain.VisitDraft
}

func (s *stubSubmitter) Submit(_ context.Context, draft *domain.VisitDraft) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts = append(s.drafts, draft)
	if s.err != nil {
		return 0, s.err
	}
	return s.visitID, nil
}

// --- fixture ----------------------------------------------------------------

type fixture struct {
	outlets    *stubOutlets
	visits     *stubVisits
	camera     *stubCamera
	locator    *stubLocator
	compressor *stubCompressor
	compositor *stubCompositor
	submitter  *stubSubmitter
	pipeline   *Pipeline
}

func jakartaOutlet() *domain.Outlet {
	return &domain.Outlet{
		ID:           42,
		Name:         "Toko Sinar Jaya",
		Address:      "Jl. Kebon Sirih 12",
		Location:     &domain.GeoPoint{Lat: -6.2, Lon: 106.8},
		RadiusMeters: 100,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		outlets: &stubOutlets{outlets: map[int64]*domain.Outlet{42: jakartaOutlet()}},
		visits:  &stubVisits{},
		camera: &stubCamera{
			ready: true,
			photo: domain.CapturedPhoto{Bytes: make([]byte, 2<<20), MimeType: "image/jpeg", WidthPx: 4032},
		},
		locator:    &stubLocator{granted: true, position: domain.GeoPoint{Lat: -6.2001, Lon: 106.8001}},
		compressor: &stubCompressor{result: &compress.Result{Bytes: []byte("small"), MimeType: "image/jpeg", QualityUsed: 0.7, Attempts: 1}},
		compositor: &stubCompositor{out: &domain.CapturedPhoto{Bytes: []byte("stamped"), MimeType: "image/jpeg", WidthPx: 1280}},
		submitter:  &stubSubmitter{visitID: 9001},
	}
	f.pipeline = NewPipeline(Deps{
		Outlets:    f.outlets,
		Visits:     f.visits,
		Camera:     f.camera,
		Locator:    f.locator,
		Compressor: f.compressor,
		Compositor: f.compositor,
		Submitter:  f.submitter,
		Logger:     slog.Default(),
	}, DefaultConfig())
	return f
}

// --- validation pass --------------------------------------------------------

func TestCheckInHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.pipeline.StartCheckIn(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, StateReadyToCapture, s.State())

	require.NoError(t, s.Capture(ctx))
	assert.Equal(t, StateCompleted, s.State())

	require.Len(t, f.submitter.drafts, 1)
	draft := f.submitter.drafts[0]
	assert.Equal(t, domain.ModeCheckIn, draft.Mode)
	assert.Equal(t, int64(42), draft.OutletID)

	// Watermark fields come from the outlet and the validation fix.
	assert.Equal(t, "Toko Sinar Jaya", f.compositor.fields.OutletLabel)
	assert.Equal(t, "Jl. Kebon Sirih 12", f.compositor.fields.OutletSubLabel)
	assert.Contains(t, f.compositor.fields.LocationText, "-6.2001")
}

func TestStartBlocksWhenOutletHasNoLocation(t *testing.T) {
	f := newFixture(t)
	f.outlets.outlets[7] = &domain.Outlet{ID: 7, Name: "Warung Baru", RadiusMeters: 100}

	s, err := f.pipeline.StartCheckIn(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, s.State())
	assert.ErrorIs(t, s.Err(), domain.ErrOutletNotCaptureEligible)
	// No camera access may happen for an ineligible outlet.
	assert.Zero(t, f.camera.captures)
}

func TestStartBlocksOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.locator.position = domain.GeoPoint{Lat: -6.21, Lon: 106.81} // ~1.6km away

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, s.State())

	var oor *domain.OutOfRangeError
	require.True(t, errors.As(s.Err(), &oor))
	assert.Greater(t, oor.DistanceMeters, 100.0)
	assert.Equal(t, uint32(100), oor.RadiusMeters)
}

func TestZeroRadiusOutletAlwaysPassesValidation(t *testing.T) {
	f := newFixture(t)
	outlet := jakartaOutlet()
	outlet.RadiusMeters = 0
	f.outlets.outlets[42] = outlet
	f.locator.position = domain.GeoPoint{Lat: -6.25, Lon: 106.85} // far away

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StateReadyToCapture, s.State())
	// Distance is still reported for display.
	d, ok := s.Distance()
	assert.True(t, ok)
	assert.Greater(t, d, 1000.0)
}

func TestStartBlocksOnActiveVisitConflict(t *testing.T) {
	f := newFixture(t)
	f.visits.active = &domain.ActiveVisit{VisitID: 77, Message: "outlet visited this morning"}

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, s.State())

	var conflict *domain.ActiveVisitConflictError
	require.True(t, errors.As(s.Err(), &conflict))
	assert.Equal(t, "outlet visited this morning", conflict.Message)
}

func TestCheckOutSkipsActiveVisitPreflight(t *testing.T) {
	f := newFixture(t)
	f.visits.err = errors.New("preflight must not run for check-out")

	s, err := f.pipeline.StartCheckOut(context.Background(), 77, 42)
	require.NoError(t, err)
	assert.Equal(t, StateReadyToCapture, s.State())
}

func TestStartBlocksOnPermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.locator.granted = false

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, s.State())
	assert.ErrorIs(t, s.Err(), domain.ErrPermissionDenied)
}

func TestRevalidateRecoversFromBlocked(t *testing.T) {
	f := newFixture(t)
	f.locator.posErr = errors.New("gps cold start")

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, StateBlocked, s.State())
	assert.ErrorIs(t, s.Err(), domain.ErrLocationUnavailable)

	f.locator.posErr = nil
	require.NoError(t, s.Revalidate(context.Background()))
	assert.Equal(t, StateReadyToCapture, s.State())
	assert.NoError(t, s.Err())
}

// --- re-entrancy guards -----------------------------------------------------

func TestSecondStartRejectedWhileSessionActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.StartCheckIn(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, StateReadyToCapture, first.State())

	_, err = f.pipeline.StartCheckIn(ctx, 42)
	assert.ErrorIs(t, err, ErrSessionActive)

	// A completed session releases the guard.
	require.NoError(t, first.Capture(ctx))
	require.Equal(t, StateCompleted, first.State())
	_, err = f.pipeline.StartCheckIn(ctx, 42)
	assert.NoError(t, err)
}

func TestCaptureRejectedWhileInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	f.compositor.out = nil
	blockingCompositor := &blockedCompositor{release: release}
	f.pipeline.deps.Compositor = blockingCompositor

	s, err := f.pipeline.StartCheckIn(ctx, 42)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Capture(ctx) }()

	// Wait until the first capture is parked inside compositing.
	select {
	case <-blockingCompositor.entered():
	case <-time.After(2 * time.Second):
		t.Fatal("first capture never reached compositing")
	}

	err = s.Capture(ctx)
	assert.ErrorIs(t, err, ErrCaptureInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 1, f.camera.captures)
}

type blockedCompositor struct {
	once    sync.Once
	enter   chan struct{}
	release chan struct{}
}

func (b *blockedCompositor) entered() chan struct{} {
	b.once.Do(func() { b.enter = make(chan struct{}) })
	return b.enter
}

func (b *blockedCompositor) Composite(_ context.Context, _ domain.CapturedPhoto, _ domain.WatermarkFields) (*domain.CapturedPhoto, error) {
	close(b.entered())
	<-b.release
	return &domain.CapturedPhoto{Bytes: []byte("stamped"), MimeType: "image/jpeg"}, nil
}

type blockedAuditor struct {
	once    sync.Once
	enter   chan struct{}
	release chan struct{}
}

func (b *blockedAuditor) entered() chan struct{} {
	b.once.Do(func() { b.enter = make(chan struct{}) })
	return b.enter
}

func (b *blockedAuditor) Audit(_ context.Context, _ domain.CapturedPhoto, _ domain.WatermarkFields) (string, error) {
	close(b.entered())
	<-b.release
	return "OK", nil
}

func TestCancelDuringCaptureKeepsSessionFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	blocking := &blockedCompositor{release: release}
	f.pipeline.deps.Compositor = blocking

	s, err := f.pipeline.StartCheckIn(ctx, 42)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Capture(ctx) }()

	select {
	case <-blocking.entered():
	case <-time.After(2 * time.Second):
		t.Fatal("capture never reached compositing")
	}

	// Cancel lands while the leg is parked inside the compositor. When the
	// leg resumes it must notice and stand down, not carry on to submission.
	s.Cancel()
	close(release)

	err = <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, s.State())
	assert.Empty(t, f.submitter.drafts)
	assert.Nil(t, s.draft.RawPhoto)
	assert.Nil(t, s.draft.CompressedPhoto)
	assert.Nil(t, s.draft.CompositedPhoto)
}

func TestExternalSubmitRejectedDuringCaptureLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	blocking := &blockedAuditor{release: release}
	f.pipeline.deps.Auditor = blocking

	s, err := f.pipeline.StartCheckIn(ctx, 42)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Capture(ctx) }()

	// Park the leg in the audit step, after the composited photo exists but
	// before the leg's own submission.
	select {
	case <-blocking.entered():
	case <-time.After(2 * time.Second):
		t.Fatal("capture never reached the audit step")
	}

	err = s.Submit(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateCompleted, s.State())
	// Exactly one submission, from the capture leg itself.
	require.Len(t, f.submitter.drafts, 1)
}

// --- capture leg failures ---------------------------------------------------

func TestCameraNeverReadyFailsAfterGrace(t *testing.T) {
	f := newFixture(t)
	f.camera.ready = false
	cfg := DefaultConfig()
	cfg.CameraGrace = 200 * time.Millisecond
	f.pipeline.cfg = cfg

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)

	err = s.Capture(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	assert.Equal(t, StateFailed, s.State())
}

func TestCompressionFailureDiscardsPhotos(t *testing.T) {
	f := newFixture(t)
	f.compressor.result = nil
	f.compressor.err = &compress.BudgetExceededError{BudgetBytes: 1 << 20}

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)

	err = s.Capture(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())

	// Over-budget photos must never reach submission.
	assert.Empty(t, f.submitter.drafts)
	assert.Nil(t, s.draft.RawPhoto)
	assert.Nil(t, s.draft.CompressedPhoto)
}

func TestCompositingFailureRequiresRecapture(t *testing.T) {
	f := newFixture(t)
	f.compositor.out = nil
	f.compositor.err = errors.New("surface lost")

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)

	err = s.Capture(context.Background())
	assert.ErrorIs(t, err, domain.ErrCompositingFailed)
	assert.Nil(t, s.draft.CompositedPhoto)
	assert.Empty(t, f.submitter.drafts)
}

// --- check-out field gating -------------------------------------------------

func startedCheckOut(t *testing.T, f *fixture) *Session {
	t.Helper()
	s, err := f.pipeline.StartCheckOut(context.Background(), 77, 42)
	require.NoError(t, err)
	require.NoError(t, s.Capture(context.Background()))
	require.Equal(t, StateCollectingFields, s.State())
	return s
}

func TestCheckOutRequiresNotesAndTransaction(t *testing.T) {
	f := newFixture(t)
	s := startedCheckOut(t, f)
	ctx := context.Background()

	// No fields at all.
	err := s.Submit(ctx)
	assert.ErrorIs(t, err, domain.ErrValidationIncomplete)
	assert.Equal(t, StateCollectingFields, s.State())

	// Empty notes still rejected.
	require.NoError(t, s.SetFields("", true))
	err = s.Submit(ctx)
	assert.ErrorIs(t, err, domain.ErrValidationIncomplete)
	assert.Equal(t, StateCollectingFields, s.State())
	assert.Empty(t, f.submitter.drafts)

	require.NoError(t, s.SetFields("two shelves restocked", false))
	require.NoError(t, s.Submit(ctx))
	assert.Equal(t, StateCompleted, s.State())

	require.Len(t, f.submitter.drafts, 1)
	draft := f.submitter.drafts[0]
	assert.Equal(t, int64(77), draft.VisitID)
	require.NotNil(t, draft.Transaction)
	assert.False(t, *draft.Transaction)
}

func TestCheckInHasNoFieldGate(t *testing.T) {
	f := newFixture(t)
	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)

	// Capture alone carries check-in all the way to Completed.
	require.NoError(t, s.Capture(context.Background()))
	assert.Equal(t, StateCompleted, s.State())
	require.Len(t, f.submitter.drafts, 1)
	assert.Empty(t, f.submitter.drafts[0].Notes)
	assert.Nil(t, f.submitter.drafts[0].Transaction)
}

// --- submission outcomes ----------------------------------------------------

func TestSubmissionFailureKeepsDraftForResubmit(t *testing.T) {
	f := newFixture(t)
	f.submitter.err = &domain.SubmissionRejectedError{StatusCode: 503, Message: "try again"}

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)

	err = s.Capture(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())

	// Draft survives the failure: no recapture needed.
	require.NotNil(t, s.draft.CompositedPhoto)

	f.submitter.err = nil
	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, StateCompleted, s.State())
	assert.Len(t, f.submitter.drafts, 2)
	assert.Equal(t, 1, f.camera.captures)
}

func TestResubmitNotAllowedAfterNonSubmissionFailure(t *testing.T) {
	f := newFixture(t)
	f.compositor.out = nil
	f.compositor.err = errors.New("surface lost")

	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)
	require.Error(t, s.Capture(context.Background()))

	err = s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelDestroysDraftAndReleasesGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.pipeline.StartCheckIn(ctx, 42)
	require.NoError(t, err)

	s.Cancel()
	assert.Equal(t, StateFailed, s.State())
	assert.Nil(t, f.pipeline.ActiveSession())

	_, err = f.pipeline.StartCheckIn(ctx, 42)
	assert.NoError(t, err)
}

// --- observability ----------------------------------------------------------

func TestEventsStreamObservesTransitions(t *testing.T) {
	f := newFixture(t)
	s, err := f.pipeline.StartCheckIn(context.Background(), 42)
	require.NoError(t, err)
	require.NoError(t, s.Capture(context.Background()))

	var states []State
	for {
		select {
		case tr := <-s.Events():
			states = append(states, tr.To)
		default:
			assert.Equal(t, []State{
				StateValidatingLocation,
				StateReadyToCapture,
				StateCapturing,
				StateCompressing,
				StateCompositing,
				StateSubmitting,
				StateCompleted,
			}, states)
			return
		}
	}
}
