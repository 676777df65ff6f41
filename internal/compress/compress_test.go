package compress

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

// scriptedEncoder returns pre-programmed output sizes, one per call, and
// records the qualities it was asked for.
type scriptedEncoder struct {
	sizes     []int
	qualities []float64
	err       error
}

func (e *scriptedEncoder) Encode(_ context.Context, _ domain.CapturedPhoto, _ int, quality float64) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	call := len(e.qualities)
	if call >= len(e.sizes) {
		return nil, errors.New("scripted sizes exhausted")
	}
	e.qualities = append(e.qualities, quality)
	return make([]byte, e.sizes[call]), nil
}

func testPhoto() domain.CapturedPhoto {
	return domain.CapturedPhoto{Bytes: make([]byte, 4<<20), MimeType: "image/jpeg", WidthPx: 4032}
}

func newTestCompressor(enc Encoder) *Compressor {
	return NewCompressor(enc, DefaultPolicy(), slog.Default())
}

func TestCompressFirstAttemptFits(t *testing.T) {
	enc := &scriptedEncoder{sizes: []int{80 << 10}}
	res, err := newTestCompressor(enc).Compress(context.Background(), testPhoto(), 100<<10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.InDelta(t, 0.7, res.QualityUsed, 1e-9)
	assert.Equal(t, 80<<10, len(res.Bytes))
}

func TestCompressLadderSucceedsAtThirdQuality(t *testing.T) {
	// 200KB at 0.7, 150KB at 0.55, 90KB at 0.40 against a 100KB budget: the
	// third rung is the first to fit.
	enc := &scriptedEncoder{sizes: []int{200 << 10, 150 << 10, 90 << 10}}
	res, err := newTestCompressor(enc).Compress(context.Background(), testPhoto(), 100<<10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.InDelta(t, 0.40, res.QualityUsed, 1e-9)
	assert.Equal(t, []float64{0.7, 0.55, 0.4}, roundAll(enc.qualities))
}

func TestCompressExhaustsFloorWithoutFit(t *testing.T) {
	// Floor 0.2 with step 0.15 from 0.7 allows qualities 0.7, 0.55, 0.4, 0.25:
	// four attempts, none fitting.
	enc := &scriptedEncoder{sizes: []int{300 << 10, 250 << 10, 200 << 10, 150 << 10}}
	res, err := newTestCompressor(enc).Compress(context.Background(), testPhoto(), 100<<10)
	require.Error(t, err)
	assert.Nil(t, res)

	var budgetErr *BudgetExceededError
	require.True(t, errors.As(err, &budgetErr))
	// The smallest attempt is retained for diagnostics, still over budget.
	assert.Equal(t, 150<<10, len(budgetErr.Best.Bytes))
	assert.Greater(t, len(budgetErr.Best.Bytes), budgetErr.BudgetBytes)
	assert.Len(t, enc.qualities, 4)
}

func TestCompressMaxAttemptsCap(t *testing.T) {
	policy := DefaultPolicy()
	policy.QualityStep = 0.05 // floor is never the binding limit
	policy.MaxAttempts = 3
	enc := &scriptedEncoder{sizes: []int{400 << 10, 300 << 10, 200 << 10}}

	_, err := NewCompressor(enc, policy, slog.Default()).Compress(context.Background(), testPhoto(), 100<<10)
	var budgetErr *BudgetExceededError
	require.True(t, errors.As(err, &budgetErr))
	assert.Len(t, enc.qualities, 3)
}

func TestCompressEncoderError(t *testing.T) {
	enc := &scriptedEncoder{err: errors.New("codec crashed")}
	_, err := newTestCompressor(enc).Compress(context.Background(), testPhoto(), 100<<10)
	require.Error(t, err)
	assert.NotErrorAs(t, err, new(*BudgetExceededError))
}

func roundAll(qs []float64) []float64 {
	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = float64(int(q*100+0.5)) / 100
	}
	return out
}
