// Package compress owns the size-budget search policy for visit media. The
// actual codecs live behind the Encoder interfaces; this package only decides
// how many times to try and at what quality.
package compress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

// Encoder resizes and re-encodes a photo at the given quality. Implementations
// are external collaborators (platform codec, stdlib JPEG, ...).
type Encoder interface {
	Encode(ctx context.Context, photo domain.CapturedPhoto, targetWidth int, quality float64) ([]byte, error)
}

// Policy is the quality-ladder search policy for photos.
type Policy struct {
	InitialQuality float64
	QualityStep    float64
	QualityFloor   float64
	MaxAttempts    int
	TargetWidth    int
}

// DefaultPolicy is tuned for outlet photos shot on mid-range handsets.
func DefaultPolicy() Policy {
	return Policy{
		InitialQuality: 0.7,
		QualityStep:    0.15,
		QualityFloor:   0.2,
		MaxAttempts:    5,
		TargetWidth:    1280,
	}
}

// Result is a successful compression outcome.
type Result struct {
	Bytes       []byte
	MimeType    string
	QualityUsed float64
	Attempts    int
}

// BudgetExceededError means no attempt within the policy met the byte budget.
// Best is the smallest artifact obtained, kept for diagnostics only; callers
// must never promote it to a submission.
type BudgetExceededError struct {
	BudgetBytes int
	Best        Result
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("could not compress below %d bytes: best attempt %d bytes after %d tries (quality %.2f)",
		e.BudgetBytes, len(e.Best.Bytes), e.Best.Attempts, e.Best.QualityUsed)
}

type Compressor struct {
	encoder Encoder
	policy  Policy
	logger  *slog.Logger
}

func NewCompressor(encoder Encoder, policy Policy, logger *slog.Logger) *Compressor {
	return &Compressor{encoder: encoder, policy: policy, logger: logger}
}

// Compress walks the quality ladder until an encode fits budgetBytes, giving
// up after MaxAttempts or once the next quality would drop below the floor.
// On success it returns the first attempt that met budget; on failure the
// returned error is a *BudgetExceededError carrying the smallest attempt.
func (c *Compressor) Compress(ctx context.Context, photo domain.CapturedPhoto, budgetBytes int) (*Result, error) {
	quality := c.policy.InitialQuality
	best := Result{MimeType: "image/jpeg"}

	for attempt := 1; attempt <= c.policy.MaxAttempts && quality >= c.policy.QualityFloor-1e-9; attempt++ {
		out, err := c.encoder.Encode(ctx, photo, c.policy.TargetWidth, quality)
		if err != nil {
			return nil, fmt.Errorf("encode attempt %d at quality %.2f: %w", attempt, quality, err)
		}

		c.logger.Debug("compression attempt",
			"attempt", attempt, "quality", quality, "bytes", len(out), "budget", budgetBytes)

		if len(out) <= budgetBytes {
			return &Result{
				Bytes:       out,
				MimeType:    "image/jpeg",
				QualityUsed: quality,
				Attempts:    attempt,
			}, nil
		}

		if best.Bytes == nil || len(out) < len(best.Bytes) {
			best = Result{Bytes: out, MimeType: "image/jpeg", QualityUsed: quality, Attempts: attempt}
		}
		quality -= c.policy.QualityStep
	}

	return nil, &BudgetExceededError{BudgetBytes: budgetBytes, Best: best}
}
