package compress

import (
	"context"
	"fmt"
)

// VideoEncoder compresses a raw video capture with a fixed preset. Used only
// by the outlet-edit media flow.
type VideoEncoder interface {
	Compress(ctx context.Context, raw []byte, preset string, quality float64) ([]byte, error)
}

// VideoPolicy is the coarser, single-pass policy for outlet videos: no quality
// ladder, one encode, and a hard size check on both sides of it.
type VideoPolicy struct {
	BudgetBytes     int
	RawCeilingBytes int
	Preset          string
	Quality         float64
}

func DefaultVideoPolicy() VideoPolicy {
	return VideoPolicy{
		BudgetBytes:     5 << 20,
		RawCeilingBytes: 15 << 20,
		Preset:          "medium",
		Quality:         0.6,
	}
}

// RawTooLargeError rejects a capture before any encode is attempted, so an
// obviously hopeless input does not burn an expensive transcode.
type RawTooLargeError struct {
	SizeBytes    int
	CeilingBytes int
}

func (e *RawTooLargeError) Error() string {
	return fmt.Sprintf("raw video is %d bytes, over the %d byte pre-compression ceiling", e.SizeBytes, e.CeilingBytes)
}

// CompressVideo runs the single-pass video variant of the size-budget check.
// A raw capture over the ceiling is rejected up front; an encode that still
// exceeds the budget fails with *BudgetExceededError, never a silently
// oversized success.
func CompressVideo(ctx context.Context, enc VideoEncoder, raw []byte, policy VideoPolicy) ([]byte, error) {
	if len(raw) > policy.RawCeilingBytes {
		return nil, &RawTooLargeError{SizeBytes: len(raw), CeilingBytes: policy.RawCeilingBytes}
	}

	out, err := enc.Compress(ctx, raw, policy.Preset, policy.Quality)
	if err != nil {
		return nil, fmt.Errorf("video encode: %w", err)
	}

	if len(out) > policy.BudgetBytes {
		return nil, &BudgetExceededError{
			BudgetBytes: policy.BudgetBytes,
			Best:        Result{Bytes: out, MimeType: "video/mp4", QualityUsed: policy.Quality, Attempts: 1},
		}
	}
	return out, nil
}
