package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

func testFields() domain.WatermarkFields {
	return domain.WatermarkFields{
		OutletLabel:    "Toko Sinar Jaya",
		OutletSubLabel: "Jl. Kebon Sirih 12",
		TimestampText:  "2026-08-29 10:15:00",
		LocationText:   "-6.200100, 106.800100",
	}
}

func TestAuditReturnsVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"id":   "msg_test",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "OK, the storefront and overlay are clearly visible."},
			},
			"model":       "claude-3-5-haiku-latest",
			"stop_reason": "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	a := NewClaudeAuditor("sk-test", "claude-3-5-haiku-latest", slog.Default(), anthropic.WithBaseURL(server.URL))

	verdict, err := a.Audit(context.Background(),
		domain.CapturedPhoto{Bytes: []byte{0xFF, 0xD8}, MimeType: "image/jpeg", WidthPx: 1280},
		testFields())
	require.NoError(t, err)
	assert.Equal(t, "OK, the storefront and overlay are clearly visible.", verdict)
}

func TestAuditAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "rate limited"},
		})
	}))
	defer server.Close()

	a := NewClaudeAuditor("sk-test", "claude-3-5-haiku-latest", slog.Default(), anthropic.WithBaseURL(server.URL))

	_, err := a.Audit(context.Background(),
		domain.CapturedPhoto{Bytes: []byte{0xFF, 0xD8}, MimeType: "image/jpeg", WidthPx: 1280},
		testFields())
	assert.Error(t, err)
}
