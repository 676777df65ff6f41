package web

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPLimiterEnforcesBurstPerIP(t *testing.T) {
	l := newIPLimiter(1, 2, time.Minute)
	defer l.close()

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))

	// A different client has its own bucket.
	assert.True(t, l.allow("10.0.0.2"))
}

func TestIPLimiterCloseIsIdempotent(t *testing.T) {
	l := newIPLimiter(1, 1, time.Minute)
	l.close()
	l.close()

	select {
	case <-l.stop:
	default:
		t.Fatal("stop channel still open after close")
	}
}

func TestLimitMiddlewareRejectsOverBurst(t *testing.T) {
	l := newIPLimiter(1, 1, time.Minute)
	defer l.close()

	handler := l.middleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/outlets", nil)
	req.RemoteAddr = "10.0.0.9:4321"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
