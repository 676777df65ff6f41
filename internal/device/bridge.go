package device

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwisurya/fieldvisit/internal/domain"
	"github.com/dwisurya/fieldvisit/internal/watermark"
)

// Bridge talks to the platform shell's local device agent, which exposes the
// camera and geolocation hardware over loopback HTTP. It implements Camera and
// Locator.
type Bridge struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewBridge(baseURL string, logger *slog.Logger) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type photoPayload struct {
	MimeType string `json:"mime_type"`
	WidthPx  int    `json:"width_px"`
	Data     string `json:"data"` // base64
}

func (p photoPayload) decode() (domain.CapturedPhoto, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return domain.CapturedPhoto{}, fmt.Errorf("decode photo data: %w", err)
	}
	return domain.CapturedPhoto{Bytes: raw, MimeType: p.MimeType, WidthPx: p.WidthPx}, nil
}

func (b *Bridge) Ready() bool {
	resp, err := b.client.Get(b.baseURL + "/camera/ready")
	if err != nil {
		return false
	}
	defer closeBody(resp.Body, b.logger)

	var out struct {
		Ready bool `json:"ready"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK && out.Ready
}

func (b *Bridge) Capture(ctx context.Context, opts CaptureOptions) (domain.CapturedPhoto, error) {
	body, err := json.Marshal(map[string]any{"quality": opts.Quality, "mirror": opts.Mirror})
	if err != nil {
		return domain.CapturedPhoto{}, fmt.Errorf("marshal capture options: %w", err)
	}

	var out photoPayload
	if err := b.postJSON(ctx, "/camera/capture", body, &out); err != nil {
		return domain.CapturedPhoto{}, fmt.Errorf("camera capture: %w", err)
	}
	return out.decode()
}

func (b *Bridge) CurrentPosition(ctx context.Context, hint Accuracy) (domain.GeoPoint, error) {
	accuracy := "balanced"
	switch hint {
	case AccuracyCoarse:
		accuracy = "coarse"
	case AccuracyHigh:
		accuracy = "high"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/location?accuracy="+accuracy, nil)
	if err != nil {
		return domain.GeoPoint{}, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("location fix: %w", err)
	}
	defer closeBody(resp.Body, b.logger)

	if resp.StatusCode != http.StatusOK {
		return domain.GeoPoint{}, fmt.Errorf("location fix: agent returned %d", resp.StatusCode)
	}

	var out struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.GeoPoint{}, fmt.Errorf("decode location: %w", err)
	}
	return domain.NewGeoPoint(out.Lat, out.Lon)
}

func (b *Bridge) RequestPermission(ctx context.Context) (bool, error) {
	var out struct {
		Granted bool `json:"granted"`
	}
	if err := b.postJSON(ctx, "/location/permission", []byte("{}"), &out); err != nil {
		return false, fmt.Errorf("request location permission: %w", err)
	}
	return out.Granted, nil
}

func (b *Bridge) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp.Body, b.logger)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("agent returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func closeBody(c io.Closer, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}

// OverlayBridge drives the agent's overlay render surface. Render submits the
// photo and fields; the returned handle polls the agent until it reports the
// surface fully rendered, then closes its Done channel. This is the explicit
// render-complete signal the compositor requires.
type OverlayBridge struct {
	bridge       *Bridge
	pollInterval time.Duration
	pollBudget   time.Duration
}

func NewOverlayBridge(b *Bridge) *OverlayBridge {
	return &OverlayBridge{
		bridge:       b,
		pollInterval: 50 * time.Millisecond,
		pollBudget:   10 * time.Second,
	}
}

type overlayHandle struct {
	id     string
	bridge *Bridge
	done   chan struct{}
	err    error
}

func (h *overlayHandle) Done() <-chan struct{} { return h.done }

func (h *overlayHandle) Err() error { return h.err }

func (h *overlayHandle) Release() {
	req, err := http.NewRequest(http.MethodDelete, h.bridge.baseURL+"/overlay/"+h.id, nil)
	if err != nil {
		return
	}
	resp, err := h.bridge.client.Do(req)
	if err != nil {
		h.bridge.logger.Warn("overlay release failed", "overlay_id", h.id, "error", err)
		return
	}
	closeBody(resp.Body, h.bridge.logger)
}

func (o *OverlayBridge) Render(ctx context.Context, photo domain.CapturedPhoto, fields domain.WatermarkFields) (watermark.Handle, error) {
	body, err := json.Marshal(map[string]any{
		"photo": photoPayload{
			MimeType: photo.MimeType,
			WidthPx:  photo.WidthPx,
			Data:     base64.StdEncoding.EncodeToString(photo.Bytes),
		},
		"outlet_label":     fields.OutletLabel,
		"outlet_sub_label": fields.OutletSubLabel,
		"timestamp_text":   fields.TimestampText,
		"location_text":    fields.LocationText,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal overlay request: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := o.bridge.postJSON(ctx, "/overlay", body, &out); err != nil {
		return nil, fmt.Errorf("submit overlay: %w", err)
	}

	handle := &overlayHandle{id: out.ID, bridge: o.bridge, done: make(chan struct{})}
	go o.poll(ctx, handle)
	return handle, nil
}

// poll watches the agent until the overlay reports complete or failed, then
// fires the handle's Done signal exactly once.
func (o *OverlayBridge) poll(ctx context.Context, h *overlayHandle) {
	defer close(h.done)

	deadline := time.Now().Add(o.pollBudget)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.err = ctx.Err()
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			h.err = fmt.Errorf("overlay %s not rendered after %s", h.id, o.pollBudget)
			return
		}

		state, errMsg, err := o.status(ctx, h.id)
		if err != nil {
			h.err = err
			return
		}
		switch state {
		case "complete":
			return
		case "failed":
			h.err = fmt.Errorf("overlay render failed: %s", errMsg)
			return
		}
	}
}

func (o *OverlayBridge) status(ctx context.Context, id string) (state, errMsg string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.bridge.baseURL+"/overlay/"+id, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := o.bridge.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("overlay status: %w", err)
	}
	defer closeBody(resp.Body, o.bridge.logger)

	var out struct {
		State string `json:"state"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decode overlay status: %w", err)
	}
	return out.State, out.Error, nil
}

func (o *OverlayBridge) Snapshot(ctx context.Context, h watermark.Handle) (domain.CapturedPhoto, error) {
	oh, ok := h.(*overlayHandle)
	if !ok {
		return domain.CapturedPhoto{}, fmt.Errorf("snapshot: handle is %T, not an overlay handle", h)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.bridge.baseURL+"/overlay/"+oh.id+"/snapshot", nil)
	if err != nil {
		return domain.CapturedPhoto{}, err
	}
	resp, err := o.bridge.client.Do(req)
	if err != nil {
		return domain.CapturedPhoto{}, fmt.Errorf("snapshot overlay: %w", err)
	}
	defer closeBody(resp.Body, o.bridge.logger)

	if resp.StatusCode != http.StatusOK {
		return domain.CapturedPhoto{}, fmt.Errorf("snapshot overlay: agent returned %d", resp.StatusCode)
	}

	var out photoPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.CapturedPhoto{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return out.decode()
}
