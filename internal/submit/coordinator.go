// Package submit builds the outbound visit payload and interprets the
// server's answer. It performs exactly one attempt per call with no retry or
// backoff: field operators resubmit manually, and a failed submission leaves
// the draft intact.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/dwisurya/fieldvisit/internal/api"
	"github.com/dwisurya/fieldvisit/internal/domain"
)

// Poster is the subset of api.Client the coordinator requires.
type Poster interface {
	Post(ctx context.Context, endpoint, contentType string, body io.Reader) (*api.Envelope, error)
}

type Coordinator struct {
	client Poster
	logger *slog.Logger
	now    func() time.Time
}

func NewCoordinator(client Poster, logger *slog.Logger) *Coordinator {
	return &Coordinator{client: client, logger: logger, now: time.Now}
}

// Submit sends the draft to the visit server and returns the server visit id.
// Check-in creates the visit record, check-out closes it; the two use distinct
// endpoints but share the payload shape. A non-200 envelope becomes a
// *domain.SubmissionRejectedError carrying the server message verbatim.
func (c *Coordinator) Submit(ctx context.Context, draft *domain.VisitDraft) (int64, error) {
	if err := draft.ReadyToSubmit(); err != nil {
		return 0, err
	}

	body, contentType, err := c.buildPayload(draft)
	if err != nil {
		return 0, fmt.Errorf("build payload: %w", err)
	}

	endpoint := "/visits"
	if draft.Mode == domain.ModeCheckOut {
		endpoint = fmt.Sprintf("/visits/%d/checkout", draft.VisitID)
	}

	c.logger.Info("submitting visit",
		"mode", draft.Mode, "outlet_id", draft.OutletID, "photo_bytes", draft.CompositedPhoto.SizeBytes())

	env, err := c.client.Post(ctx, endpoint, contentType, body)
	if err != nil {
		return 0, err
	}
	if env.StatusCode != http.StatusOK {
		return 0, &domain.SubmissionRejectedError{StatusCode: env.StatusCode, Message: env.Message}
	}

	return visitIDFrom(env, draft), nil
}

func (c *Coordinator) buildPayload(draft *domain.VisitDraft) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"outlet_id":  strconv.FormatInt(draft.OutletID, 10),
		"visit_type": string(draft.Mode),
		"location":   draft.CaptureLocation.Pair(),
	}
	if draft.Mode == domain.ModeCheckOut {
		fields["notes"] = draft.Notes
		fields["transaction"] = strconv.FormatBool(*draft.Transaction)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	filename := fmt.Sprintf("visit_%s_%s.jpg", draft.Mode, c.now().Format("20060102_150405"))
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename="%s"`, filename))
	header.Set("Content-Type", draft.CompositedPhoto.MimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(draft.CompositedPhoto.Bytes); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func visitIDFrom(env *api.Envelope, draft *domain.VisitDraft) int64 {
	var data struct {
		VisitID int64 `json:"visit_id"`
	}
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &data) == nil && data.VisitID != 0 {
		return data.VisitID
	}
	// Check-out responses may omit the id; the draft already knows it.
	return draft.VisitID
}
