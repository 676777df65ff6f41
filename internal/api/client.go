// Package api is the HTTP client for the visit server. It exposes exactly the
// two surfaces the pipeline needs: the pre-flight active-visit check and the
// raw multipart POST the submission coordinator builds payloads for.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

// Envelope is the server's uniform response wrapper. StatusCode mirrors the
// HTTP status; Message carries the server's human-readable text when present.
type Envelope struct {
	StatusCode int
	Message    string
	Data       json.RawMessage
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// ActiveVisit asks the server whether the outlet already has an open visit for
// this operator today. A nil result means the outlet is clear to check in.
func (c *Client) ActiveVisit(ctx context.Context, outletID int64) (*domain.ActiveVisit, error) {
	url := c.baseURL + "/visits/active?outlet_id=" + strconv.FormatInt(outletID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubmissionNetwork, err)
	}
	defer c.closeBody(resp.Body)

	env, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}
	if env.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("active visit check: server returned %d: %s", env.StatusCode, env.Message)
	}

	var data struct {
		VisitID int64  `json:"visit_id"`
		Message string `json:"message"`
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode active visit: %w", err)
	}
	if data.VisitID == 0 {
		return nil, nil
	}
	return &domain.ActiveVisit{VisitID: data.VisitID, Message: data.Message}, nil
}

// Post sends a request body to endpoint and returns the decoded envelope.
// Transport failures wrap domain.ErrSubmissionNetwork; a non-200 envelope is
// not an error at this layer, interpretation belongs to the caller.
func (c *Client) Post(ctx context.Context, endpoint, contentType string, body io.Reader) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubmissionNetwork, err)
	}
	defer c.closeBody(resp.Body)

	return decodeEnvelope(resp)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		c.logger.Error("failed to close response body", "error", err)
	}
}

func decodeEnvelope(resp *http.Response) (*Envelope, error) {
	var body struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		// A body the server never wrote (or wrote as junk) still carries the
		// status code; keep the envelope usable for error reporting.
		return &Envelope{StatusCode: resp.StatusCode}, nil
	}
	return &Envelope{StatusCode: resp.StatusCode, Message: body.Message, Data: body.Data}, nil
}
