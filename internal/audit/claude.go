// Package audit runs an advisory quality check on the composited visit photo:
// is a storefront actually visible, and is the watermark legible? The verdict
// is attached to the session as a note for back-office review. It never gates
// submission; a failed or unreachable audit is logged and ignored.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

const auditPrompt = `This photo was taken by a field sales operator visiting the outlet "%s".
The overlay text should read "%s" and "%s".
In one short sentence, state whether the photo plausibly shows that outlet's storefront or interior
and whether the overlay text is legible. Start the sentence with OK or SUSPECT.`

type ClaudeAuditor struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

func NewClaudeAuditor(apiKey, model string, logger *slog.Logger, opts ...anthropic.ClientOption) *ClaudeAuditor {
	return &ClaudeAuditor{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
		logger: logger,
	}
}

// Audit sends the composited photo and its expected overlay to the model and
// returns the one-line verdict.
func (a *ClaudeAuditor) Audit(ctx context.Context, photo domain.CapturedPhoto, fields domain.WatermarkFields) (string, error) {
	prompt := fmt.Sprintf(auditPrompt, fields.OutletLabel, fields.TimestampText, fields.LocationText)

	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(a.model),
		MaxTokens: 128,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
						anthropic.MessagesContentSourceTypeBase64,
						photo.MimeType,
						photo.Bytes,
					)),
					anthropic.NewTextMessageContent(prompt),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("photo audit request: %w", err)
	}

	verdict := resp.GetFirstContentText()
	a.logger.Debug("photo audit verdict", "outlet", fields.OutletLabel, "verdict", verdict)
	return verdict, nil
}
