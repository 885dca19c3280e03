package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender delivers plain text email through SendGrid.
type SendGridSender struct {
	client   *sendgrid.Client
	from     string
	fromName string
	logger   zerolog.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(apiKey, from string, logger zerolog.Logger) *SendGridSender {
	if apiKey == "" {
		return nil
	}
	return &SendGridSender{
		client:   sendgrid.NewSendClient(apiKey),
		from:     from,
		fromName: "Appointments",
		logger:   logger,
	}
}

// SendEmail returns SendGrid's message id when one is reported.
func (s *SendGridSender) SendEmail(ctx context.Context, to, toName, subject, body string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("notify: sendgrid client not configured")
	}

	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		subject,
		mail.NewEmail(toName, to),
		body,
		body,
	)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return "", fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error().Int("status", resp.StatusCode).Str("body", resp.Body).Str("to", to).Msg("sendgrid returned error status")
		return "", fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}

	var id string
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		id = ids[0]
	}
	s.logger.Info().Str("to", to).Str("subject", subject).Int("status", resp.StatusCode).Msg("email sent")
	return id, nil
}
