package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/webhook"
)

type InboundProcessor interface {
	Process(ctx context.Context, msg webhook.Inbound) (*webhook.Outcome, error)
}

// WebhookConfig enables signature checks when both fields are set.
type WebhookConfig struct {
	AuthToken string
	PublicURL string
}

func whatsappWebhookHandler(p InboundProcessor, cfg WebhookConfig, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "could not parse form body")
			return
		}

		if cfg.AuthToken != "" && cfg.PublicURL != "" {
			sig := r.Header.Get("X-Twilio-Signature")
			if !webhook.ValidSignature(cfg.AuthToken, cfg.PublicURL, sig, r.PostForm) {
				logger.Warn().Str("from", r.PostForm.Get("From")).Msg("rejected webhook with bad signature")
				writeError(w, http.StatusForbidden, "forbidden", "invalid signature")
				return
			}
		}

		outcome, err := p.Process(r.Context(), webhook.Inbound{
			From:      r.PostForm.Get("From"),
			To:        r.PostForm.Get("To"),
			Body:      r.PostForm.Get("Body"),
			MessageID: r.PostForm.Get("MessageSid"),
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}
