// Package webhook turns inbound WhatsApp replies into lifecycle actions on
// the sender's most recent appointment.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/booking"
	"github.com/hackgods/medical-appointment-platform/internal/intent"
	"github.com/hackgods/medical-appointment-platform/internal/metrics"
	"github.com/hackgods/medical-appointment-platform/internal/notify"
)

var tracer = otel.Tracer("scheduling.internal.webhook")

var (
	ErrMissingSender = errors.New("sender address is required")
	ErrNoAppointment = errors.New("no appointment found for sender")
)

const (
	replyConfirmed  = "Your appointment is confirmed. Thank you!"
	replyCancelled  = "Your appointment was cancelled. Thank you for letting us know."
	replyReschedule = "We received your request. Our team will contact you to reschedule."
	replyClosed     = "This appointment can no longer be changed. Please contact the clinic."
	replyUnknown    = "Please reply: Confirm / Reschedule / Cancel"
)

// Inbound is one message delivered by the messaging provider.
type Inbound struct {
	From      string
	To        string
	Body      string
	MessageID string
}

type Outcome struct {
	Duplicate     bool               `json:"duplicate"`
	Intent        intent.Intent      `json:"intent"`
	Result        string             `json:"result"`
	AppointmentID int64              `json:"appointment_id,omitempty"`
	Status        appointment.Status `json:"status,omitempty"`
	Reply         string             `json:"reply,omitempty"`
}

type AppointmentFinder interface {
	LatestForPhone(ctx context.Context, phone string) (*appointment.Appointment, error)
}

type Applier interface {
	ApplyNotified(ctx context.Context, tenantID, appointmentID int64, action appointment.ActionType, req booking.ActionRequest) (*appointment.Appointment, notify.Delivery, error)
}

type TextSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Config struct {
	Appointments AppointmentFinder
	Booking      Applier
	Replier      TextSender
	Deduper      Deduper
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

type Processor struct {
	appointments AppointmentFinder
	booking      Applier
	replier      TextSender
	deduper      Deduper
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

func NewProcessor(cfg Config) *Processor {
	return &Processor{
		appointments: cfg.Appointments,
		booking:      cfg.Booking,
		replier:      cfg.Replier,
		deduper:      cfg.Deduper,
		logger:       cfg.Logger.With().Str("component", "webhook").Logger(),
		metrics:      cfg.Metrics,
	}
}

// Process classifies msg and applies the matching transition. A message id
// already processed returns a duplicate outcome without side effects.
func (p *Processor) Process(ctx context.Context, msg Inbound) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "webhook.process")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.message_id", msg.MessageID))

	phone := strings.TrimSpace(strings.TrimPrefix(msg.From, "whatsapp:"))
	if phone == "" {
		return nil, ErrMissingSender
	}

	if p.deduper != nil {
		first, err := p.deduper.FirstSeen(ctx, msg.MessageID)
		if err != nil {
			p.logger.Warn().Err(err).Str("message_id", msg.MessageID).Msg("dedupe unavailable, processing anyway")
		} else if !first {
			p.metrics.ObserveWebhook("", "duplicate")
			return &Outcome{Duplicate: true, Result: "duplicate"}, nil
		}
	}

	out, err := p.process(ctx, phone, msg)
	if err != nil {
		// let the provider's retry reach us again
		if p.deduper != nil {
			if ferr := p.deduper.Forget(context.WithoutCancel(ctx), msg.MessageID); ferr != nil {
				p.logger.Warn().Err(ferr).Str("message_id", msg.MessageID).Msg("failed to forget message id")
			}
		}
		span.RecordError(err)
		p.metrics.ObserveWebhook("", "error")
		return nil, err
	}

	p.metrics.ObserveWebhook(string(out.Intent), out.Result)
	if out.Reply != "" {
		p.reply(ctx, phone, out.Reply)
	}

	p.logger.Info().
		Str("message_id", msg.MessageID).
		Str("intent", string(out.Intent)).
		Str("result", out.Result).
		Int64("appointment_id", out.AppointmentID).
		Msg("inbound message handled")
	return out, nil
}

func (p *Processor) process(ctx context.Context, phone string, msg Inbound) (*Outcome, error) {
	appt, err := p.appointments.LatestForPhone(ctx, phone)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, ErrNoAppointment
	}
	if err != nil {
		return nil, fmt.Errorf("find appointment for %s: %w", phone, err)
	}

	out := &Outcome{
		Intent:        intent.Classify(msg.Body),
		AppointmentID: appt.ID,
		Status:        appt.Status,
	}

	var action appointment.ActionType
	switch out.Intent {
	case intent.Confirm:
		action, out.Reply = appointment.ActionConfirm, replyConfirmed
	case intent.Cancel:
		action, out.Reply = appointment.ActionCancel, replyCancelled
	case intent.Reschedule:
		// no slot is named in a free-text reply; staff follow up
		out.Result, out.Reply = "reschedule_requested", replyReschedule
		return out, nil
	default:
		out.Result, out.Reply = "unrecognized", replyUnknown
		return out, nil
	}

	updated, delivery, err := p.booking.ApplyNotified(ctx, appt.TenantID, appt.ID, action, booking.ActionRequest{
		Source: "whatsapp",
		Payload: map[string]any{
			"from":       msg.From,
			"body":       msg.Body,
			"message_id": msg.MessageID,
		},
	})
	if errors.Is(err, appointment.ErrInvalidTransition) {
		out.Result, out.Reply = "invalid_transition", replyClosed
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s to appointment %d: %w", action, appt.ID, err)
	}

	out.Result = string(action)
	out.Status = updated.Status
	if delivery.Channel == notify.ChannelWhatsApp && delivery.Status == notify.StatusSent {
		// the template message already told the patient
		out.Reply = ""
	}
	return out, nil
}

func (p *Processor) reply(ctx context.Context, phone, body string) {
	if p.replier == nil {
		return
	}
	if _, err := p.replier.SendText(ctx, phone, body); err != nil {
		p.logger.Warn().Err(err).Str("to", phone).Msg("failed to send webhook reply")
	}
}
