package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/directory"
	"github.com/hackgods/medical-appointment-platform/internal/metrics"
)

var dispatchTracer = otel.Tracer("scheduling.internal.notify.dispatcher")

var ErrNoChannel = errors.New("notify: patient has no reachable channel")

const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
	ChannelNone     = "none"

	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type TextSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, toName, subject, body string) (string, error)
}

// Recorder persists one row per dispatch attempt.
type Recorder interface {
	Record(ctx context.Context, n Notification) error
}

type Notification struct {
	ID            int64     `json:"id"`
	AppointmentID int64     `json:"appointment_id"`
	Channel       string    `json:"channel"`
	Recipient     string    `json:"recipient"`
	Template      string    `json:"template"`
	Status        string    `json:"status"`
	ExternalID    string    `json:"external_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Delivery is the outcome of one dispatch, suitable for journal payloads.
type Delivery struct {
	Channel    string `json:"channel"`
	To         string `json:"to,omitempty"`
	Template   string `json:"template"`
	Status     string `json:"status"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (d Delivery) Payload() map[string]any {
	out := map[string]any{
		"channel":  d.Channel,
		"template": d.Template,
		"status":   d.Status,
	}
	if d.ExternalID != "" {
		out["external_id"] = d.ExternalID
	}
	if d.Error != "" {
		out["error"] = d.Error
	}
	return out
}

// Dispatcher renders a template for an appointment and sends it over the
// patient's preferred channel: WhatsApp when a phone is known, else email.
type Dispatcher struct {
	dir      directory.Directory
	whatsapp TextSender
	email    EmailSender
	recorder Recorder
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type DispatcherConfig struct {
	Directory directory.Directory
	WhatsApp  TextSender
	Email     EmailSender
	Recorder  Recorder
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		dir:      cfg.Directory,
		whatsapp: cfg.WhatsApp,
		email:    cfg.Email,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With().Str("component", "notify").Logger(),
		metrics:  cfg.Metrics,
	}
}

// Notify sends template for appt. A non-nil error still comes with a Delivery
// describing what was attempted.
func (d *Dispatcher) Notify(ctx context.Context, appt appointment.Appointment, template string) (Delivery, error) {
	ctx, span := dispatchTracer.Start(ctx, "notify.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("appointment.id", appt.ID),
		attribute.String("notify.template", template),
	)

	delivery := Delivery{Channel: ChannelNone, Template: template, Status: StatusSkipped}

	patient, values, err := d.values(ctx, appt)
	if err != nil {
		delivery.Status = StatusFailed
		delivery.Error = err.Error()
		d.finish(ctx, appt, &delivery)
		span.RecordError(err)
		return delivery, err
	}
	subject, body, err := Render(template, values)
	if err != nil {
		delivery.Status = StatusFailed
		delivery.Error = err.Error()
		d.finish(ctx, appt, &delivery)
		return delivery, err
	}

	switch {
	case patient.Phone != nil && *patient.Phone != "" && d.whatsapp != nil:
		delivery.Channel = ChannelWhatsApp
		delivery.To = *patient.Phone
		delivery.ExternalID, err = d.whatsapp.SendText(ctx, delivery.To, body)
	case patient.Email != nil && *patient.Email != "" && d.email != nil:
		delivery.Channel = ChannelEmail
		delivery.To = *patient.Email
		delivery.ExternalID, err = d.email.SendEmail(ctx, delivery.To, patient.FullName(), subject, body)
	default:
		err = ErrNoChannel
		delivery.Error = err.Error()
		d.finish(ctx, appt, &delivery)
		return delivery, err
	}

	if err != nil {
		delivery.Status = StatusFailed
		delivery.Error = err.Error()
		span.RecordError(err)
	} else {
		delivery.Status = StatusSent
	}
	d.finish(ctx, appt, &delivery)
	return delivery, err
}

func (d *Dispatcher) finish(ctx context.Context, appt appointment.Appointment, delivery *Delivery) {
	d.metrics.ObserveNotification(delivery.Channel, delivery.Template, delivery.Status)

	evt := d.logger.Info()
	if delivery.Status == StatusFailed {
		evt = d.logger.Warn().Str("error", delivery.Error)
	}
	evt.Int64("appointment_id", appt.ID).
		Str("template", delivery.Template).
		Str("channel", delivery.Channel).
		Str("status", delivery.Status).
		Msg("notification dispatched")

	if d.recorder == nil {
		return
	}
	err := d.recorder.Record(ctx, Notification{
		AppointmentID: appt.ID,
		Channel:       delivery.Channel,
		Recipient:     delivery.To,
		Template:      delivery.Template,
		Status:        delivery.Status,
		ExternalID:    delivery.ExternalID,
		Error:         delivery.Error,
	})
	if err != nil {
		d.logger.Error().Err(err).Int64("appointment_id", appt.ID).Msg("failed to record notification")
	}
}

func (d *Dispatcher) values(ctx context.Context, appt appointment.Appointment) (*directory.Patient, Values, error) {
	patient, err := d.dir.Patient(ctx, appt.PatientID)
	if err != nil {
		return nil, Values{}, fmt.Errorf("load patient: %w", err)
	}
	doctor, err := d.dir.Doctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, Values{}, fmt.Errorf("load doctor: %w", err)
	}

	clinic := "the clinic"
	if appt.RoomID != nil {
		if room, err := d.dir.Room(ctx, *appt.RoomID); err == nil && room.ClinicName != "" {
			clinic = room.ClinicName
		}
	}

	return patient, Values{
		PatientName: patient.FullName(),
		DoctorName:  doctor.DisplayName(),
		ClinicName:  clinic,
		Date:        appt.StartAt.Format("02/01/2006"),
		Time:        appt.StartAt.Format("15:04"),
	}, nil
}
