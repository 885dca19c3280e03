// Package booking runs the explicit call sequence every channel uses:
// lifecycle transition, then notification, then journaling of the outcome.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/notify"
)

var ErrMissingSlot = errors.New("either slot_id or start and end are required")

// Lifecycle is the part of appointment.Service the booking flow drives.
type Lifecycle interface {
	Create(ctx context.Context, tenantID int64, req appointment.CreateRequest) (*appointment.Appointment, error)
	Confirm(ctx context.Context, tenantID, id int64, payload appointment.Payload) (*appointment.Appointment, *appointment.Action, error)
	Cancel(ctx context.Context, tenantID, id int64, payload appointment.Payload) (*appointment.Appointment, *appointment.Action, error)
	Reschedule(ctx context.Context, tenantID, id, newSlotID int64, payload appointment.Payload) (*appointment.Appointment, *appointment.Action, error)
	Get(ctx context.Context, tenantID, id int64) (*appointment.Appointment, error)
	RecordAction(ctx context.Context, appointmentID int64, action appointment.ActionType, payload appointment.Payload) (*appointment.Action, error)
	AnnotateAction(ctx context.Context, actionID int64, extra appointment.Payload) (*appointment.Action, error)
}

type SlotResolver interface {
	Resolve(ctx context.Context, tenantID, doctorID int64, roomID *int64, start, end time.Time) (*appointment.Slot, error)
}

type Notifier interface {
	Notify(ctx context.Context, appt appointment.Appointment, template string) (notify.Delivery, error)
}

type Service struct {
	lifecycle Lifecycle
	resolver  SlotResolver
	notifier  Notifier
	logger    zerolog.Logger
}

func NewService(lifecycle Lifecycle, resolver SlotResolver, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		lifecycle: lifecycle,
		resolver:  resolver,
		notifier:  notifier,
		logger:    logger.With().Str("component", "booking").Logger(),
	}
}

// BookRequest names either an explicit slot or a time range to resolve.
type BookRequest struct {
	PatientID int64
	DoctorID  int64
	SlotID    *int64
	RoomID    *int64
	Start     *time.Time
	End       *time.Time
	Notes     *string
	Source    string
}

// Book creates an appointment, notifies the patient and journals "created"
// with the dispatch outcome.
func (s *Service) Book(ctx context.Context, tenantID int64, req BookRequest) (*appointment.Appointment, error) {
	slotID, err := s.slotFor(ctx, tenantID, req.DoctorID, req.RoomID, req.SlotID, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	appt, err := s.lifecycle.Create(ctx, tenantID, appointment.CreateRequest{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		SlotID:    slotID,
		RoomID:    req.RoomID,
		Notes:     req.Notes,
	})
	if err != nil {
		return nil, err
	}

	payload := appointment.Payload{
		"source":  source(req.Source),
		"slot_id": appt.SlotID,
	}
	payload["notification"] = s.dispatch(ctx, *appt, notify.TemplateCreated)

	if _, err := s.lifecycle.RecordAction(ctx, appt.ID, appointment.ActionCreated, payload); err != nil {
		// the booking stands; only the journal entry is missing
		s.logger.Error().Err(err).Int64("appointment_id", appt.ID).Msg("failed to journal created action")
	}
	return appt, nil
}

// ActionRequest carries the inputs of a transition on an existing appointment.
type ActionRequest struct {
	SlotID  *int64
	Start   *time.Time
	End     *time.Time
	Reason  string
	Source  string
	Payload map[string]any
}

// Apply runs a confirm, cancel or reschedule and notifies the patient.
func (s *Service) Apply(ctx context.Context, tenantID, appointmentID int64, action appointment.ActionType, req ActionRequest) (*appointment.Appointment, error) {
	appt, _, err := s.ApplyNotified(ctx, tenantID, appointmentID, action, req)
	return appt, err
}

// ApplyNotified is Apply that also returns the delivery of the notification
// that followed the transition. The delivery is merged into the transition's
// journal entry.
func (s *Service) ApplyNotified(ctx context.Context, tenantID, appointmentID int64, action appointment.ActionType, req ActionRequest) (*appointment.Appointment, notify.Delivery, error) {
	payload := appointment.Payload{}
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload["source"] = source(req.Source)
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}

	var (
		appt     *appointment.Appointment
		entry    *appointment.Action
		template string
		err      error
	)
	switch action {
	case appointment.ActionConfirm:
		template = notify.TemplateConfirmed
		appt, entry, err = s.lifecycle.Confirm(ctx, tenantID, appointmentID, payload)
	case appointment.ActionCancel:
		template = notify.TemplateCancelled
		appt, entry, err = s.lifecycle.Cancel(ctx, tenantID, appointmentID, payload)
	case appointment.ActionReschedule:
		template = notify.TemplateRescheduled
		appt, entry, err = s.reschedule(ctx, tenantID, appointmentID, req, payload)
	default:
		return nil, notify.Delivery{}, fmt.Errorf("action %q: %w", action, appointment.ErrInvalidTransition)
	}
	if err != nil {
		return nil, notify.Delivery{}, err
	}

	delivery := s.deliver(ctx, *appt, template)
	if entry != nil {
		if _, err := s.lifecycle.AnnotateAction(ctx, entry.ID, appointment.Payload{"notification": delivery.Payload()}); err != nil {
			// the transition stands; only the dispatch context is missing
			s.logger.Error().Err(err).Int64("appointment_id", appt.ID).Int64("action_id", entry.ID).Msg("failed to journal dispatch outcome")
		}
	}
	return appt, delivery, nil
}

func (s *Service) reschedule(ctx context.Context, tenantID, appointmentID int64, req ActionRequest, payload appointment.Payload) (*appointment.Appointment, *appointment.Action, error) {
	current, err := s.lifecycle.Get(ctx, tenantID, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	if current.Status.Terminal() {
		return nil, nil, fmt.Errorf("reschedule from %s: %w", current.Status, appointment.ErrInvalidTransition)
	}
	slotID, err := s.slotFor(ctx, tenantID, current.DoctorID, current.RoomID, req.SlotID, req.Start, req.End)
	if err != nil {
		return nil, nil, err
	}
	return s.lifecycle.Reschedule(ctx, tenantID, appointmentID, slotID, payload)
}

func (s *Service) slotFor(ctx context.Context, tenantID, doctorID int64, roomID, slotID *int64, start, end *time.Time) (int64, error) {
	if slotID != nil {
		return *slotID, nil
	}
	if start == nil || end == nil {
		return 0, ErrMissingSlot
	}
	slot, err := s.resolver.Resolve(ctx, tenantID, doctorID, roomID, *start, *end)
	if err != nil {
		return 0, err
	}
	return slot.ID, nil
}

// dispatch never fails the caller; the outcome is returned for journaling.
func (s *Service) dispatch(ctx context.Context, appt appointment.Appointment, template string) map[string]any {
	return s.deliver(ctx, appt, template).Payload()
}

func (s *Service) deliver(ctx context.Context, appt appointment.Appointment, template string) notify.Delivery {
	if s.notifier == nil {
		return notify.Delivery{Channel: notify.ChannelNone, Template: template, Status: notify.StatusSkipped}
	}
	delivery, err := s.notifier.Notify(ctx, appt, template)
	if err != nil {
		s.logger.Warn().Err(err).Int64("appointment_id", appt.ID).Str("template", template).Msg("notification failed")
	}
	return delivery
}

func source(s string) string {
	if s == "" {
		return "api"
	}
	return s
}
