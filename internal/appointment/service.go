package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/metrics"
)

// Service applies lifecycle transitions. Each transition re-reads the
// appointment under a row lock and verifies its starting status in the same
// unit of work as the write and the journal append.
type Service struct {
	store   Store
	ledger  *Ledger
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewService(store Store, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		ledger:  NewLedger(store),
		logger:  logger.With().Str("component", "appointment").Logger(),
		metrics: m,
	}
}

func (s *Service) Ledger() *Ledger { return s.ledger }

// Create claims req.SlotID and binds a new PENDING appointment to it.
// The "created" journal entry is left to the caller.
func (s *Service) Create(ctx context.Context, tenantID int64, req CreateRequest) (*Appointment, error) {
	appt, err := s.create(ctx, tenantID, req)
	s.metrics.ObserveBooking(outcome(err))
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("appointment_id", appt.ID).
		Int64("slot_id", appt.SlotID).
		Int64("patient_id", appt.PatientID).
		Msg("appointment created")
	return appt, nil
}

func (s *Service) create(ctx context.Context, tenantID int64, req CreateRequest) (*Appointment, error) {
	slot, err := s.store.GetSlot(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	patientTenant, err := s.store.PatientTenant(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.store.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if patientTenant != tenantID || doctor.TenantID != tenantID || slot.TenantID != tenantID {
		return nil, ErrCrossTenantReference
	}
	if slot.DoctorID != doctor.ID {
		return nil, fmt.Errorf("slot %d belongs to another doctor: %w", slot.ID, ErrSlotUnavailable)
	}

	room, err := s.resolveRoom(ctx, tenantID, *slot, *doctor, req.RoomID)
	if err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		claimed, err := tx.ClaimSlot(ctx, slot.ID)
		if err != nil {
			return err
		}
		created, err = tx.InsertAppointment(ctx, Appointment{
			TenantID:  tenantID,
			PatientID: req.PatientID,
			DoctorID:  doctor.ID,
			RoomID:    room,
			SlotID:    claimed.ID,
			StartAt:   claimed.StartAt(),
			EndAt:     claimed.EndAt(),
			Status:    StatusPending,
			Notes:     req.Notes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// resolveRoom picks the room the appointment occupies: the slot's own room,
// else the doctor's fixed room, else whatever was requested.
func (s *Service) resolveRoom(ctx context.Context, tenantID int64, slot Slot, doctor DoctorRef, requested *int64) (*int64, error) {
	var room *int64
	switch {
	case slot.RoomID != nil:
		room = slot.RoomID
	case doctor.RoomID != nil:
		room = doctor.RoomID
	default:
		room = requested
	}
	if requested != nil && room != nil && *requested != *room {
		return nil, ErrRoomMismatch
	}
	if room == nil {
		return nil, nil
	}
	roomTenant, err := s.store.RoomTenant(ctx, *room)
	if err != nil {
		return nil, err
	}
	if roomTenant != tenantID {
		return nil, ErrCrossTenantReference
	}
	r := *room
	return &r, nil
}

// Confirm moves a PENDING appointment to CONFIRMED. It returns the journal
// entry written alongside the transition.
func (s *Service) Confirm(ctx context.Context, tenantID, id int64, payload Payload) (*Appointment, *Action, error) {
	return s.transition(ctx, tenantID, id, ActionConfirm, func(ctx context.Context, tx Tx, current Appointment) (*Appointment, Payload, error) {
		if current.Status != StatusPending {
			return nil, nil, fmt.Errorf("confirm from %s: %w", current.Status, ErrInvalidTransition)
		}
		next := current
		next.Status = StatusConfirmed
		updated, err := tx.UpdateAppointment(ctx, next, current.Status)
		return updated, payload, err
	})
}

// Cancel moves a non-terminal appointment to CANCELLED and frees its slot
// when nothing else holds it.
func (s *Service) Cancel(ctx context.Context, tenantID, id int64, payload Payload) (*Appointment, *Action, error) {
	return s.transition(ctx, tenantID, id, ActionCancel, func(ctx context.Context, tx Tx, current Appointment) (*Appointment, Payload, error) {
		if current.Status.Terminal() {
			return nil, nil, fmt.Errorf("cancel from %s: %w", current.Status, ErrInvalidTransition)
		}
		next := current
		next.Status = StatusCancelled
		updated, err := tx.UpdateAppointment(ctx, next, current.Status)
		if err != nil {
			return nil, nil, err
		}
		released, err := tx.ReleaseSlot(ctx, current.SlotID)
		if err != nil {
			return nil, nil, fmt.Errorf("release slot %d: %w", current.SlotID, err)
		}
		p := clonePayload(payload)
		p["prior_status"] = string(current.Status)
		p["slot_released"] = released
		return updated, p, nil
	})
}

// Reschedule moves a non-terminal appointment onto newSlotID. If the new slot
// cannot be claimed nothing changes.
func (s *Service) Reschedule(ctx context.Context, tenantID, id, newSlotID int64, payload Payload) (*Appointment, *Action, error) {
	appt, newSlot, room, err := s.prepareReschedule(ctx, tenantID, id, newSlotID)
	if err != nil {
		s.metrics.ObserveTransition(string(ActionReschedule), outcome(err))
		return nil, nil, err
	}

	return s.transition(ctx, tenantID, id, ActionReschedule, func(ctx context.Context, tx Tx, current Appointment) (*Appointment, Payload, error) {
		if current.Status.Terminal() {
			return nil, nil, fmt.Errorf("reschedule from %s: %w", current.Status, ErrInvalidTransition)
		}
		if current.DoctorID != appt.DoctorID || newSlot.ID == current.SlotID {
			return nil, nil, fmt.Errorf("slot %d cannot take appointment %d: %w", newSlot.ID, id, ErrSlotUnavailable)
		}

		claimed, err := tx.ClaimSlot(ctx, newSlot.ID)
		if err != nil {
			return nil, nil, err
		}

		next := current
		next.Status = StatusRescheduled
		next.SlotID = claimed.ID
		next.StartAt = claimed.StartAt()
		next.EndAt = claimed.EndAt()
		if room != nil {
			next.RoomID = room
		}
		updated, err := tx.UpdateAppointment(ctx, next, current.Status)
		if err != nil {
			return nil, nil, err
		}

		// the new binding is authoritative; a slot still held elsewhere stays taken
		released, err := tx.ReleaseSlot(ctx, current.SlotID)
		if err != nil {
			return nil, nil, fmt.Errorf("release slot %d: %w", current.SlotID, err)
		}

		p := clonePayload(payload)
		p["prior_slot_id"] = current.SlotID
		p["new_slot_id"] = claimed.ID
		p["prior_status"] = string(current.Status)
		p["prior_start_datetime"] = current.StartAt.Format(time.RFC3339)
		p["slot_released"] = released
		return updated, p, nil
	})
}

// prepareReschedule validates ownership, status and room placement before the
// unit of work starts. Status is re-checked inside it.
func (s *Service) prepareReschedule(ctx context.Context, tenantID, id, newSlotID int64) (*Appointment, *Slot, *int64, error) {
	appt, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if appt.Status.Terminal() {
		return nil, nil, nil, fmt.Errorf("reschedule from %s: %w", appt.Status, ErrInvalidTransition)
	}
	newSlot, err := s.store.GetSlot(ctx, newSlotID)
	if err != nil {
		return nil, nil, nil, err
	}
	if newSlot.TenantID != tenantID {
		return nil, nil, nil, ErrCrossTenantReference
	}
	if newSlot.DoctorID != appt.DoctorID {
		return nil, nil, nil, fmt.Errorf("slot %d belongs to another doctor: %w", newSlot.ID, ErrSlotUnavailable)
	}
	doctor, err := s.store.GetDoctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, nil, nil, err
	}
	room, err := s.resolveRoom(ctx, tenantID, *newSlot, *doctor, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return appt, newSlot, room, nil
}

// SetOutcome records COMPLETED or NO_SHOW. It has no slot side effects and is
// not journaled.
func (s *Service) SetOutcome(ctx context.Context, tenantID, id int64, status Status) (*Appointment, error) {
	if status != StatusCompleted && status != StatusNoShow {
		return nil, fmt.Errorf("outcome %s: %w", status, ErrInvalidTransition)
	}
	var updated *Appointment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := s.lockOwned(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%s from %s: %w", status, current.Status, ErrInvalidTransition)
		}
		next := *current
		next.Status = status
		updated, err = tx.UpdateAppointment(ctx, next, current.Status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type transitionFunc func(ctx context.Context, tx Tx, current Appointment) (*Appointment, Payload, error)

func (s *Service) transition(ctx context.Context, tenantID, id int64, action ActionType, fn transitionFunc) (*Appointment, *Action, error) {
	var (
		updated *Appointment
		entry   *Action
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := s.lockOwned(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		next, payload, err := fn(ctx, tx, *current)
		if err != nil {
			return err
		}
		entry, err = tx.AppendAction(ctx, Action{
			AppointmentID: id,
			Action:        action,
			Payload:       payload.encode(),
		})
		if err != nil {
			return fmt.Errorf("append %s action: %w", action, err)
		}
		updated = next
		return nil
	})

	s.metrics.ObserveTransition(string(action), outcome(err))
	if err != nil {
		s.logger.Debug().Err(err).Int64("appointment_id", id).Str("action", string(action)).Msg("transition rejected")
		return nil, nil, err
	}
	s.logger.Info().
		Int64("tenant_id", tenantID).
		Int64("appointment_id", id).
		Str("action", string(action)).
		Str("status", string(updated.Status)).
		Msg("appointment transitioned")
	return updated, entry, nil
}

func (s *Service) lockOwned(ctx context.Context, tx Tx, tenantID, id int64) (*Appointment, error) {
	current, err := tx.LockAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	return current, nil
}

// Get returns an appointment owned by tenantID.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

func (s *Service) ListByPatient(ctx context.Context, tenantID, patientID int64, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListAppointmentsByPatient(ctx, tenantID, patientID, limit, offset)
}

// LatestForPhone finds the appointment an inbound reply most likely refers to.
func (s *Service) LatestForPhone(ctx context.Context, phone string) (*Appointment, error) {
	return s.store.LatestAppointmentForPhone(ctx, phone)
}

// Actions returns the journal of an appointment in application order.
func (s *Service) Actions(ctx context.Context, tenantID, id int64) ([]Action, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.store.ListActions(ctx, id)
}

// RecordAction appends a caller-owned journal entry such as "created".
func (s *Service) RecordAction(ctx context.Context, appointmentID int64, action ActionType, payload Payload) (*Action, error) {
	return s.store.AppendAction(ctx, Action{
		AppointmentID: appointmentID,
		Action:        action,
		Payload:       payload.encode(),
	})
}

// AnnotateAction merges extra into the payload of a journal entry already
// written, such as the dispatch outcome of the notification that followed it.
func (s *Service) AnnotateAction(ctx context.Context, actionID int64, extra Payload) (*Action, error) {
	return s.store.MergeActionPayload(ctx, actionID, extra.encode())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrCrossTenantReference):
		return "cross_tenant"
	case errors.Is(err, ErrRoomMismatch):
		return "room_mismatch"
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrRoomNotFound):
		return "not_found"
	default:
		return "error"
	}
}
