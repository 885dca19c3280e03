package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/booking"
	"github.com/hackgods/medical-appointment-platform/internal/directory"
)

// allowedActions lists what each step accepts. Anything else is answered
// with the step's re-prompt.
var allowedActions = map[Step][]Action{
	StepInitial:         {ActionShowMenu},
	StepSelectingAction: {ActionShowMenu, ActionStartBooking, ActionViewAgenda},
	StepGettingCedula:   {ActionShowMenu, ActionProcessCedula},
	StepSelectingDoctor: {ActionShowMenu, ActionShowDoctors, ActionSelectDoctor},
	StepSelectingDate:   {ActionShowMenu, ActionSelectDoctor, ActionShowAvailability, ActionSelectSlot},
	StepConfirming:      {ActionShowMenu, ActionShowAvailability, ActionSelectSlot, ActionCreate},
	StepCompleted:       {ActionShowMenu, ActionStartBooking, ActionViewAgenda},
}

func allowed(step Step, action Action) bool {
	for _, a := range allowedActions[step] {
		if a == action {
			return true
		}
	}
	return false
}

const slotUnavailableText = "That slot is no longer available, please choose another."

func reprompt(step Step) Result {
	msg, ok := reprompts[step]
	if !ok {
		msg = menuText
	}
	return Result{Type: ResultReprompt, Message: msg}
}

// apply executes reply against s. s is only modified on success.
func (e *Engine) apply(ctx context.Context, actor Actor, s *Session, reply Reply) Result {
	if !allowed(s.Step, reply.Action) {
		return reprompt(s.Step)
	}

	switch reply.Action {
	case ActionShowMenu:
		s.Step = StepSelectingAction
		s.Context = ContextData{}
		return Result{Type: ResultMenu, Message: menuText, Options: menuOptions}

	case ActionStartBooking:
		s.Step = StepGettingCedula
		s.Context = ContextData{}
		return Result{Type: ResultPrompt, Message: reprompts[StepGettingCedula]}

	case ActionViewAgenda:
		options, res, ok := e.doctorOptions(ctx, actor)
		if !ok {
			return res
		}
		s.Step = StepSelectingDoctor
		s.Context = ContextData{Mode: ModeAgenda}
		return Result{
			Type:    ResultDoctors,
			Doctors: options,
			Message: joinText("Choose a doctor to see their availability:", renderDoctors(options)),
		}

	case ActionShowDoctors:
		options, res, ok := e.doctorOptions(ctx, actor)
		if !ok {
			return res
		}
		return Result{Type: ResultDoctors, Doctors: options, Message: renderDoctors(options)}

	case ActionProcessCedula:
		return e.processCedula(ctx, actor, s, reply.Data.String("cedula"))

	case ActionSelectDoctor:
		id, ok := reply.Data.Int("doctor_id")
		if !ok {
			return reprompt(s.Step)
		}
		return e.selectDoctor(ctx, actor, s, id)

	case ActionShowAvailability:
		if s.Context.DoctorID == nil {
			return reprompt(s.Step)
		}
		avail, res, ok := e.availability(ctx, actor, *s.Context.DoctorID, s.Context.DoctorName)
		if !ok {
			return res
		}
		s.Step = StepSelectingDate
		s.Context.ScheduleID = nil
		s.Context.SlotLabel = ""
		return Result{
			Type:         ResultAvailability,
			Availability: avail,
			Message:      joinText("Choose one of the available slots:", avail.render()),
		}

	case ActionSelectSlot:
		id, ok := reply.Data.Int("schedule_id")
		if !ok {
			return reprompt(s.Step)
		}
		return e.selectSlot(ctx, actor, s, id)

	case ActionCreate:
		return e.create(ctx, actor, s, reply.Data)
	}
	return reprompt(s.Step)
}

func (e *Engine) processCedula(ctx context.Context, actor Actor, s *Session, cedula string) Result {
	doc := directory.NormalizeDocument(cedula)
	if doc == "" {
		return reprompt(s.Step)
	}

	patient, err := e.directory.PatientByDocument(ctx, actor.TenantID, doc)
	if errors.Is(err, directory.ErrPatientNotFound) {
		return Result{
			Type:    ResultError,
			Error:   "patient_not_found",
			Message: fmt.Sprintf("No patient was found with document %s. Please check the number and send it again.", doc),
		}
	}
	if err != nil {
		return e.failure(err, "find patient")
	}

	options, res, ok := e.doctorOptions(ctx, actor)
	if !ok {
		return res
	}

	id := patient.ID
	s.Context.PatientID = &id
	s.Context.PatientName = patient.FullName()
	s.Step = StepSelectingDoctor

	return Result{
		Type: ResultPatientAndDoctors,
		Patient: &PatientSummary{
			ID:             patient.ID,
			DocumentNumber: patient.DocumentNumber,
			Name:           patient.FullName(),
		},
		Doctors: options,
		Message: joinText(
			fmt.Sprintf("Patient found: %s. Choose a doctor:", patient.FullName()),
			renderDoctors(options),
		),
	}
}

func (e *Engine) selectDoctor(ctx context.Context, actor Actor, s *Session, doctorID int64) Result {
	doc, err := e.directory.Doctor(ctx, doctorID)
	if errors.Is(err, directory.ErrDoctorNotFound) || (err == nil && doc.TenantID != actor.TenantID) {
		return Result{Type: ResultError, Error: "doctor_not_found", Message: joinText("That doctor was not found.", reprompts[StepSelectingDoctor])}
	}
	if err != nil {
		return e.failure(err, "find doctor")
	}

	avail, res, ok := e.availability(ctx, actor, doc.ID, doc.DisplayName())
	if !ok {
		return res
	}
	result := Result{Type: ResultAvailability, Availability: avail}

	if s.Context.Mode == ModeAgenda {
		s.Step = StepCompleted
		s.Context = ContextData{}
		result.Message = joinText(fmt.Sprintf("Availability of %s:", doc.DisplayName()), avail.render(), reprompts[StepCompleted])
		return result
	}

	if len(avail.Dates) == 0 {
		s.Step = StepSelectingDoctor
		s.Context.DoctorID = nil
		s.Context.DoctorName = ""
		result.Message = fmt.Sprintf("%s has no available slots. Please choose another doctor.", doc.DisplayName())
		return result
	}

	id := doc.ID
	s.Context.DoctorID = &id
	s.Context.DoctorName = doc.DisplayName()
	s.Context.ScheduleID = nil
	s.Context.SlotLabel = ""
	s.Step = StepSelectingDate
	result.Message = joinText(fmt.Sprintf("Availability of %s. Choose a slot:", doc.DisplayName()), avail.render())
	return result
}

func (e *Engine) selectSlot(ctx context.Context, actor Actor, s *Session, slotID int64) Result {
	if s.Context.DoctorID == nil {
		return reprompt(s.Step)
	}

	slot, err := e.slots.Check(ctx, actor.TenantID, *s.Context.DoctorID, slotID)
	if errors.Is(err, appointment.ErrSlotUnavailable) || errors.Is(err, appointment.ErrSlotNotFound) {
		return e.slotTaken(ctx, actor, *s.Context.DoctorID, s.Context.DoctorName)
	}
	if err != nil {
		return e.failure(err, "check slot")
	}

	opt := slotOption(*slot)
	id := slot.ID
	s.Context.ScheduleID = &id
	s.Context.SlotLabel = opt.Label
	s.Step = StepConfirming

	return Result{
		Type: ResultSlotSelected,
		Slot: &opt,
		Message: fmt.Sprintf("Book %s with %s on %s at %s? Reply yes to confirm or no to choose another slot.",
			patientLabel(s.Context), s.Context.DoctorName, opt.Date, opt.Start),
	}
}

func (e *Engine) create(ctx context.Context, actor Actor, s *Session, data Data) Result {
	if s.Context.PatientID == nil || s.Context.DoctorID == nil {
		return reprompt(s.Step)
	}
	slotID, ok := data.Int("schedule_id")
	if !ok {
		if s.Context.ScheduleID == nil {
			return e.slotTaken(ctx, actor, *s.Context.DoctorID, s.Context.DoctorName)
		}
		slotID = *s.Context.ScheduleID
	}

	appt, err := e.booker.Book(ctx, actor.TenantID, booking.BookRequest{
		PatientID: *s.Context.PatientID,
		DoctorID:  *s.Context.DoctorID,
		SlotID:    &slotID,
		Source:    "chat",
	})
	switch {
	case errors.Is(err, appointment.ErrSlotUnavailable), errors.Is(err, appointment.ErrSlotNotFound):
		res := e.slotTaken(ctx, actor, *s.Context.DoctorID, s.Context.DoctorName)
		s.Context.ScheduleID = nil
		s.Context.SlotLabel = ""
		return res
	case errors.Is(err, appointment.ErrCrossTenantReference),
		errors.Is(err, appointment.ErrPatientNotFound),
		errors.Is(err, appointment.ErrDoctorNotFound):
		return Result{Type: ResultError, Error: "not_found", Message: "The appointment could not be booked: not found."}
	case errors.Is(err, appointment.ErrRoomMismatch):
		return Result{Type: ResultError, Error: "room_mismatch", Message: "The appointment could not be booked: the slot's room does not match the doctor's room."}
	case err != nil:
		return e.failure(err, "book appointment")
	}

	msg := fmt.Sprintf("Appointment #%d booked for %s with %s on %s at %s.",
		appt.ID, patientLabel(s.Context), s.Context.DoctorName,
		appt.StartAt.Format("2006-01-02"), appt.StartAt.Format("15:04"))

	s.Step = StepCompleted
	s.Context = ContextData{}

	return Result{
		Type:        ResultAppointmentCreated,
		Appointment: appt,
		Message:     joinText(msg, reprompts[StepCompleted]),
	}
}

// slotTaken reports a lost slot together with what is still free.
func (e *Engine) slotTaken(ctx context.Context, actor Actor, doctorID int64, doctorName string) Result {
	res := Result{Type: ResultError, Error: "slot_unavailable", Message: slotUnavailableText}
	avail, _, ok := e.availability(ctx, actor, doctorID, doctorName)
	if ok {
		res.Availability = avail
		res.Message = joinText(slotUnavailableText, avail.render())
	}
	return res
}

func (e *Engine) doctorOptions(ctx context.Context, actor Actor) ([]DoctorOption, Result, bool) {
	doctors, err := e.directory.DoctorsForTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, e.failure(err, "list doctors"), false
	}
	if len(doctors) == 0 {
		return nil, Result{Type: ResultError, Error: "no_doctors", Message: "There are no doctors available."}, false
	}
	return doctorOptions(doctors), Result{}, true
}

func (e *Engine) availability(ctx context.Context, actor Actor, doctorID int64, doctorName string) (*Availability, Result, bool) {
	slots, err := e.slots.Preview(ctx, actor.TenantID, doctorID, nil)
	if err != nil {
		return nil, e.failure(err, "list availability"), false
	}
	return groupByDate(doctorID, doctorName, slots), Result{}, true
}

func (e *Engine) failure(err error, op string) Result {
	e.logger.Error().Err(err).Str("op", op).Msg("chat action failed")
	return Result{Type: ResultError, Error: "internal", Message: "Something went wrong, please try again."}
}

func patientLabel(c ContextData) string {
	if c.PatientName != "" {
		return c.PatientName
	}
	return "the patient"
}
