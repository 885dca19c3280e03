package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/booking"
	"github.com/hackgods/medical-appointment-platform/internal/notify"
)

type BookingService interface {
	Book(ctx context.Context, tenantID int64, req booking.BookRequest) (*appointment.Appointment, error)
	Apply(ctx context.Context, tenantID, appointmentID int64, action appointment.ActionType, req booking.ActionRequest) (*appointment.Appointment, error)
}

type AppointmentReader interface {
	Get(ctx context.Context, tenantID, id int64) (*appointment.Appointment, error)
	ListByPatient(ctx context.Context, tenantID, patientID int64, limit, offset int) ([]appointment.Appointment, error)
	Actions(ctx context.Context, tenantID, id int64) ([]appointment.Action, error)
	SetOutcome(ctx context.Context, tenantID, id int64, status appointment.Status) (*appointment.Appointment, error)
}

type SchedulePreviewer interface {
	Preview(ctx context.Context, tenantID, doctorID int64, date *time.Time) ([]appointment.Slot, error)
}

type Notifier interface {
	Notify(ctx context.Context, appt appointment.Appointment, template string) (notify.Delivery, error)
}

// identified wraps handlers that need the caller's identity.
func identified(fn func(w http.ResponseWriter, r *http.Request, id Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authorization required")
			return
		}
		fn(w, r, id)
	}
}

func createAppointmentHandler(svc BookingService, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		var req CreateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if req.PatientID <= 0 || req.DoctorID <= 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "patient_id and doctor_id are required")
			return
		}
		start, err := optionalWallClock(req.Start)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		end, err := optionalWallClock(req.End)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		appt, err := svc.Book(r.Context(), id.TenantID, booking.BookRequest{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			SlotID:    req.SlotID,
			RoomID:    req.RoomID,
			Start:     start,
			End:       end,
			Notes:     req.Notes,
			Source:    "api",
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	})
}

func appointmentActionHandler(svc BookingService, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		apptID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req ActionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, logger, err)
			return
		}

		action := appointment.ActionType(strings.ToLower(strings.TrimSpace(req.Action)))
		switch action {
		case appointment.ActionConfirm, appointment.ActionCancel, appointment.ActionReschedule:
		default:
			writeError(w, http.StatusBadRequest, "validation_error", "action must be confirm, cancel or reschedule")
			return
		}

		areq := booking.ActionRequest{
			Reason:  payloadString(req.Payload, "reason"),
			Source:  "api",
			Payload: map[string]any{"user_id": id.UserID},
		}
		if action == appointment.ActionReschedule {
			if areq.SlotID, err = payloadInt(req.Payload, "slot_id"); err != nil {
				writeDomainError(w, logger, err)
				return
			}
			if areq.Start, err = optionalWallClock(stringPtr(payloadString(req.Payload, "start_datetime"))); err != nil {
				writeDomainError(w, logger, err)
				return
			}
			if areq.End, err = optionalWallClock(stringPtr(payloadString(req.Payload, "end_datetime"))); err != nil {
				writeDomainError(w, logger, err)
				return
			}
		}

		appt, err := svc.Apply(r.Context(), id.TenantID, apptID, action, areq)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	})
}

func getAppointmentHandler(svc AppointmentReader, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		apptID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		appt, err := svc.Get(r.Context(), id.TenantID, apptID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	})
}

func listActionsHandler(svc AppointmentReader, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		apptID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		actions, err := svc.Actions(r.Context(), id.TenantID, apptID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		resp := make([]ActionResponse, 0, len(actions))
		for _, a := range actions {
			resp = append(resp, ActionResponse{
				ID:            a.ID,
				AppointmentID: a.AppointmentID,
				Action:        string(a.Action),
				Payload:       a.Payload,
				CreatedAt:     a.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func setOutcomeHandler(svc AppointmentReader, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		apptID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req OutcomeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		status := appointment.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
		if status != appointment.StatusCompleted && status != appointment.StatusNoShow {
			writeError(w, http.StatusBadRequest, "validation_error", "status must be COMPLETED or NO_SHOW")
			return
		}
		appt, err := svc.SetOutcome(r.Context(), id.TenantID, apptID, status)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	})
}

var reminderTemplates = map[string]bool{
	notify.TemplateReminder48h: true,
	notify.TemplateReminder24h: true,
}

// sendReminderHandler sends a reminder on demand, outside the worker schedule.
func sendReminderHandler(reader AppointmentReader, notifier Notifier, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		apptID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req ReminderRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeDomainError(w, logger, err)
				return
			}
		}
		if req.Template == "" {
			req.Template = notify.TemplateReminder24h
		}
		if !reminderTemplates[req.Template] {
			writeError(w, http.StatusBadRequest, "validation_error", "unknown reminder template")
			return
		}

		appt, err := reader.Get(r.Context(), id.TenantID, apptID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if appt.Status.Terminal() {
			writeError(w, http.StatusBadRequest, "invalid_transition", "appointment is "+string(appt.Status))
			return
		}
		if notifier == nil {
			writeError(w, http.StatusServiceUnavailable, "notifications_disabled", "no notification channel is configured")
			return
		}

		delivery, err := notifier.Notify(r.Context(), *appt, req.Template)
		if err != nil {
			logger.Warn().Err(err).Int64("appointment_id", appt.ID).Msg("reminder delivery failed")
			writeJSON(w, http.StatusBadGateway, delivery)
			return
		}
		writeJSON(w, http.StatusOK, delivery)
	})
}

func listPatientAppointmentsHandler(svc AppointmentReader, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		patientID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		appts, err := svc.ListByPatient(r.Context(), id.TenantID, patientID, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if appts == nil {
			appts = []appointment.Appointment{}
		}
		writeJSON(w, http.StatusOK, appts)
	})
}

// listSchedulesHandler serves GET /schedules?doctor=&date=. Only available
// slots are listed.
func listSchedulesHandler(svc SchedulePreviewer, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		q := r.URL.Query()
		doctorID := int64(queryInt(r, "doctor", 0))
		if doctorID <= 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "doctor is required")
			return
		}
		if v := q.Get("available"); v != "" && v != "true" {
			writeError(w, http.StatusBadRequest, "validation_error", "only available=true is supported")
			return
		}

		var date *time.Time
		if v := q.Get("date"); v != "" {
			d, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
				return
			}
			date = &d
		}

		slots, err := svc.Preview(r.Context(), id.TenantID, doctorID, date)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		resp := make([]ScheduleResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toScheduleResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
