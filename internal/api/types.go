package api

import (
	"encoding/json"
	"time"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID int64   `json:"patient_id"`
	DoctorID  int64   `json:"doctor_id"`
	SlotID    *int64  `json:"slot_id,omitempty"`
	RoomID    *int64  `json:"room_id,omitempty"`
	Start     *string `json:"start_datetime,omitempty"`
	End       *string `json:"end_datetime,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// ActionRequest is the body of POST /appointments/{id}/actions. For
// reschedule the payload names either slot_id or start_datetime and
// end_datetime.
type ActionRequest struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

type OutcomeRequest struct {
	Status string `json:"status"`
}

type ReminderRequest struct {
	Template string `json:"template,omitempty"`
}

type ActionResponse struct {
	ID            int64           `json:"id"`
	AppointmentID int64           `json:"appointment_id"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ScheduleResponse struct {
	ID          int64  `json:"id"`
	DoctorID    int64  `json:"doctor_id"`
	RoomID      *int64 `json:"room_id,omitempty"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
	IsAvailable bool   `json:"is_available"`
	Label       string `json:"label"`
}

func toScheduleResponse(s appointment.Slot) ScheduleResponse {
	return ScheduleResponse{
		ID:          s.ID,
		DoctorID:    s.DoctorID,
		RoomID:      s.RoomID,
		Date:        s.Date.Format("2006-01-02"),
		StartTime:   s.StartTime.String(),
		EndTime:     s.EndTime.String(),
		SlotMinutes: s.GranularityMinutes,
		IsAvailable: s.IsAvailable,
		Label:       s.Label(),
	}
}

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type SendMessageRequest struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
