// Package chat implements the booking conversation: a per-session state
// machine that walks a staff user from patient identification to a
// confirmed booking, using a language model only to classify free text.
package chat

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var (
	ErrSessionNotFound    = errors.New("chat session not found")
	ErrSessionConflict    = errors.New("chat session was modified concurrently")
	ErrSessionBusy        = errors.New("chat session is handling another message")
	ErrEmptyMessage       = errors.New("message is required")
	ErrOracleTimeout      = errors.New("assistant timed out")
	ErrOracleUnavailable  = errors.New("assistant is unavailable")
	ErrOracleParseFailure = errors.New("assistant reply could not be parsed")
)

type Step string

const (
	StepInitial         Step = "initial"
	StepSelectingAction Step = "selecting_action"
	StepGettingCedula   Step = "getting_patient_cedula"
	StepSelectingDoctor Step = "selecting_doctor"
	StepSelectingDate   Step = "selecting_date"
	StepConfirming      Step = "confirming_appointment"
	StepCompleted       Step = "completed"
)

func (s Step) Valid() bool {
	switch s {
	case StepInitial, StepSelectingAction, StepGettingCedula, StepSelectingDoctor,
		StepSelectingDate, StepConfirming, StepCompleted:
		return true
	}
	return false
}

// Action is what a turn asks the engine to do.
type Action string

const (
	ActionNone             Action = ""
	ActionShowMenu         Action = "show_initial_menu"
	ActionStartBooking     Action = "start_booking"
	ActionViewAgenda       Action = "view_doctor_agenda"
	ActionProcessCedula    Action = "process_patient_cedula"
	ActionShowDoctors      Action = "show_doctors"
	ActionSelectDoctor     Action = "select_doctor"
	ActionShowAvailability Action = "show_availability"
	ActionSelectSlot       Action = "select_slot"
	ActionCreate           Action = "create_appointment"
)

const ModeAgenda = "agenda"

// ContextData is the scratch state accumulated during one flow.
type ContextData struct {
	Mode        string `json:"mode,omitempty"`
	PatientID   *int64 `json:"patient_id,omitempty"`
	PatientName string `json:"patient_name,omitempty"`
	DoctorID    *int64 `json:"doctor_id,omitempty"`
	DoctorName  string `json:"doctor_name,omitempty"`
	ScheduleID  *int64 `json:"schedule_id,omitempty"`
	SlotLabel   string `json:"slot_label,omitempty"`
}

type Session struct {
	ID        int64       `json:"id"`
	TenantID  int64       `json:"tenant_id"`
	UserID    int64       `json:"user_id"`
	Title     string      `json:"title"`
	IsActive  bool        `json:"is_active"`
	Step      Step        `json:"current_step"`
	Context   ContextData `json:"context_data"`
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Action     Action    `json:"action,omitempty"`
	ActionData Data      `json:"action_data,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActionLog is the audit record of one handled message.
type ActionLog struct {
	ID         int64           `json:"id"`
	SessionID  int64           `json:"session_id"`
	MessageID  *int64          `json:"message_id,omitempty"`
	UserID     int64           `json:"user_id"`
	RawContent string          `json:"raw_content"`
	Action     Action          `json:"action,omitempty"`
	Data       Data            `json:"action_data,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Actor is the authenticated caller driving a session.
type Actor struct {
	TenantID int64
	UserID   int64
	Role     string
}

// Data is the loosely typed payload attached to an action. Models send ids
// as numbers or strings; the accessors accept both.
type Data map[string]any

func (d Data) Int(key string) (int64, bool) {
	switch v := d[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (d Data) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}
