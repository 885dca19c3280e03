package appointment

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusRescheduled Status = "RESCHEDULED"
	StatusCancelled   Status = "CANCELLED"
	StatusCompleted   Status = "COMPLETED"
	StatusNoShow      Status = "NO_SHOW"
)

// Terminal reports whether no further transition is permitted out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// HoldsSlot reports whether an appointment in s still occupies its slot.
func (s Status) HoldsSlot() bool {
	return s != StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRescheduled, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

type ActionType string

const (
	ActionCreated    ActionType = "created"
	ActionConfirm    ActionType = "confirm"
	ActionCancel     ActionType = "cancel"
	ActionReschedule ActionType = "reschedule"
)

// Clock is a wall-clock time of day, in minutes since midnight.
type Clock int

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ClockOf returns the time of day of t, truncated to the minute.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On places the clock on the calendar day of date, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, date.Location())
}

// DateOf strips the time of day from t, keeping it in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Slot is a bookable window of a doctor's schedule.
type Slot struct {
	ID                 int64     `json:"id"`
	TenantID           int64     `json:"tenant_id"`
	DoctorID           int64     `json:"doctor_id"`
	RoomID             *int64    `json:"room_id,omitempty"`
	Date               time.Time `json:"date"`
	StartTime          Clock     `json:"start_time"`
	EndTime            Clock     `json:"end_time"`
	GranularityMinutes int       `json:"slot_minutes"`
	IsAvailable        bool      `json:"is_available"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Covers reports whether [start,end) lies within the slot's window.
func (s Slot) Covers(start, end Clock) bool {
	return s.StartTime <= start && end <= s.EndTime
}

func (s Slot) StartAt() time.Time { return s.StartTime.On(s.Date) }
func (s Slot) EndAt() time.Time   { return s.EndTime.On(s.Date) }

// Label renders the slot as the "id|label" token used in chat listings.
func (s Slot) Label() string {
	return fmt.Sprintf("%d|%s %s-%s", s.ID, s.Date.Format("2006-01-02"), s.StartTime, s.EndTime)
}

type Appointment struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	PatientID int64     `json:"patient_id"`
	DoctorID  int64     `json:"doctor_id"`
	RoomID    *int64    `json:"room_id,omitempty"`
	SlotID    int64     `json:"slot_id"`
	StartAt   time.Time `json:"start_datetime"`
	EndAt     time.Time `json:"end_datetime"`
	Status    Status    `json:"status"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action is one entry of an appointment's append-only journal.
type Action struct {
	ID            int64           `json:"id"`
	AppointmentID int64           `json:"appointment_id"`
	Action        ActionType      `json:"action"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DoctorRef carries the ownership and room binding needed to place a booking.
type DoctorRef struct {
	ID       int64
	TenantID int64
	RoomID   *int64
}

// CreateRequest describes a booking on an explicit slot.
type CreateRequest struct {
	PatientID int64
	DoctorID  int64
	SlotID    int64
	RoomID    *int64
	Notes     *string
}

// Payload is free-form context attached to a journal entry.
type Payload map[string]any

func (p Payload) encode() json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage(`{}`)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func clonePayload(p Payload) Payload {
	out := make(Payload, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}
