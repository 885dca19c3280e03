package chat

import (
	"fmt"
	"strings"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/directory"
)

const (
	ResultMenu               = "menu"
	ResultPrompt             = "prompt"
	ResultPatientAndDoctors  = "patient_and_doctors"
	ResultDoctors            = "doctors_list"
	ResultAvailability       = "availability"
	ResultSlotSelected       = "slot_selected"
	ResultAppointmentCreated = "appointment_created"
	ResultReprompt           = "reprompt"
	ResultError              = "error"
)

// Result is the structured outcome of a turn, returned to the client and
// stored in the action log.
type Result struct {
	Type         string                   `json:"type"`
	Message      string                   `json:"message,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Options      []MenuOption             `json:"options,omitempty"`
	Patient      *PatientSummary          `json:"patient,omitempty"`
	Doctors      []DoctorOption           `json:"doctors,omitempty"`
	Availability *Availability            `json:"availability,omitempty"`
	Slot         *SlotOption              `json:"slot,omitempty"`
	Appointment  *appointment.Appointment `json:"appointment,omitempty"`
}

func (r Result) failed() bool {
	return r.Type == ResultError || r.Type == ResultReprompt
}

type MenuOption struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

var menuOptions = []MenuOption{
	{ID: 1, Label: "Book an appointment for a patient"},
	{ID: 2, Label: "View a doctor's agenda"},
}

type PatientSummary struct {
	ID             int64  `json:"id"`
	DocumentNumber string `json:"document_number"`
	Name           string `json:"name"`
}

type DoctorOption struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Label     string `json:"label"`
}

func doctorOptions(doctors []directory.Doctor) []DoctorOption {
	out := make([]DoctorOption, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, DoctorOption{
			ID:        d.ID,
			Name:      d.DisplayName(),
			Specialty: d.SpecialtyOrDefault(),
			Label:     fmt.Sprintf("%d|%s", d.ID, d.DisplayName()),
		})
	}
	return out
}

func renderDoctors(options []DoctorOption) string {
	if len(options) == 0 {
		return "There are no doctors available."
	}
	var b strings.Builder
	for i, d := range options {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (%s)", d.Label, d.Specialty)
	}
	return b.String()
}

type SlotOption struct {
	ScheduleID int64  `json:"schedule_id"`
	Date       string `json:"date"`
	Start      string `json:"time"`
	End        string `json:"end_time"`
	Label      string `json:"label"`
}

func slotOption(s appointment.Slot) SlotOption {
	return SlotOption{
		ScheduleID: s.ID,
		Date:       s.Date.Format("2006-01-02"),
		Start:      s.StartTime.String(),
		End:        s.EndTime.String(),
		Label:      s.Label(),
	}
}

type DaySlots struct {
	Date  string       `json:"date"`
	Slots []SlotOption `json:"slots"`
}

// Availability groups a doctor's free slots by date.
type Availability struct {
	DoctorID   int64      `json:"doctor_id"`
	DoctorName string     `json:"doctor_name,omitempty"`
	Dates      []DaySlots `json:"available_dates"`
}

func groupByDate(doctorID int64, doctorName string, slots []appointment.Slot) *Availability {
	a := &Availability{DoctorID: doctorID, DoctorName: doctorName, Dates: []DaySlots{}}
	for _, s := range slots {
		opt := slotOption(s)
		if n := len(a.Dates); n > 0 && a.Dates[n-1].Date == opt.Date {
			a.Dates[n-1].Slots = append(a.Dates[n-1].Slots, opt)
			continue
		}
		a.Dates = append(a.Dates, DaySlots{Date: opt.Date, Slots: []SlotOption{opt}})
	}
	return a
}

const maxListedSlots = 20

func (a *Availability) render() string {
	if a == nil || len(a.Dates) == 0 {
		return "There are no available slots."
	}
	var b strings.Builder
	listed, total := 0, 0
	for _, day := range a.Dates {
		total += len(day.Slots)
	}
	for _, day := range a.Dates {
		if listed >= maxListedSlots {
			break
		}
		fmt.Fprintf(&b, "%s:\n", day.Date)
		for _, s := range day.Slots {
			if listed >= maxListedSlots {
				break
			}
			fmt.Fprintf(&b, "  %s\n", s.Label)
			listed++
		}
	}
	if total > listed {
		fmt.Fprintf(&b, "...and %d more.\n", total-listed)
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinText(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
