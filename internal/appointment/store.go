package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrSlotNotFound         = errors.New("slot not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrActionNotFound       = errors.New("appointment action not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrSlotUnavailable      = errors.New("slot is no longer available")
	ErrRoomMismatch         = errors.New("requested room does not match the doctor's assigned room")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrCrossTenantReference = errors.New("cross-tenant reference")
	ErrNoAvailableSlot      = errors.New("no available slot covers the requested range")
	ErrInvalidTimeRange     = errors.New("invalid time range")
)

// SlotQuery selects available slots of one doctor on one day that fully
// contain [Start,End). A non-nil RoomID also admits slots with no room.
type SlotQuery struct {
	TenantID int64
	DoctorID int64
	RoomID   *int64
	Date     time.Time
	Start    Clock
	End      Clock
}

// Store is the persistent side of the ledger and the lifecycle.
// Reads outside WithTx see committed state only.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetSlot(ctx context.Context, id int64) (*Slot, error)
	FindCoveringSlots(ctx context.Context, q SlotQuery) ([]Slot, error)
	ListAvailableSlots(ctx context.Context, tenantID, doctorID int64, date *time.Time) ([]Slot, error)

	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, tenantID, patientID int64, limit, offset int) ([]Appointment, error)
	LatestAppointmentForPhone(ctx context.Context, phone string) (*Appointment, error)

	ListActions(ctx context.Context, appointmentID int64) ([]Action, error)
	AppendAction(ctx context.Context, a Action) (*Action, error)
	// MergeActionPayload adds the keys of extra to an existing entry's payload.
	MergeActionPayload(ctx context.Context, actionID int64, extra json.RawMessage) (*Action, error)

	GetDoctor(ctx context.Context, id int64) (*DoctorRef, error)
	PatientTenant(ctx context.Context, id int64) (int64, error)
	RoomTenant(ctx context.Context, id int64) (int64, error)
}

// Tx is the unit of work in which claims, releases and transitions are applied.
type Tx interface {
	// ClaimSlot marks the slot unavailable only if it is available and no
	// live appointment references it. Otherwise ErrSlotUnavailable.
	ClaimSlot(ctx context.Context, slotID int64) (*Slot, error)
	// ReleaseSlot marks the slot available unless a live appointment still
	// references it, and reports whether it did.
	ReleaseSlot(ctx context.Context, slotID int64) (bool, error)

	LockAppointment(ctx context.Context, id int64) (*Appointment, error)
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	// UpdateAppointment writes a only if its stored status is still from.
	UpdateAppointment(ctx context.Context, a Appointment, from Status) (*Appointment, error)
	AppendAction(ctx context.Context, a Action) (*Action, error)
}
