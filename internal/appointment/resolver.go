package appointment

import (
	"context"
	"time"
)

// Resolver maps a desired doctor/room/time range onto a concrete slot
// without claiming it.
type Resolver struct {
	ledger *Ledger
}

func NewResolver(ledger *Ledger) *Resolver {
	return &Resolver{ledger: ledger}
}

// Resolve returns the first covering available slot. start and end are wall
// clock times on the same calendar day.
func (r *Resolver) Resolve(ctx context.Context, tenantID, doctorID int64, roomID *int64, start, end time.Time) (*Slot, error) {
	if !end.After(start) || !DateOf(start).Equal(DateOf(end)) {
		return nil, ErrInvalidTimeRange
	}

	slots, err := r.ledger.FindCoveringSlots(ctx, SlotQuery{
		TenantID: tenantID,
		DoctorID: doctorID,
		RoomID:   roomID,
		Date:     start,
		Start:    ClockOf(start),
		End:      ClockOf(end),
	})
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, ErrNoAvailableSlot
	}
	return &slots[0], nil
}

// Preview lists what could be booked for a doctor without side effects.
func (r *Resolver) Preview(ctx context.Context, tenantID, doctorID int64, date *time.Time) ([]Slot, error) {
	return r.ledger.ListAvailable(ctx, tenantID, doctorID, date)
}

// Check returns the slot when it belongs to the doctor and is still free.
func (r *Resolver) Check(ctx context.Context, tenantID, doctorID, slotID int64) (*Slot, error) {
	s, err := r.ledger.Get(ctx, tenantID, slotID)
	if err != nil {
		return nil, err
	}
	if s.DoctorID != doctorID || !s.IsAvailable {
		return nil, ErrSlotUnavailable
	}
	return s, nil
}
