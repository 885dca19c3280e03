package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Ledger owns slot availability. Claim and release are single atomic
// check-and-set operations against the store; nothing here retries.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// FindCoveringSlots returns the available slots that fully contain the
// requested range, earliest start first and lowest id on ties.
func (l *Ledger) FindCoveringSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	if q.Start >= q.End {
		return nil, ErrInvalidTimeRange
	}
	q.Date = DateOf(q.Date)

	slots, err := l.store.FindCoveringSlots(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find covering slots: %w", err)
	}
	sortSlots(slots)
	return slots, nil
}

// Claim atomically takes a free slot in its own unit of work.
func (l *Ledger) Claim(ctx context.Context, slotID int64) (*Slot, error) {
	var claimed *Slot
	err := l.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		s, err := tx.ClaimSlot(ctx, slotID)
		if err != nil {
			return err
		}
		claimed = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Release frees the slot unless a live appointment still holds it. Calling it
// on an already free slot is a no-op.
func (l *Ledger) Release(ctx context.Context, slotID int64) (bool, error) {
	var released bool
	err := l.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.ReleaseSlot(ctx, slotID)
		released = ok
		return err
	})
	return released, err
}

// ListAvailable lists a doctor's free slots, optionally on a single day.
func (l *Ledger) ListAvailable(ctx context.Context, tenantID, doctorID int64, date *time.Time) ([]Slot, error) {
	if date != nil {
		d := DateOf(*date)
		date = &d
	}
	slots, err := l.store.ListAvailableSlots(ctx, tenantID, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].Date.Equal(slots[j].Date) {
			return slots[i].Date.Before(slots[j].Date)
		}
		if slots[i].StartTime != slots[j].StartTime {
			return slots[i].StartTime < slots[j].StartTime
		}
		return slots[i].ID < slots[j].ID
	})
	return slots, nil
}

// Get loads a slot visible to tenantID. Slots of other tenants are reported
// as not found.
func (l *Ledger) Get(ctx context.Context, tenantID, slotID int64) (*Slot, error) {
	s, err := l.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if s.TenantID != tenantID {
		return nil, ErrSlotNotFound
	}
	return s, nil
}

func sortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].StartTime != slots[j].StartTime {
			return slots[i].StartTime < slots[j].StartTime
		}
		return slots[i].ID < slots[j].ID
	})
}
