package appointment

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Units of work are serialized behind a
// single mutex and applied to a copy of the state, which is committed only
// when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	state memState

	doctors  map[int64]DoctorRef
	patients map[int64]memPatient
	rooms    map[int64]int64
}

type memPatient struct {
	tenantID int64
	phone    string
}

type memState struct {
	slots      map[int64]Slot
	appts      map[int64]Appointment
	actions    []Action
	nextSlot   int64
	nextAppt   int64
	nextAction int64
}

func (s memState) clone() memState {
	out := s
	out.slots = make(map[int64]Slot, len(s.slots))
	for k, v := range s.slots {
		out.slots[k] = v
	}
	out.appts = make(map[int64]Appointment, len(s.appts))
	for k, v := range s.appts {
		out.appts[k] = v
	}
	out.actions = append([]Action(nil), s.actions...)
	return out
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now: func() time.Time { return time.Now().UTC() },
		state: memState{
			slots: make(map[int64]Slot),
			appts: make(map[int64]Appointment),
		},
		doctors:  make(map[int64]DoctorRef),
		patients: make(map[int64]memPatient),
		rooms:    make(map[int64]int64),
	}
}

func (m *MemoryStore) AddDoctor(d DoctorRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *MemoryStore) AddPatient(id, tenantID int64, phone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[id] = memPatient{tenantID: tenantID, phone: phone}
}

func (m *MemoryStore) AddRoom(id, tenantID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[id] = tenantID
}

// AddSlot stores s, assigning an id when s.ID is zero.
func (m *MemoryStore) AddSlot(s Slot) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.state.nextSlot++
		s.ID = m.state.nextSlot
	} else if s.ID > m.state.nextSlot {
		m.state.nextSlot = s.ID
	}
	if s.GranularityMinutes == 0 {
		s.GranularityMinutes = 30
	}
	s.Date = DateOf(s.Date)
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	m.state.slots[s.ID] = s
	return s
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memTx{st: &work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) GetSlot(_ context.Context, id int64) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *MemoryStore) FindCoveringSlots(_ context.Context, q SlotQuery) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.state.slots {
		if s.TenantID != q.TenantID || s.DoctorID != q.DoctorID || !s.IsAvailable {
			continue
		}
		if !s.Date.Equal(DateOf(q.Date)) || !s.Covers(q.Start, q.End) {
			continue
		}
		if q.RoomID != nil && s.RoomID != nil && *s.RoomID != *q.RoomID {
			continue
		}
		out = append(out, s)
	}
	sortSlots(out)
	return out, nil
}

func (m *MemoryStore) ListAvailableSlots(_ context.Context, tenantID, doctorID int64, date *time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.state.slots {
		if s.TenantID != tenantID || s.DoctorID != doctorID || !s.IsAvailable {
			continue
		}
		if date != nil && !s.Date.Equal(DateOf(*date)) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetAppointment(_ context.Context, id int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListAppointmentsByPatient(_ context.Context, tenantID, patientID int64, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.state.appts {
		if a.TenantID == tenantID && a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.After(out[j].StartAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) LatestAppointmentForPhone(_ context.Context, phone string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Appointment
	for _, a := range m.state.appts {
		p, ok := m.patients[a.PatientID]
		if !ok || p.phone != phone {
			continue
		}
		a := a
		if best == nil || latestBefore(*best, a) {
			best = &a
		}
	}
	if best == nil {
		return nil, ErrAppointmentNotFound
	}
	return best, nil
}

// latestBefore orders live appointments ahead of terminal ones, then by
// start time and id, both descending.
func latestBefore(cur, cand Appointment) bool {
	if cur.Status.Terminal() != cand.Status.Terminal() {
		return cur.Status.Terminal()
	}
	if !cur.StartAt.Equal(cand.StartAt) {
		return cand.StartAt.After(cur.StartAt)
	}
	return cand.ID > cur.ID
}

func (m *MemoryStore) ListActions(_ context.Context, appointmentID int64) ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Action
	for _, a := range m.state.actions {
		if a.AppointmentID == appointmentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendAction(ctx context.Context, a Action) (*Action, error) {
	var out *Action
	err := m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.AppendAction(ctx, a)
		return err
	})
	return out, err
}

func (m *MemoryStore) MergeActionPayload(_ context.Context, actionID int64, extra json.RawMessage) (*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.state.actions {
		if a.ID != actionID {
			continue
		}
		merged := map[string]any{}
		if err := json.Unmarshal(a.Payload, &merged); err != nil {
			return nil, err
		}
		var add map[string]any
		if err := json.Unmarshal(extra, &add); err != nil {
			return nil, err
		}
		for k, v := range add {
			merged[k] = v
		}
		b, err := json.Marshal(merged)
		if err != nil {
			return nil, err
		}
		a.Payload = b
		m.state.actions[i] = a
		return &a, nil
	}
	return nil, ErrActionNotFound
}

func (m *MemoryStore) GetDoctor(_ context.Context, id int64) (*DoctorRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryStore) PatientTenant(_ context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return 0, ErrPatientNotFound
	}
	return p.tenantID, nil
}

func (m *MemoryStore) RoomTenant(_ context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rooms[id]
	if !ok {
		return 0, ErrRoomNotFound
	}
	return t, nil
}

type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) holder(slotID, except int64) bool {
	for _, a := range t.st.appts {
		if a.SlotID == slotID && a.ID != except && a.Status.HoldsSlot() {
			return true
		}
	}
	return false
}

func (t *memTx) ClaimSlot(_ context.Context, slotID int64) (*Slot, error) {
	s, ok := t.st.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if !s.IsAvailable || t.holder(slotID, 0) {
		return nil, ErrSlotUnavailable
	}
	s.IsAvailable = false
	s.UpdatedAt = t.now()
	t.st.slots[slotID] = s
	return &s, nil
}

func (t *memTx) ReleaseSlot(_ context.Context, slotID int64) (bool, error) {
	s, ok := t.st.slots[slotID]
	if !ok {
		return false, ErrSlotNotFound
	}
	if t.holder(slotID, 0) {
		return false, nil
	}
	if !s.IsAvailable {
		s.IsAvailable = true
		s.UpdatedAt = t.now()
		t.st.slots[slotID] = s
	}
	return true, nil
}

func (t *memTx) LockAppointment(_ context.Context, id int64) (*Appointment, error) {
	a, ok := t.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	if t.holder(a.SlotID, 0) {
		return nil, ErrSlotUnavailable
	}
	t.st.nextAppt++
	a.ID = t.st.nextAppt
	a.CreatedAt = t.now()
	a.UpdatedAt = a.CreatedAt
	t.st.appts[a.ID] = a
	return &a, nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a Appointment, from Status) (*Appointment, error) {
	cur, ok := t.st.appts[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if cur.Status != from {
		return nil, ErrInvalidTransition
	}
	if a.Status.HoldsSlot() && a.SlotID != cur.SlotID && t.holder(a.SlotID, a.ID) {
		return nil, ErrSlotUnavailable
	}
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = t.now()
	t.st.appts[a.ID] = a
	return &a, nil
}

func (t *memTx) AppendAction(_ context.Context, a Action) (*Action, error) {
	if _, ok := t.st.appts[a.AppointmentID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	t.st.nextAction++
	a.ID = t.st.nextAction
	a.CreatedAt = t.now()
	if len(a.Payload) == 0 {
		a.Payload = []byte(`{}`)
	}
	t.st.actions = append(t.st.actions, a)
	return &a, nil
}
