package directory

import (
	"context"
	"sort"
	"sync"
)

// Static is an in-memory Directory for tests and local tooling.
type Static struct {
	mu       sync.RWMutex
	patients map[int64]Patient
	doctors  map[int64]Doctor
	rooms    map[int64]Room
}

func NewStatic() *Static {
	return &Static{
		patients: make(map[int64]Patient),
		doctors:  make(map[int64]Doctor),
		rooms:    make(map[int64]Room),
	}
}

func (s *Static) PutPatient(p Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.DocumentNumber = NormalizeDocument(p.DocumentNumber)
	s.patients[p.ID] = p
}

func (s *Static) PutDoctor(d Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
}

func (s *Static) PutRoom(r Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
}

func (s *Static) Patient(_ context.Context, id int64) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (s *Static) PatientByDocument(_ context.Context, tenantID int64, document string) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := NormalizeDocument(document)
	for _, p := range s.patients {
		if p.TenantID == tenantID && p.DocumentNumber == doc {
			p := p
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (s *Static) PatientByPhone(_ context.Context, phone string) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Patient
	for _, p := range s.patients {
		if p.Phone != nil && *p.Phone == phone && (best == nil || p.ID < best.ID) {
			p := p
			best = &p
		}
	}
	if best == nil {
		return nil, ErrPatientNotFound
	}
	return best, nil
}

func (s *Static) Doctor(_ context.Context, id int64) (*Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (s *Static) DoctorsForTenant(_ context.Context, tenantID int64) ([]Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Doctor
	for _, d := range s.doctors {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Static) Room(_ context.Context, id int64) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &r, nil
}
