// Package directory is the read side of the tenant-owned reference data:
// patients, doctors and rooms.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrRoomNotFound    = errors.New("room not found")
)

type Patient struct {
	ID             int64   `json:"id"`
	TenantID       int64   `json:"tenant_id"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	DocumentNumber string  `json:"document_number"`
	Phone          *string `json:"phone_number,omitempty"`
	Email          *string `json:"email,omitempty"`
}

func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Doctor struct {
	ID        int64   `json:"id"`
	TenantID  int64   `json:"tenant_id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Specialty *string `json:"specialty,omitempty"`
	RoomID    *int64  `json:"room_id,omitempty"`
}

// DisplayName renders the doctor the way patients see it.
func (d Doctor) DisplayName() string {
	return fmt.Sprintf("Dr(a). %s %s", d.FirstName, d.LastName)
}

func (d Doctor) SpecialtyOrDefault() string {
	if d.Specialty == nil || *d.Specialty == "" {
		return "General"
	}
	return *d.Specialty
}

type Room struct {
	ID         int64  `json:"id"`
	TenantID   int64  `json:"tenant_id"`
	ClinicID   int64  `json:"clinic_id"`
	Name       string `json:"name"`
	ClinicName string `json:"clinic_name"`
}

// Directory looks up reference entities. Every entity carries its tenant;
// callers compare it against the caller's identity.
type Directory interface {
	Patient(ctx context.Context, id int64) (*Patient, error)
	PatientByDocument(ctx context.Context, tenantID int64, document string) (*Patient, error)
	PatientByPhone(ctx context.Context, phone string) (*Patient, error)
	Doctor(ctx context.Context, id int64) (*Doctor, error)
	DoctorsForTenant(ctx context.Context, tenantID int64) ([]Doctor, error)
	Room(ctx context.Context, id int64) (*Room, error)
}

// NormalizeDocument strips separators users type into identity numbers.
func NormalizeDocument(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '.' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
