package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgDirectory struct {
	pool pgxQuerier
}

func NewPgDirectory(pool pgxQuerier) *PgDirectory {
	return &PgDirectory{pool: pool}
}

const patientColumns = `id, tenant_id, first_name, last_name, document_number, phone_number, email`

const doctorColumns = `id, tenant_id, first_name, last_name, specialty, room_id`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.TenantID, &p.FirstName, &p.LastName, &p.DocumentNumber, &p.Phone, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.TenantID, &d.FirstName, &d.LastName, &d.Specialty, &d.RoomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (d *PgDirectory) Patient(ctx context.Context, id int64) (*Patient, error) {
	return scanPatient(d.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
}

func (d *PgDirectory) PatientByDocument(ctx context.Context, tenantID int64, document string) (*Patient, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE tenant_id = $1 AND document_number = $2
	`, tenantID, NormalizeDocument(document))
	return scanPatient(row)
}

func (d *PgDirectory) PatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE phone_number = $1
		ORDER BY id ASC
		LIMIT 1
	`, phone)
	return scanPatient(row)
}

func (d *PgDirectory) Doctor(ctx context.Context, id int64) (*Doctor, error) {
	return scanDoctor(d.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id))
}

func (d *PgDirectory) DoctorsForTenant(ctx context.Context, tenantID int64) ([]Doctor, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE tenant_id = $1
		ORDER BY first_name ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		doc, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (d *PgDirectory) Room(ctx context.Context, id int64) (*Room, error) {
	var r Room
	err := d.pool.QueryRow(ctx, `
		SELECT r.id, r.tenant_id, r.clinic_id, r.name, c.name
		FROM rooms r
		JOIN clinics c ON c.id = r.clinic_id
		WHERE r.id = $1
	`, id).Scan(&r.ID, &r.TenantID, &r.ClinicID, &r.Name, &r.ClinicName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}
