package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgStore keeps the notifications table and answers reminder sweeps.
type PgStore struct {
	pool pgxQuerier
}

func NewPgStore(pool pgxQuerier) *PgStore {
	return &PgStore{pool: pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PgStore) Record(ctx context.Context, n Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, channel, recipient, template, status, external_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.AppointmentID, n.Channel, n.Recipient, n.Template, n.Status, nullable(n.ExternalID), nullable(n.Error))
	return err
}

// DueReminders lists PENDING appointments starting in [from,to) that have no
// successful notification with template yet.
func (s *PgStore) DueReminders(ctx context.Context, template string, from, to time.Time) ([]appointment.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.tenant_id, a.patient_id, a.doctor_id, a.room_id, a.schedule_id,
		       a.start_datetime, a.end_datetime, a.status, a.notes, a.created_at, a.updated_at
		FROM appointments a
		WHERE a.status = 'PENDING'
		  AND a.start_datetime >= $1
		  AND a.start_datetime < $2
		  AND NOT EXISTS (
		      SELECT 1 FROM notifications n
		      WHERE n.appointment_id = a.id AND n.template = $3 AND n.status = 'sent'
		  )
		ORDER BY a.start_datetime ASC, a.id ASC
	`, from, to, template)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []appointment.Appointment
	for rows.Next() {
		var a appointment.Appointment
		var status string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.PatientID, &a.DoctorID, &a.RoomID, &a.SlotID,
			&a.StartAt, &a.EndAt, &status, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Status = appointment.Status(status)
		out = append(out, a)
	}
	return out, rows.Err()
}
