package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// pgxPool is the subset of *pgxpool.Pool the store needs.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queryer is satisfied by both the pool and a pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pool pgxPool
}

func NewPgStore(pool pgxPool) *PgStore {
	return &PgStore{pool: pool}
}

const uniqueViolation = "23505"

const slotColumns = `id, tenant_id, doctor_id, room_id, date, start_time, end_time, slot_minutes, is_available, created_at, updated_at`

const appointmentColumns = `id, tenant_id, patient_id, doctor_id, room_id, schedule_id, start_datetime, end_datetime, status, notes, created_at, updated_at`

const actionColumns = `id, appointment_id, action, payload, created_at`

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var start, end pgtype.Time

	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.DoctorID,
		&s.RoomID,
		&s.Date,
		&start,
		&end,
		&s.GranularityMinutes,
		&s.IsAvailable,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = DateOf(s.Date)
	s.StartTime = clockFromPg(start)
	s.EndTime = clockFromPg(end)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.PatientID,
		&a.DoctorID,
		&a.RoomID,
		&a.SlotID,
		&a.StartAt,
		&a.EndAt,
		&status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	return &a, nil
}

func scanAction(row pgx.Row) (*Action, error) {
	var a Action
	var action string
	var payload []byte

	if err := row.Scan(&a.ID, &a.AppointmentID, &action, &payload, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Action = ActionType(action)
	a.Payload = json.RawMessage(payload)
	return &a, nil
}

func clockFromPg(t pgtype.Time) Clock {
	return Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func clockToPg(c Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()
	var out []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgStore) GetSlot(ctx context.Context, id int64) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM schedules WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgStore) FindCoveringSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM schedules
		WHERE tenant_id = $1
		  AND doctor_id = $2
		  AND date = $3
		  AND start_time <= $4
		  AND end_time >= $5
		  AND is_available = true
		  AND ($6::bigint IS NULL OR room_id IS NULL OR room_id = $6)
		ORDER BY start_time ASC, id ASC
	`, q.TenantID, q.DoctorID, q.Date, clockToPg(q.Start), clockToPg(q.End), q.RoomID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgStore) ListAvailableSlots(ctx context.Context, tenantID, doctorID int64, date *time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM schedules
		WHERE tenant_id = $1
		  AND doctor_id = $2
		  AND is_available = true
		  AND ($3::date IS NULL OR date = $3)
		ORDER BY date ASC, start_time ASC, id ASC
	`, tenantID, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgStore) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgStore) ListAppointmentsByPatient(ctx context.Context, tenantID, patientID int64, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND patient_id = $2
		ORDER BY start_datetime DESC, id DESC
		LIMIT $3 OFFSET $4
	`, tenantID, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PgStore) LatestAppointmentForPhone(ctx context.Context, phone string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT a.id, a.tenant_id, a.patient_id, a.doctor_id, a.room_id, a.schedule_id,
		       a.start_datetime, a.end_datetime, a.status, a.notes, a.created_at, a.updated_at
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE p.phone_number = $1
		ORDER BY (a.status IN ('CANCELLED', 'COMPLETED', 'NO_SHOW')) ASC,
		         a.start_datetime DESC, a.id DESC
		LIMIT 1
	`, phone)
	return scanAppointment(row)
}

func (r *PgStore) ListActions(ctx context.Context, appointmentID int64) ([]Action, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM appointment_actions
		WHERE appointment_id = $1
		ORDER BY id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PgStore) AppendAction(ctx context.Context, a Action) (*Action, error) {
	return insertAction(ctx, r.pool, a)
}

func (r *PgStore) MergeActionPayload(ctx context.Context, actionID int64, extra json.RawMessage) (*Action, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointment_actions
		SET payload = payload || $2::jsonb
		WHERE id = $1
		RETURNING `+actionColumns,
		actionID, []byte(extra),
	)
	a, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrActionNotFound
	}
	return a, err
}

func (r *PgStore) GetDoctor(ctx context.Context, id int64) (*DoctorRef, error) {
	var d DoctorRef
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, room_id FROM doctors WHERE id = $1`, id).
		Scan(&d.ID, &d.TenantID, &d.RoomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgStore) PatientTenant(ctx context.Context, id int64) (int64, error) {
	return r.tenantOf(ctx, `SELECT tenant_id FROM patients WHERE id = $1`, id, ErrPatientNotFound)
}

func (r *PgStore) RoomTenant(ctx context.Context, id int64) (int64, error) {
	return r.tenantOf(ctx, `SELECT tenant_id FROM rooms WHERE id = $1`, id, ErrRoomNotFound)
}

func (r *PgStore) tenantOf(ctx context.Context, sql string, id int64, notFound error) (int64, error) {
	var tenantID int64
	if err := r.pool.QueryRow(ctx, sql, id).Scan(&tenantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, notFound
		}
		return 0, err
	}
	return tenantID, nil
}

func insertAction(ctx context.Context, q queryer, a Action) (*Action, error) {
	payload := a.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	row := q.QueryRow(ctx, `
		INSERT INTO appointment_actions (appointment_id, action, payload)
		VALUES ($1, $2, $3)
		RETURNING `+actionColumns,
		a.AppointmentID, string(a.Action), []byte(payload),
	)
	return scanAction(row)
}

type pgTx struct {
	q queryer
}

// ClaimSlot is a conditional update: concurrent claimers serialize on the
// row and all but one see zero rows.
func (t *pgTx) ClaimSlot(ctx context.Context, slotID int64) (*Slot, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE schedules s
		SET is_available = false, updated_at = now()
		WHERE s.id = $1
		  AND s.is_available = true
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments a
		      WHERE a.schedule_id = s.id AND a.status <> 'CANCELLED'
		  )
		RETURNING `+slotColumns,
		slotID,
	)
	s, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, ErrSlotUnavailable
	}
	return s, err
}

func (t *pgTx) ReleaseSlot(ctx context.Context, slotID int64) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE schedules s
		SET is_available = true, updated_at = now()
		WHERE s.id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments a
		      WHERE a.schedule_id = s.id AND a.status <> 'CANCELLED'
		  )
	`, slotID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) LockAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments (tenant_id, patient_id, doctor_id, room_id, schedule_id, start_datetime, end_datetime, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+appointmentColumns,
		a.TenantID, a.PatientID, a.DoctorID, a.RoomID, a.SlotID, a.StartAt, a.EndAt, string(a.Status), a.Notes,
	)
	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return created, nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a Appointment, from Status) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET schedule_id = $2,
		    room_id = $3,
		    start_datetime = $4,
		    end_datetime = $5,
		    status = $6,
		    updated_at = now()
		WHERE id = $1 AND status = $7
		RETURNING `+appointmentColumns,
		a.ID, a.SlotID, a.RoomID, a.StartAt, a.EndAt, string(a.Status), string(from),
	)
	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return updated, nil
}

func (t *pgTx) AppendAction(ctx context.Context, a Action) (*Action, error) {
	return insertAction(ctx, t.q, a)
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrSlotUnavailable
	}
	return err
}
