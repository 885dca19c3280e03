package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotCols = []string{"id", "tenant_id", "doctor_id", "room_id", "date", "start_time", "end_time", "slot_minutes", "is_available", "created_at", "updated_at"}

var apptCols = []string{"id", "tenant_id", "patient_id", "doctor_id", "room_id", "schedule_id", "start_datetime", "end_datetime", "status", "notes", "created_at", "updated_at"}

func pgClock(h, m int) pgtype.Time {
	return clockToPg(NewClock(h, m))
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PgStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgStore(mock)
}

func TestPgClaimSlotMapsNoRowsToUnavailable(t *testing.T) {
	mock, store := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE schedules s").
		WithArgs(int64(5)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewLedger(store).Claim(ctx, 5)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotReturnsClaimedSlot(t *testing.T) {
	mock, store := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	room := int64(3)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE schedules s").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow(int64(5), int64(1), int64(10), &room, day, pgClock(9, 0), pgClock(9, 30), 30, false, now, now))
	mock.ExpectCommit()

	s, err := NewLedger(store).Claim(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.ID)
	assert.False(t, s.IsAvailable)
	assert.Equal(t, NewClock(9, 0), s.StartTime)
	assert.Equal(t, NewClock(9, 30), s.EndTime)
	require.NotNil(t, s.RoomID)
	assert.Equal(t, room, *s.RoomID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReleaseReportsAffectedRows(t *testing.T) {
	mock, store := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE schedules s").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	released, err := NewLedger(store).Release(ctx, 5)
	require.NoError(t, err)
	assert.False(t, released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateAppointmentGuardsStatus(t *testing.T) {
	mock, store := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(int64(9), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "CONFIRMED", "PENDING").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.UpdateAppointment(ctx, Appointment{ID: 9, SlotID: 5, Status: StatusConfirmed}, StatusPending)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertAppointmentMapsUniqueViolation(t *testing.T) {
	mock, store := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_appointments_active_schedule"})
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.InsertAppointment(ctx, Appointment{TenantID: 1, PatientID: 1, DoctorID: 10, SlotID: 5, Status: StatusPending})
		return err
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCancelFlow(t *testing.T) {
	mock, store := newMockStore(t)
	svc := NewService(store, zeroLogger(), nil)
	ctx := context.Background()
	now := time.Now().UTC()
	start := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(apptCols).
			AddRow(int64(9), int64(1), int64(1), int64(10), nil, int64(5), start, start.Add(30*time.Minute), "PENDING", nil, now, now))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(int64(9), int64(5), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "CANCELLED", "PENDING").
		WillReturnRows(pgxmock.NewRows(apptCols).
			AddRow(int64(9), int64(1), int64(1), int64(10), nil, int64(5), start, start.Add(30*time.Minute), "CANCELLED", nil, now, now))
	mock.ExpectExec("UPDATE schedules s").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO appointment_actions").
		WithArgs(int64(9), "cancel", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "appointment_id", "action", "payload", "created_at"}).
			AddRow(int64(1), int64(9), "cancel", []byte(`{"slot_released":true}`), now))
	mock.ExpectCommit()

	appt, entry, err := svc.Cancel(ctx, 1, 9, Payload{"source": "rest"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAnnotateActionMergesPayload(t *testing.T) {
	mock, store := newMockStore(t)
	svc := NewService(store, zeroLogger(), nil)
	now := time.Now().UTC()

	mock.ExpectQuery("SET payload = payload \\|\\| \\$2::jsonb").
		WithArgs(int64(1), []byte(`{"notification":{"status":"sent"}}`)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "appointment_id", "action", "payload", "created_at"}).
			AddRow(int64(1), int64(9), "cancel", []byte(`{"slot_released":true,"notification":{"status":"sent"}}`), now))
	mock.ExpectQuery("UPDATE appointment_actions").
		WithArgs(int64(2), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	a, err := svc.AnnotateAction(context.Background(), 1, Payload{"notification": map[string]any{"status": "sent"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"slot_released":true,"notification":{"status":"sent"}}`, string(a.Payload))

	_, err = svc.AnnotateAction(context.Background(), 2, Payload{"x": 1})
	assert.ErrorIs(t, err, ErrActionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindCoveringSlots(t *testing.T) {
	mock, store := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("ORDER BY start_time ASC, id ASC").
		WithArgs(int64(1), int64(10), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow(int64(7), int64(1), int64(10), nil, day, pgClock(8, 0), pgClock(12, 0), 30, true, now, now).
			AddRow(int64(4), int64(1), int64(10), nil, day, pgClock(9, 0), pgClock(10, 0), 30, true, now, now))

	slots, err := NewLedger(store).FindCoveringSlots(ctx, SlotQuery{
		TenantID: 1, DoctorID: 10, Date: day, Start: NewClock(9, 0), End: NewClock(9, 30),
	})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, int64(7), slots[0].ID)
	assert.Equal(t, int64(4), slots[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetDoctorNotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery("FROM doctors WHERE id").
		WithArgs(int64(44)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetDoctor(context.Background(), 44)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
