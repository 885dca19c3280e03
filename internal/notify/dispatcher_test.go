package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/directory"
)

type fakeText struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeText) SendText(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, to+": "+body)
	return "SM1", nil
}

type fakeEmail struct {
	to []string
}

func (f *fakeEmail) SendEmail(_ context.Context, to, _, subject, _ string) (string, error) {
	f.to = append(f.to, to+"|"+subject)
	return "msg-1", nil
}

type fakeRecorder struct {
	rows []Notification
}

func (f *fakeRecorder) Record(_ context.Context, n Notification) error {
	f.rows = append(f.rows, n)
	return nil
}

func strPtr(s string) *string { return &s }

func testDirectory() *directory.Static {
	dir := directory.NewStatic()
	dir.PutPatient(directory.Patient{ID: 1, TenantID: 1, FirstName: "Ana", LastName: "Rojas", DocumentNumber: "1", Phone: strPtr("+573001112233")})
	dir.PutPatient(directory.Patient{ID: 2, TenantID: 1, FirstName: "Luis", LastName: "Mora", DocumentNumber: "2", Email: strPtr("luis@example.com")})
	dir.PutPatient(directory.Patient{ID: 3, TenantID: 1, FirstName: "Sin", LastName: "Contacto", DocumentNumber: "3"})
	dir.PutDoctor(directory.Doctor{ID: 10, TenantID: 1, FirstName: "Andrés", LastName: "Soto"})
	dir.PutRoom(directory.Room{ID: 100, TenantID: 1, Name: "Consultorio 1", ClinicName: "Clínica Norte"})
	return dir
}

func testAppointment(patientID int64) appointment.Appointment {
	room := int64(100)
	return appointment.Appointment{
		ID:        42,
		TenantID:  1,
		PatientID: patientID,
		DoctorID:  10,
		RoomID:    &room,
		StartAt:   time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
		EndAt:     time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC),
		Status:    appointment.StatusPending,
	}
}

func TestNotifyPrefersWhatsApp(t *testing.T) {
	text := &fakeText{}
	rec := &fakeRecorder{}
	d := NewDispatcher(DispatcherConfig{Directory: testDirectory(), WhatsApp: text, Email: &fakeEmail{}, Recorder: rec, Logger: zerolog.Nop()})

	delivery, err := d.Notify(context.Background(), testAppointment(1), TemplateCreated)
	require.NoError(t, err)
	assert.Equal(t, ChannelWhatsApp, delivery.Channel)
	assert.Equal(t, StatusSent, delivery.Status)
	assert.Equal(t, "SM1", delivery.ExternalID)

	require.Len(t, text.sent, 1)
	assert.Contains(t, text.sent[0], "Dr(a). Andrés Soto")
	assert.Contains(t, text.sent[0], "15/01/2025 at 09:00")
	assert.Contains(t, text.sent[0], "Clínica Norte")

	require.Len(t, rec.rows, 1)
	assert.Equal(t, int64(42), rec.rows[0].AppointmentID)
	assert.Equal(t, StatusSent, rec.rows[0].Status)
}

func TestNotifyFallsBackToEmail(t *testing.T) {
	email := &fakeEmail{}
	d := NewDispatcher(DispatcherConfig{Directory: testDirectory(), WhatsApp: &fakeText{}, Email: email, Logger: zerolog.Nop()})

	delivery, err := d.Notify(context.Background(), testAppointment(2), TemplateCancelled)
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, delivery.Channel)
	assert.Equal(t, []string{"luis@example.com|Appointment cancelled"}, email.to)
}

func TestNotifyWithoutChannelIsSkipped(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDispatcher(DispatcherConfig{Directory: testDirectory(), WhatsApp: &fakeText{}, Recorder: rec, Logger: zerolog.Nop()})

	delivery, err := d.Notify(context.Background(), testAppointment(3), TemplateConfirmed)
	assert.ErrorIs(t, err, ErrNoChannel)
	assert.Equal(t, StatusSkipped, delivery.Status)
	require.Len(t, rec.rows, 1)
	assert.Equal(t, StatusSkipped, rec.rows[0].Status)
}

func TestNotifyRecordsSendFailure(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDispatcher(DispatcherConfig{Directory: testDirectory(), WhatsApp: &fakeText{err: errors.New("twilio down")}, Recorder: rec, Logger: zerolog.Nop()})

	delivery, err := d.Notify(context.Background(), testAppointment(1), TemplateRescheduled)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, delivery.Status)
	assert.Equal(t, "twilio down", delivery.Error)
	assert.Equal(t, "failed", delivery.Payload()["status"])
	require.Len(t, rec.rows, 1)
	assert.Equal(t, StatusFailed, rec.rows[0].Status)
}

func TestRenderAllTemplates(t *testing.T) {
	v := Values{PatientName: "Ana", DoctorName: "Dr(a). X", ClinicName: "Norte", Date: "15/01/2025", Time: "09:00"}
	for _, name := range []string{TemplateCreated, TemplateConfirmed, TemplateRescheduled, TemplateCancelled, TemplateReminder48h, TemplateReminder24h} {
		subject, body, err := Render(name, v)
		require.NoError(t, err, name)
		assert.NotEmpty(t, subject)
		assert.Contains(t, body, "Ana")
		assert.Contains(t, body, "09:00")
	}
	_, _, err := Render("unknown", v)
	assert.Error(t, err)
}
