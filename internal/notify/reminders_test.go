package notify

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
)

type windowCall struct {
	template string
	from, to time.Time
}

type fakeReminderStore struct {
	calls []windowCall
	due   map[string][]appointment.Appointment
}

func (f *fakeReminderStore) DueReminders(_ context.Context, template string, from, to time.Time) ([]appointment.Appointment, error) {
	f.calls = append(f.calls, windowCall{template, from, to})
	return f.due[template], nil
}

type countingNotifier struct {
	sent map[string][]int64
}

func (c *countingNotifier) Notify(_ context.Context, appt appointment.Appointment, template string) (Delivery, error) {
	if c.sent == nil {
		c.sent = map[string][]int64{}
	}
	c.sent[template] = append(c.sent[template], appt.ID)
	return Delivery{Template: template, Status: StatusSent}, nil
}

func TestRemindersWindows(t *testing.T) {
	store := &fakeReminderStore{due: map[string][]appointment.Appointment{
		TemplateReminder48h: {{ID: 1}},
		TemplateReminder24h: {{ID: 2}, {ID: 3}},
	}}
	notifier := &countingNotifier{}
	r := NewReminders(store, notifier, ReminderConfig{}, zerolog.Nop(), nil)
	r.now = func() time.Time { return time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC) }

	sum, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReminderSummary{Due: 3, Sent: 3}, sum)

	require.Len(t, store.calls, 2)
	assert.Equal(t, time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC), store.calls[0].from)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), store.calls[0].to)
	assert.Equal(t, time.Date(2025, 1, 14, 8, 0, 0, 0, time.UTC), store.calls[1].from)
	assert.Equal(t, []int64{2, 3}, notifier.sent[TemplateReminder24h])
}

func TestRemindersDryRunSendsNothing(t *testing.T) {
	store := &fakeReminderStore{due: map[string][]appointment.Appointment{TemplateReminder24h: {{ID: 2}}}}
	notifier := &countingNotifier{}
	r := NewReminders(store, notifier, ReminderConfig{DryRun: true}, zerolog.Nop(), nil)

	sum, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Due)
	assert.Zero(t, sum.Sent)
	assert.Empty(t, notifier.sent)
}

func TestRemindersUseClinicWallClock(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	store := &fakeReminderStore{}
	r := NewReminders(store, &countingNotifier{}, ReminderConfig{Location: bogota}, zerolog.Nop(), nil)
	r.now = func() time.Time { return time.Date(2025, 1, 13, 14, 0, 0, 0, time.UTC) }

	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	// 14:00 UTC is 09:00 in Bogota
	assert.Equal(t, time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC), store.calls[0].from)
}

func TestPgStoreRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(int64(42), "whatsapp", "+573001112233", TemplateCreated, "sent", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPgStore(mock).Record(context.Background(), Notification{
		AppointmentID: 42, Channel: "whatsapp", Recipient: "+573001112233",
		Template: TemplateCreated, Status: "sent", ExternalID: "SM1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
