package webhook

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/booking"
	"github.com/hackgods/medical-appointment-platform/internal/intent"
	"github.com/hackgods/medical-appointment-platform/internal/notify"
	redisclient "github.com/hackgods/medical-appointment-platform/internal/redis"
)

type sentText struct{ to, body string }

type fakeSender struct {
	mu   sync.Mutex
	sent []sentText
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{to, body})
	return "SM1", nil
}

type fixture struct {
	lc     *appointment.Service
	appt   *appointment.Appointment
	sender *fakeSender
	proc   *Processor
}

const phone = "+573001112233"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newNotifyingFixture(t, nil)
}

// newNotifyingFixture wires n as the booking notifier.
func newNotifyingFixture(t *testing.T, n booking.Notifier) *fixture {
	t.Helper()
	store := appointment.NewMemoryStore()
	store.AddDoctor(appointment.DoctorRef{ID: 10, TenantID: 1})
	store.AddPatient(1, 1, phone)
	slot := store.AddSlot(appointment.Slot{
		TenantID: 1, DoctorID: 10,
		Date:      time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		StartTime: appointment.NewClock(9, 0), EndTime: appointment.NewClock(9, 30),
		IsAvailable: true,
	})

	lc := appointment.NewService(store, zerolog.Nop(), nil)
	bk := booking.NewService(lc, appointment.NewResolver(lc.Ledger()), n, zerolog.Nop())
	appt, err := bk.Book(context.Background(), 1, booking.BookRequest{PatientID: 1, DoctorID: 10, SlotID: &slot.ID})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sender := &fakeSender{}
	return &fixture{
		lc:     lc,
		appt:   appt,
		sender: sender,
		proc: NewProcessor(Config{
			Appointments: lc,
			Booking:      bk,
			Replier:      sender,
			Deduper:      redisclient.NewDeduper(client, "webhook", time.Hour),
			Logger:       zerolog.Nop(),
		}),
	}
}

func (f *fixture) actions(t *testing.T, kind appointment.ActionType) int {
	t.Helper()
	actions, err := f.lc.Actions(context.Background(), 1, f.appt.ID)
	require.NoError(t, err)
	n := 0
	for _, a := range actions {
		if a.Action == kind {
			n++
		}
	}
	return n
}

func TestCancelKeywordCancelsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := Inbound{From: "whatsapp:" + phone, Body: "Quiero CANCELAR mi cita", MessageID: "SM-abc"}

	out, err := f.proc.Process(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, intent.Cancel, out.Intent)
	assert.Equal(t, appointment.StatusCancelled, out.Status)

	replay, err := f.proc.Process(ctx, msg)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)

	got, err := f.lc.Get(ctx, 1, f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Status)
	assert.Equal(t, 1, f.actions(t, appointment.ActionCancel))
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, phone, f.sender.sent[0].to)
	assert.Equal(t, replyCancelled, f.sender.sent[0].body)
}

type whatsAppNotifier struct{ templates []string }

func (w *whatsAppNotifier) Notify(_ context.Context, _ appointment.Appointment, template string) (notify.Delivery, error) {
	w.templates = append(w.templates, template)
	return notify.Delivery{Channel: notify.ChannelWhatsApp, Template: template, Status: notify.StatusSent, ExternalID: "SM-tpl"}, nil
}

func TestTemplateNotificationReplacesReply(t *testing.T) {
	n := &whatsAppNotifier{}
	f := newNotifyingFixture(t, n)

	out, err := f.proc.Process(context.Background(), Inbound{From: phone, Body: "cancelar", MessageID: "SM-c"})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, out.Status)
	assert.Empty(t, out.Reply)
	assert.Empty(t, f.sender.sent)
	assert.Equal(t, []string{notify.TemplateCreated, notify.TemplateCancelled}, n.templates)
}

func TestAmbiguousReplyFollowsPriorityOrder(t *testing.T) {
	f := newFixture(t)
	out, err := f.proc.Process(context.Background(), Inbound{
		From:      "whatsapp:" + phone,
		Body:      "no sé si cancelar o confirmar, mejor confirmar",
		MessageID: "SM-amb",
	})
	require.NoError(t, err)
	assert.Equal(t, intent.Confirm, out.Intent)
	assert.Equal(t, appointment.StatusConfirmed, out.Status)
	assert.Zero(t, f.actions(t, appointment.ActionCancel))
}

func TestRescheduleRequestChangesNothing(t *testing.T) {
	f := newFixture(t)
	out, err := f.proc.Process(context.Background(), Inbound{From: phone, Body: "quiero otro horario", MessageID: "SM-r"})
	require.NoError(t, err)
	assert.Equal(t, intent.Reschedule, out.Intent)
	assert.Equal(t, "reschedule_requested", out.Result)

	got, err := f.lc.Get(context.Background(), 1, f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, got.Status)
}

func TestUnrecognizedReplyReprompts(t *testing.T) {
	f := newFixture(t)
	out, err := f.proc.Process(context.Background(), Inbound{From: phone, Body: "gracias", MessageID: "SM-u"})
	require.NoError(t, err)
	assert.Equal(t, intent.None, out.Intent)
	assert.Equal(t, replyUnknown, out.Reply)
	assert.Equal(t, appointment.StatusPending, out.Status)
}

func TestConfirmAfterCancelIsRejectedPolitely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.proc.Process(ctx, Inbound{From: phone, Body: "cancelar", MessageID: "SM-1"})
	require.NoError(t, err)

	out, err := f.proc.Process(ctx, Inbound{From: phone, Body: "ok", MessageID: "SM-2"})
	require.NoError(t, err)
	assert.Equal(t, "invalid_transition", out.Result)
	assert.Equal(t, replyClosed, out.Reply)
}

func TestUnknownSender(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Process(context.Background(), Inbound{From: "whatsapp:+10000000000", Body: "ok", MessageID: "SM-x"})
	assert.ErrorIs(t, err, ErrNoAppointment)

	_, err = f.proc.Process(context.Background(), Inbound{Body: "ok"})
	assert.ErrorIs(t, err, ErrMissingSender)
}

func TestSignature(t *testing.T) {
	form := url.Values{
		"From":       {"whatsapp:+573001112233"},
		"Body":       {"Confirmar"},
		"MessageSid": {"SM123"},
	}
	webhookURL := "https://example.com/webhooks/whatsapp"
	sig := Sign("secret", webhookURL, form)

	assert.True(t, ValidSignature("secret", webhookURL, sig, form))
	assert.False(t, ValidSignature("other", webhookURL, sig, form))
	assert.False(t, ValidSignature("secret", webhookURL, "", form))

	form.Set("Body", "Cancelar")
	assert.False(t, ValidSignature("secret", webhookURL, sig, form))
}
