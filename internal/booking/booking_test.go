package booking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/notify"
)

type recordingNotifier struct {
	templates []string
	err       error
}

func (r *recordingNotifier) Notify(_ context.Context, _ appointment.Appointment, template string) (notify.Delivery, error) {
	r.templates = append(r.templates, template)
	if r.err != nil {
		return notify.Delivery{Channel: notify.ChannelWhatsApp, Template: template, Status: notify.StatusFailed, Error: r.err.Error()}, r.err
	}
	return notify.Delivery{Channel: notify.ChannelWhatsApp, Template: template, Status: notify.StatusSent, ExternalID: "SM1"}, nil
}

type harness struct {
	store    *appointment.MemoryStore
	lc       *appointment.Service
	notifier *recordingNotifier
	svc      *Service
	slot     appointment.Slot
	other    appointment.Slot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := appointment.NewMemoryStore()
	store.AddDoctor(appointment.DoctorRef{ID: 10, TenantID: 1})
	store.AddPatient(1, 1, "+573001112233")
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	slot := store.AddSlot(appointment.Slot{TenantID: 1, DoctorID: 10, Date: day, StartTime: appointment.NewClock(9, 0), EndTime: appointment.NewClock(9, 30), IsAvailable: true})
	other := store.AddSlot(appointment.Slot{TenantID: 1, DoctorID: 10, Date: day, StartTime: appointment.NewClock(10, 0), EndTime: appointment.NewClock(10, 30), IsAvailable: true})

	lc := appointment.NewService(store, zerolog.Nop(), nil)
	n := &recordingNotifier{}
	return &harness{
		store:    store,
		lc:       lc,
		notifier: n,
		svc:      NewService(lc, appointment.NewResolver(lc.Ledger()), n, zerolog.Nop()),
		slot:     slot,
		other:    other,
	}
}

func TestBookJournalsCreatedWithDispatchOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	appt, err := h.svc.Book(ctx, 1, BookRequest{PatientID: 1, DoctorID: 10, SlotID: &h.slot.ID, Source: "chat"})
	require.NoError(t, err)
	assert.Equal(t, []string{notify.TemplateCreated}, h.notifier.templates)

	actions, err := h.lc.Actions(ctx, 1, appt.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, appointment.ActionCreated, actions[0].Action)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(actions[0].Payload, &payload))
	assert.Equal(t, "chat", payload["source"])
	notification := payload["notification"].(map[string]any)
	assert.Equal(t, "sent", notification["status"])
	assert.Equal(t, "SM1", notification["external_id"])
}

func TestBookSurvivesNotificationFailure(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("twilio down")

	appt, err := h.svc.Book(context.Background(), 1, BookRequest{PatientID: 1, DoctorID: 10, SlotID: &h.slot.ID})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, appt.Status)

	actions, err := h.lc.Actions(context.Background(), 1, appt.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Contains(t, string(actions[0].Payload), "twilio down")
}

func TestBookResolvesRange(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	appt, err := h.svc.Book(context.Background(), 1, BookRequest{PatientID: 1, DoctorID: 10, Start: &start, End: &end})
	require.NoError(t, err)
	assert.Equal(t, h.other.ID, appt.SlotID)

	_, err = h.svc.Book(context.Background(), 1, BookRequest{PatientID: 1, DoctorID: 10, Start: &start, End: &end})
	assert.ErrorIs(t, err, appointment.ErrNoAvailableSlot)

	_, err = h.svc.Book(context.Background(), 1, BookRequest{PatientID: 1, DoctorID: 10})
	assert.ErrorIs(t, err, ErrMissingSlot)
}

func TestBookConflictDoesNotNotify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Book(ctx, 1, BookRequest{PatientID: 1, DoctorID: 10, SlotID: &h.slot.ID})
	require.NoError(t, err)

	_, err = h.svc.Book(ctx, 1, BookRequest{PatientID: 1, DoctorID: 10, SlotID: &h.slot.ID})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable)
	assert.Len(t, h.notifier.templates, 1)
}

func TestApplyTransitionsNotify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt, err := h.svc.Book(ctx, 1, BookRequest{PatientID: 1, DoctorID: 10, SlotID: &h.slot.ID})
	require.NoError(t, err)

	_, err = h.svc.Apply(ctx, 1, appt.ID, appointment.ActionConfirm, ActionRequest{Source: "whatsapp"})
	require.NoError(t, err)

	moved, err := h.svc.Apply(ctx, 1, appt.ID, appointment.ActionReschedule, ActionRequest{SlotID: &h.other.ID, Reason: "conflict"})
	require.NoError(t, err)
	assert.Equal(t, h.other.ID, moved.SlotID)

	_, err = h.svc.Apply(ctx, 1, appt.ID, appointment.ActionCancel, ActionRequest{})
	require.NoError(t, err)

	_, err = h.svc.Apply(ctx, 1, appt.ID, appointment.ActionCancel, ActionRequest{})
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)

	assert.Equal(t, []string{
		notify.TemplateCreated,
		notify.TemplateConfirmed,
		notify.TemplateRescheduled,
		notify.TemplateCancelled,
	}, h.notifier.templates)

	actions, err := h.lc.Actions(ctx, 1, appt.ID)
	require.NoError(t, err)
	var kinds []appointment.ActionType
	for _, a := range actions {
		kinds = append(kinds, a.Action)
	}
	assert.Equal(t, []appointment.ActionType{
		appointment.ActionCreated,
		appointment.ActionConfirm,
		appointment.ActionReschedule,
		appointment.ActionCancel,
	}, kinds)

	for _, a := range actions[1:] {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(a.Payload, &payload))
		notification, ok := payload["notification"].(map[string]any)
		require.True(t, ok, "%s entry carries no dispatch outcome", a.Action)
		assert.Equal(t, "sent", notification["status"])
		assert.Equal(t, "SM1", notification["external_id"])
	}
	var rescheduled map[string]any
	require.NoError(t, json.Unmarshal(actions[2].Payload, &rescheduled))
	assert.Equal(t, "conflict", rescheduled["reason"])
	assert.EqualValues(t, h.slot.ID, rescheduled["prior_slot_id"])
	assert.Equal(t, notify.TemplateRescheduled, rescheduled["notification"].(map[string]any)["template"])
}

func TestApplyJournalsFailedDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt, err := h.svc.Book(ctx, 1, BookRequest{PatientID: 1, DoctorID: 10, SlotID: &h.slot.ID})
	require.NoError(t, err)

	h.notifier.err = errors.New("provider down")
	_, delivery, err := h.svc.ApplyNotified(ctx, 1, appt.ID, appointment.ActionCancel, ActionRequest{})
	require.NoError(t, err)
	assert.Equal(t, notify.StatusFailed, delivery.Status)

	actions, err := h.lc.Actions(ctx, 1, appt.ID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(actions[1].Payload, &payload))
	assert.Equal(t, true, payload["slot_released"])
	notification := payload["notification"].(map[string]any)
	assert.Equal(t, "failed", notification["status"])
	assert.Equal(t, "provider down", notification["error"])
}

func TestRescheduleOfClosedAppointmentIsInvalidTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt, err := h.svc.Book(ctx, 1, BookRequest{PatientID: 1, DoctorID: 10, SlotID: &h.slot.ID})
	require.NoError(t, err)
	_, err = h.svc.Apply(ctx, 1, appt.ID, appointment.ActionCancel, ActionRequest{})
	require.NoError(t, err)

	// a range no slot covers, then no target at all
	start := time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	_, err = h.svc.Apply(ctx, 1, appt.ID, appointment.ActionReschedule, ActionRequest{Start: &start, End: &end})
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
	_, err = h.svc.Apply(ctx, 1, appt.ID, appointment.ActionReschedule, ActionRequest{})
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}

func TestApplyUnknownAction(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Apply(context.Background(), 1, 1, appointment.ActionCreated, ActionRequest{})
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}
