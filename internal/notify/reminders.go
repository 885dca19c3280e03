package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/metrics"
)

type ReminderStore interface {
	DueReminders(ctx context.Context, template string, from, to time.Time) ([]appointment.Appointment, error)
}

type Notifier interface {
	Notify(ctx context.Context, appt appointment.Appointment, template string) (Delivery, error)
}

type reminderWindow struct {
	template string
	lead     time.Duration
}

var reminderWindows = []reminderWindow{
	{template: TemplateReminder48h, lead: 48 * time.Hour},
	{template: TemplateReminder24h, lead: 24 * time.Hour},
}

const reminderSlack = time.Hour

// Reminders sends the 48h and 24h reminders for pending appointments.
type Reminders struct {
	store    ReminderStore
	notifier Notifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	loc      *time.Location
	dryRun   bool
	now      func() time.Time
}

type ReminderConfig struct {
	DryRun bool
	// Location is the zone the clinic's wall-clock appointment times are in.
	Location *time.Location
}

func NewReminders(store ReminderStore, notifier Notifier, cfg ReminderConfig, logger zerolog.Logger, m *metrics.Metrics) *Reminders {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Reminders{
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "reminders").Logger(),
		metrics:  m,
		loc:      loc,
		dryRun:   cfg.DryRun,
		now:      time.Now,
	}
}

type ReminderSummary struct {
	Due    int
	Sent   int
	Failed int
}

// RunOnce performs one sweep over both reminder windows.
func (r *Reminders) RunOnce(ctx context.Context) (ReminderSummary, error) {
	var sum ReminderSummary
	wall := r.wallClockNow()

	for _, w := range reminderWindows {
		from := wall.Add(w.lead - reminderSlack)
		to := wall.Add(w.lead + reminderSlack)

		due, err := r.store.DueReminders(ctx, w.template, from, to)
		if err != nil {
			return sum, fmt.Errorf("load %s reminders: %w", w.template, err)
		}
		sum.Due += len(due)

		for _, appt := range due {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			if r.dryRun {
				r.logger.Info().Int64("appointment_id", appt.ID).Str("template", w.template).Msg("dry run: reminder not sent")
				r.metrics.ObserveReminder(w.template, "dry_run")
				continue
			}
			if _, err := r.notifier.Notify(ctx, appt, w.template); err != nil {
				sum.Failed++
				r.metrics.ObserveReminder(w.template, "failed")
				r.logger.Warn().Err(err).Int64("appointment_id", appt.ID).Str("template", w.template).Msg("reminder failed")
				continue
			}
			sum.Sent++
			r.metrics.ObserveReminder(w.template, "sent")
		}
	}
	return sum, nil
}

// wallClockNow expresses the current instant in clinic wall-clock time,
// matching how appointment times are stored.
func (r *Reminders) wallClockNow() time.Time {
	n := r.now().In(r.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), n.Hour(), n.Minute(), n.Second(), 0, time.UTC)
}
