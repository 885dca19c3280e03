package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

const (
	TemplateCreated     = "appointment_created"
	TemplateConfirmed   = "appointment_confirmed"
	TemplateRescheduled = "appointment_rescheduled"
	TemplateCancelled   = "appointment_cancelled"
	TemplateReminder48h = "appointment_reminder_48h"
	TemplateReminder24h = "appointment_reminder_24h"
)

// Values fills the placeholders of a message template.
type Values struct {
	PatientName string
	DoctorName  string
	ClinicName  string
	Date        string // 02/01/2006
	Time        string // 15:04
}

type messageTemplate struct {
	subject string
	body    *template.Template
}

func mustTemplate(name, subject, body string) messageTemplate {
	return messageTemplate{
		subject: subject,
		body:    template.Must(template.New(name).Option("missingkey=error").Parse(body)),
	}
}

var templates = map[string]messageTemplate{
	TemplateCreated: mustTemplate(TemplateCreated,
		"Your appointment has been booked",
		"Hi {{.PatientName}}, your appointment with {{.DoctorName}} at {{.ClinicName}} is booked for {{.Date}} at {{.Time}}. "+
			"Reply Confirm, Reschedule or Cancel."),
	TemplateConfirmed: mustTemplate(TemplateConfirmed,
		"Appointment confirmed",
		"Hi {{.PatientName}}, your appointment with {{.DoctorName}} on {{.Date}} at {{.Time}} is confirmed. See you at {{.ClinicName}}."),
	TemplateRescheduled: mustTemplate(TemplateRescheduled,
		"Appointment rescheduled",
		"Hi {{.PatientName}}, your appointment with {{.DoctorName}} has been moved to {{.Date}} at {{.Time}} at {{.ClinicName}}."),
	TemplateCancelled: mustTemplate(TemplateCancelled,
		"Appointment cancelled",
		"Hi {{.PatientName}}, your appointment with {{.DoctorName}} on {{.Date}} at {{.Time}} has been cancelled. "+
			"Contact {{.ClinicName}} to book again."),
	TemplateReminder48h: mustTemplate(TemplateReminder48h,
		"Appointment reminder",
		"Reminder: {{.PatientName}}, you have an appointment with {{.DoctorName}} in two days, {{.Date}} at {{.Time}}, at {{.ClinicName}}. "+
			"Reply Confirm, Reschedule or Cancel."),
	TemplateReminder24h: mustTemplate(TemplateReminder24h,
		"Appointment tomorrow",
		"Reminder: {{.PatientName}}, your appointment with {{.DoctorName}} is tomorrow, {{.Date}} at {{.Time}}, at {{.ClinicName}}. "+
			"Reply Confirm, Reschedule or Cancel."),
}

// Render returns the subject and body of the named template.
func Render(name string, v Values) (string, string, error) {
	tpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("notify: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, v); err != nil {
		return "", "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return tpl.subject, buf.String(), nil
}
