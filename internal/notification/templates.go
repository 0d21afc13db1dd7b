package notification

import (
	"fmt"
	"html"
	"strings"
)

const (
	longDate  = "Monday, January 2, 2006"
	shortDate = "Mon Jan 2"
)

// template holds the per-channel renditions of one notification type.
// Placeholders use the {{key}} form.
type template struct {
	Title   string
	InApp   string
	SMS     string
	Subject string
	Text    string
}

var appointmentTemplates = map[Type]template{
	TypeAppointmentCreated: {
		Title:   "Appointment requested",
		InApp:   "Your {{service}} appointment on {{date}} at {{slot}} has been requested and is awaiting review.",
		SMS:     "Clinic: we received your {{service}} request for {{short_date}} {{slot}}. We will confirm shortly.",
		Subject: "We received your appointment request",
		Text:    "Your {{service}} appointment on {{date}} at {{slot}} has been requested and is awaiting review by our staff.",
	},
	TypeAppointmentApproved: {
		Title:   "Appointment approved",
		InApp:   "Your {{service}} appointment on {{date}} at {{slot}} has been approved.",
		SMS:     "Clinic: your {{service}} appointment on {{short_date}} at {{slot}} is approved.",
		Subject: "Your appointment is confirmed",
		Text:    "Your {{service}} appointment on {{date}} at {{slot}} has been approved. Please arrive ten minutes early.",
	},
	TypeAppointmentRejected: {
		Title:   "Appointment not approved",
		InApp:   "Your {{service}} request for {{date}} at {{slot}} was not approved.{{reason}}",
		SMS:     "Clinic: your {{service}} request for {{short_date}} {{slot}} was not approved.{{reason}}",
		Subject: "Your appointment request was not approved",
		Text:    "Your {{service}} request for {{date}} at {{slot}} was not approved.{{reason}} You are welcome to book another slot.",
	},
	TypeAppointmentCancelled: {
		Title:   "Appointment cancelled",
		InApp:   "Your {{service}} appointment on {{date}} at {{slot}} has been cancelled.{{reason}}",
		SMS:     "Clinic: your {{service}} appointment on {{short_date}} at {{slot}} was cancelled.{{reason}}",
		Subject: "Your appointment was cancelled",
		Text:    "Your {{service}} appointment on {{date}} at {{slot}} has been cancelled.{{reason}}",
	},
	TypeAppointmentCompleted: {
		Title:   "Appointment completed",
		InApp:   "Your {{service}} appointment on {{date}} at {{slot}} is complete. Thank you for visiting.",
		SMS:     "Clinic: thank you for attending your {{service}} appointment on {{short_date}}.",
		Subject: "Thank you for your visit",
		Text:    "Your {{service}} appointment on {{date}} at {{slot}} is complete. Thank you for visiting the clinic.",
	},
	TypeAppointmentRescheduled: {
		Title:   "Appointment rescheduled",
		InApp:   "Your {{service}} appointment moved from {{previous_date}} at {{previous_slot}} to {{date}} at {{slot}}.",
		SMS:     "Clinic: your {{service}} appointment moved to {{short_date}} at {{slot}}.",
		Subject: "Your appointment was rescheduled",
		Text:    "Your {{service}} appointment moved from {{previous_date}} at {{previous_slot}} to {{date}} at {{slot}}. It is awaiting review.",
	},
}

var emergencyTemplate = template{
	Title:   "Emergency update",
	InApp:   "Your {{emergency_type}} report is now {{status}}.{{priority}}{{note}}",
	SMS:     "Clinic: your {{emergency_type}} report is now {{status}}.{{priority}}",
	Subject: "Update on your emergency report",
	Text:    "Your {{emergency_type}} report is now {{status}}.{{priority}}{{note}}",
}

const emailLayout = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
<h2>{{subject}}</h2>
<p>Dear {{patient_name}},</p>
<p>{{body}}</p>
<p>Clinic Appointments</p>
</body>
</html>`

// rendered is a notification in every channel's shape.
type rendered struct {
	Type    Type
	Title   string
	Message string
	SMS     string
	Subject string
	HTML    string
	Text    string
}

func render(ev Event, contact Contact) (rendered, error) {
	var (
		tpl  template
		data map[string]string
	)

	switch e := ev.(type) {
	case AppointmentEvent:
		t, ok := appointmentTemplates[e.Type]
		if !ok {
			return rendered{}, fmt.Errorf("no template for notification type %q", e.Type)
		}
		tpl = t
		data = map[string]string{
			"service":       e.Service,
			"date":          e.Date.Format(longDate),
			"short_date":    e.Date.Format(shortDate),
			"slot":          e.Slot,
			"previous_date": e.PreviousDate.Format(longDate),
			"previous_slot": e.PreviousSlot,
			"reason":        suffix("Reason", e.Reason),
		}
	case EmergencyEvent:
		tpl = emergencyTemplate
		data = map[string]string{
			"emergency_type": e.EmergencyType,
			"status":         strings.ReplaceAll(e.Status, "_", " "),
			"priority":       suffix("Priority", e.Priority),
			"note":           suffix("Note", e.Note),
		}
	default:
		return rendered{}, fmt.Errorf("unsupported notification event %T", ev)
	}

	name := contact.Name
	if name == "" {
		name = "Patient"
	}
	data["patient_name"] = name

	text := fill(tpl.Text, data)
	subject := fill(tpl.Subject, data)

	return rendered{
		Type:    ev.kind(),
		Title:   fill(tpl.Title, data),
		Message: fill(tpl.InApp, data),
		SMS:     fill(tpl.SMS, data),
		Subject: subject,
		Text:    "Dear " + name + ",\n\n" + text,
		HTML: fill(emailLayout, map[string]string{
			"subject":      html.EscapeString(subject),
			"patient_name": html.EscapeString(name),
			"body":         html.EscapeString(text),
		}),
	}, nil
}

// fill performs {{key}} replacement in a single pass, so substituted values
// are never expanded again. Unknown placeholders are left as-is.
func fill(tpl string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

func suffix(label, value string) string {
	if value == "" {
		return ""
	}
	return " " + label + ": " + value + "."
}
