package chat

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a professional and friendly medical appointment assistant for a clinic. The clinic works Monday to Saturday.

CONVERSATION FLOW:
1. INITIAL: offer "Book an appointment" or "View a doctor's agenda".
2. BOOKING:
   a. Ask for the patient's document number.
   b. Find the patient and show the numbered list of doctors.
   c. Ask the user to pick a doctor.
   d. Show the doctor's availability (dates and times).
   e. Ask the user to pick a slot.
   f. Confirm and create the appointment.
3. VIEW AGENDA:
   a. Show the list of doctors.
   b. Ask the user to pick a doctor.
   c. Show that doctor's availability.

RESPONSE FORMAT (MANDATORY):
Always answer with a single JSON object:
{
  "message": "friendly text for the user",
  "action": "show_initial_menu|start_booking|view_doctor_agenda|process_patient_cedula|show_doctors|select_doctor|show_availability|select_slot|create_appointment",
  "data": {
    "cedula": "document number when present",
    "doctor_id": "doctor id when present (integer)",
    "schedule_id": "slot id when present (integer)"
  }
}

RULES:
1. When the user sends a document number: action="process_patient_cedula", data={"cedula": "<value>"}.
2. When the user picks a doctor written as "ID|Name" (for example "1|Dr. Perez"), take the number before "|":
   action="select_doctor", data={"doctor_id": <number>}. Do not run show_doctors again.
3. When the user picks a slot written as "ID|date time": action="select_slot", data={"schedule_id": <number>}.
4. When the user confirms the selected slot: action="create_appointment".
5. Always answer with valid JSON and never add text after it.`

const roleNote = `Remember: admins and staff may book for any patient of their company. Other roles have limited actions; tell them they lack permission.`

// stepContext is the per-step instruction handed to the model.
var stepContext = map[Step]string{
	StepInitial:         "The user is starting. Show a menu with the options: 1) Book an appointment for a patient, 2) View a doctor's agenda.",
	StepSelectingAction: "Wait for the user to choose 1 (book, action=start_booking) or 2 (view agenda, action=view_doctor_agenda).",
	StepGettingCedula:   "The user chose to book. Ask for the patient's document number (ID card, passport, etc).",
	StepSelectingDoctor: "The patient is identified, or the user wants to view an agenda. Ask the user to pick a doctor from the numbered list; if the message has the form 'ID|Name' use action='select_doctor' with that doctor_id.",
	StepSelectingDate:   "A doctor was selected and the availability was shown. If the message has the form 'ID|date time' use action='select_slot' with that schedule_id.",
	StepConfirming:      "Ask the user to confirm booking the selected slot; on confirmation use action='create_appointment'. If they decline use action='show_availability'.",
	StepCompleted:       "The action is complete. Ask whether they want to do something else.",
}

// reprompts are the deterministic replies used when a message cannot be
// mapped to an action valid for the current step.
var reprompts = map[Step]string{
	StepInitial:         menuText,
	StepSelectingAction: "Please reply 1 to book an appointment or 2 to view a doctor's agenda.",
	StepGettingCedula:   "Please send the patient's document number.",
	StepSelectingDoctor: `Please choose a doctor from the list, for example "3|Dr(a). Ana Soto".`,
	StepSelectingDate:   `Please choose one of the available slots, for example "12|2025-01-15 09:00-09:30".`,
	StepConfirming:      "Reply yes to confirm the appointment or no to choose another slot.",
	StepCompleted:       "Anything else? Reply 1 to book another appointment or 2 to view a doctor's agenda.",
}

const menuText = "How can I help you?\n1) Book an appointment for a patient\n2) View a doctor's agenda"

const oracleUnavailableText = "Sorry, the assistant is not available right now. Please try again in a moment."

const historyWindow = 10

func buildPrompt(step Step, role string, history []Message, text string) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(m.Role)), m.Content))
	}
	if role == "" {
		role = "user"
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Current step: %s\n", step)
	fmt.Fprintf(&b, "Step context: %s\n", stepContext[step])
	fmt.Fprintf(&b, "User role: %s\n", role)
	b.WriteString(roleNote)
	b.WriteString("\n--- History ---\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "User: %s\nAssistant:", text)
	return b.String()
}
