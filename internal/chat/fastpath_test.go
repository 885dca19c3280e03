package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFastPath(t *testing.T) {
	cases := []struct {
		name   string
		step   Step
		text   string
		action Action
		key    string
		id     int64
	}{
		{"doctor token", StepSelectingDoctor, "3|Dr. Soto", ActionSelectDoctor, "doctor_id", 3},
		{"doctor token with spaces", StepSelectingDoctor, " 12 | Dr(a). Ana Soto ", ActionSelectDoctor, "doctor_id", 12},
		{"slot token", StepSelectingDate, "41|2025-01-15 09:00-09:30", ActionSelectSlot, "schedule_id", 41},
		{"slot token while confirming", StepConfirming, "42|2025-01-15 10:00-10:30", ActionSelectSlot, "schedule_id", 42},
		{"confirm", StepConfirming, "Sí, confirmar", ActionCreate, "", 0},
		{"decline", StepConfirming, "no", ActionShowAvailability, "", 0},
		{"menu book", StepSelectingAction, "1", ActionStartBooking, "", 0},
		{"menu agenda", StepCompleted, "2) ver agenda", ActionViewAgenda, "", 0},
		{"initial", StepInitial, "buenas tardes", ActionShowMenu, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, ok := fastPath(tc.step, tc.text)
			assert.True(t, ok)
			assert.Equal(t, tc.action, r.Action)
			if tc.key != "" {
				id, ok := r.Data.Int(tc.key)
				assert.True(t, ok)
				assert.Equal(t, tc.id, id)
			}
		})
	}
}

func TestFastPathDocumentNumber(t *testing.T) {
	r, ok := fastPath(StepGettingCedula, "1.234.567")
	assert.True(t, ok)
	assert.Equal(t, ActionProcessCedula, r.Action)
	assert.Equal(t, "1234567", r.Data.String("cedula"))
}

func TestFastPathFallsThrough(t *testing.T) {
	cases := []struct {
		step Step
		text string
	}{
		{StepSelectingDoctor, "the cardiologist please"},
		{StepSelectingDoctor, "Dr. Soto|3"},
		{StepSelectingAction, "I want to book"},
		{StepGettingCedula, "her id is 123"},
		{StepConfirming, "maybe later"},
	}
	for _, tc := range cases {
		_, ok := fastPath(tc.step, tc.text)
		assert.False(t, ok, "%s: %q", tc.step, tc.text)
	}
}

func TestBuildPromptUsesStepTableAndHistoryWindow(t *testing.T) {
	var history []Message
	for i := 0; i < 15; i++ {
		history = append(history, Message{Role: RoleUser, Content: strings.Repeat("x", i+1)})
	}
	p := buildPrompt(StepSelectingDate, "staff", history, "12|2025-01-15 09:00-09:30")

	assert.Contains(t, p, "Current step: selecting_date")
	assert.Contains(t, p, stepContext[StepSelectingDate])
	assert.Contains(t, p, "User role: staff")
	assert.NotContains(t, p, "USER: xxxxx\n", "messages older than the window are dropped")
	assert.Contains(t, p, "USER: "+strings.Repeat("x", 15))
	assert.True(t, strings.HasSuffix(p, "User: 12|2025-01-15 09:00-09:30\nAssistant:"))
}
