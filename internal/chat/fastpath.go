package chat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hackgods/medical-appointment-platform/internal/directory"
	"github.com/hackgods/medical-appointment-platform/internal/intent"
)

// idLabel matches machine-generated selections such as "3|Dr. Soto".
var idLabel = regexp.MustCompile(`^\s*(\d+)\s*\|\s*(.+?)\s*$`)

var documentNumber = regexp.MustCompile(`^[0-9][0-9.\- ]{3,}$`)

// fastPath maps messages that need no interpretation to a reply without
// consulting the model.
func fastPath(step Step, text string) (Reply, bool) {
	text = strings.TrimSpace(text)

	switch step {
	case StepInitial:
		return Reply{Action: ActionShowMenu, Data: Data{}}, true

	case StepSelectingAction, StepCompleted:
		return menuChoice(text)

	case StepGettingCedula:
		if documentNumber.MatchString(text) {
			doc := directory.NormalizeDocument(text)
			return Reply{Action: ActionProcessCedula, Data: Data{"cedula": doc}}, true
		}

	case StepSelectingDoctor:
		if id, label, ok := parseIDLabel(text); ok {
			return Reply{
				Message: fmt.Sprintf("You selected %s.", label),
				Action:  ActionSelectDoctor,
				Data:    Data{"doctor_id": id},
			}, true
		}

	case StepSelectingDate, StepConfirming:
		if id, label, ok := parseIDLabel(text); ok {
			return Reply{
				Message: fmt.Sprintf("You selected %s.", label),
				Action:  ActionSelectSlot,
				Data:    Data{"schedule_id": id},
			}, true
		}
		if step == StepConfirming {
			switch intent.Classify(text) {
			case intent.Confirm:
				return Reply{Action: ActionCreate, Data: Data{}}, true
			case intent.Cancel, intent.Reschedule:
				return Reply{Action: ActionShowAvailability, Data: Data{}}, true
			}
		}
	}
	return Reply{}, false
}

func menuChoice(text string) (Reply, bool) {
	tokens := intent.Tokenize(text)
	if len(tokens) == 0 {
		return Reply{}, false
	}
	switch tokens[0] {
	case "1", "agendar", "book":
		return Reply{Action: ActionStartBooking, Data: Data{}}, true
	case "2", "agenda", "ver", "view":
		return Reply{Action: ActionViewAgenda, Data: Data{}}, true
	}
	return Reply{}, false
}

func parseIDLabel(text string) (int64, string, bool) {
	m := idLabel.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, m[2], true
}
