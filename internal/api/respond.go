package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/booking"
	"github.com/hackgods/medical-appointment-platform/internal/chat"
	"github.com/hackgods/medical-appointment-platform/internal/directory"
	"github.com/hackgods/medical-appointment-platform/internal/webhook"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

var errValidation = errors.New("validation error")

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errValidation, fmt.Sprintf(format, args...))
}

// writeDomainError maps service errors onto status codes. Everything that
// is missing or belongs to another tenant is the same 404.
func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, errValidation):
		writeError(w, http.StatusBadRequest, "validation_error", strings.TrimPrefix(err.Error(), errValidation.Error()+": "))
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusBadRequest, "slot_unavailable", "slot no longer available, choose another")
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrRoomMismatch):
		writeError(w, http.StatusBadRequest, "room_mismatch", err.Error())
	case errors.Is(err, appointment.ErrNoAvailableSlot):
		writeError(w, http.StatusBadRequest, "no_available_slot", err.Error())
	case errors.Is(err, appointment.ErrInvalidTimeRange),
		errors.Is(err, booking.ErrMissingSlot),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, webhook.ErrMissingSender):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrCrossTenantReference),
		errors.Is(err, appointment.ErrAppointmentNotFound),
		errors.Is(err, appointment.ErrSlotNotFound),
		errors.Is(err, appointment.ErrPatientNotFound),
		errors.Is(err, appointment.ErrDoctorNotFound),
		errors.Is(err, appointment.ErrRoomNotFound),
		errors.Is(err, directory.ErrPatientNotFound),
		errors.Is(err, directory.ErrDoctorNotFound),
		errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, webhook.ErrNoAppointment):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, chat.ErrSessionBusy),
		errors.Is(err, chat.ErrSessionConflict):
		writeError(w, http.StatusConflict, "session_busy", "the session is handling another message, retry shortly")
	default:
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return validationError("could not parse JSON body")
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, validationError("%s must be a positive integer", name)
	}
	return id, nil
}

var wallClockLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseWallClock reads a clinic-local time. Any offset is dropped: times
// are stored as wall clock.
func parseWallClock(s string) (time.Time, error) {
	for _, layout := range wallClockLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
		}
	}
	return time.Time{}, validationError("invalid datetime %q", s)
}

func optionalWallClock(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := parseWallClock(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func payloadInt(p map[string]any, key string) (*int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n int64
	var err error
	switch x := v.(type) {
	case json.Number:
		n, err = x.Int64()
	case float64:
		n = int64(x)
	case string:
		n, err = strconv.ParseInt(x, 10, 64)
	default:
		err = errors.New("unsupported type")
	}
	if err != nil {
		return nil, validationError("%s must be an integer", key)
	}
	return &n, nil
}

func payloadString(p map[string]any, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
