package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var serviceErrors = []errorMapping{
	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{appointment.ErrAvailabilityNotFound, http.StatusNotFound, "availability_not_found"},
	{appointment.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
	{appointment.ErrProfessionalNotFound, http.StatusNotFound, "professional_not_found"},
	{appointment.ErrTreatmentNotFound, http.StatusNotFound, "treatment_not_found"},

	{appointment.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{appointment.ErrSlotAlreadyBooked, http.StatusConflict, "slot_already_booked"},
	{appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
	{appointment.ErrDuplicateAvailability, http.StatusConflict, "duplicate_availability"},
	{appointment.ErrDuplicateSlot, http.StatusConflict, "duplicate_slot"},
	{appointment.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
	{appointment.ErrHasDependentAppointments, http.StatusConflict, "has_dependent_appointments"},
	{appointment.ErrInvalidAvailabilityTransition, http.StatusConflict, "invalid_availability_transition"},

	{appointment.ErrPatientInactive, http.StatusBadRequest, "patient_inactive"},
	{appointment.ErrProfessionalInactive, http.StatusBadRequest, "professional_inactive"},
	{appointment.ErrTreatmentNotVisible, http.StatusBadRequest, "treatment_not_visible"},
	{appointment.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{appointment.ErrInvalidCreatedBy, http.StatusBadRequest, "invalid_created_by"},
	{appointment.ErrInvalidAvailabilityStatus, http.StatusBadRequest, "invalid_availability_status"},
	{appointment.ErrInvalidSlot, http.StatusBadRequest, "invalid_slot"},
	{appointment.ErrInvalidPeriod, http.StatusBadRequest, "invalid_period"},
}

// errorScope tells writeServiceError where a missing entity was referenced.
type errorScope int

const (
	// a missing entity named in the path is a 404
	pathScope errorScope = iota
	// a missing entity named in the request body is a 400
	bodyScope
)

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, scope errorScope) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			status := m.status
			if status == http.StatusNotFound && scope == bodyScope {
				status = http.StatusBadRequest
			}
			writeError(w, status, m.code, m.target.Error())
			return
		}
	}

	if ctxErr := r.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("request cancelled")
		writeError(w, http.StatusServiceUnavailable, "request_cancelled", "request was cancelled")
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled service error")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
