package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDField(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseDateField(w http.ResponseWriter, raw, field string) (time.Time, bool) {
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a date formatted YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// Slots

func listSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slots, err := svc.ListSlots(r.Context())
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_slot_id")
		if !ok {
			return
		}

		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func createSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		start, err := appointment.ParseTimeOfDay(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be formatted HH:MM")
			return
		}
		end, err := appointment.ParseTimeOfDay(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be formatted HH:MM")
			return
		}

		slot, err := svc.CreateSlot(r.Context(), appointment.CreateSlotInput{
			StartTime: start,
			EndTime:   end,
			Period:    appointment.Period(strings.ToUpper(req.Period)),
		})
		if err != nil {
			writeServiceError(w, r, err, bodyScope)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

// Availabilities

func listAvailabilitiesHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter appointment.AvailabilityFilter
		q := r.URL.Query()

		if raw := q.Get("professional_id"); raw != "" {
			id, ok := parseUUIDField(w, raw, "professional_id")
			if !ok {
				return
			}
			filter.ProfessionalID = &id
		}
		if raw := q.Get("date"); raw != "" {
			d, ok := parseDateField(w, raw, "date")
			if !ok {
				return
			}
			filter.Date = &d
		}
		if raw := q.Get("status"); raw != "" {
			status := appointment.AvailabilityStatus(strings.ToUpper(raw))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_availability_status", "status must be FREE, RESERVED or UNAVAILABLE")
				return
			}
			filter.Status = &status
		}

		list, err := svc.ListAvailabilities(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}

		resp := make([]AvailabilityResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toAvailabilityResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_availability_id")
		if !ok {
			return
		}

		av, err := svc.GetAvailability(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(av))
	}
}

func createAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAvailabilityRequest
		if !decodeBody(w, r, &req) {
			return
		}

		professionalID, ok := parseUUIDField(w, req.ProfessionalID, "professional_id")
		if !ok {
			return
		}
		slotID, ok := parseUUIDField(w, req.SlotID, "slot_id")
		if !ok {
			return
		}
		date, ok := parseDateField(w, req.Date, "date")
		if !ok {
			return
		}

		av, err := svc.CreateAvailability(r.Context(), appointment.CreateAvailabilityInput{
			ProfessionalID: professionalID,
			SlotID:         slotID,
			Date:           date,
			Status:         appointment.AvailabilityStatus(strings.ToUpper(req.Status)),
		})
		if err != nil {
			writeServiceError(w, r, err, bodyScope)
			return
		}
		writeJSON(w, http.StatusCreated, toAvailabilityResponse(av))
	}
}

func updateAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_availability_id")
		if !ok {
			return
		}

		var req UpdateAvailabilityRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var in appointment.UpdateAvailabilityInput
		if req.Date != nil {
			d, ok := parseDateField(w, *req.Date, "date")
			if !ok {
				return
			}
			in.Date = &d
		}
		if req.Status != nil {
			status := appointment.AvailabilityStatus(strings.ToUpper(*req.Status))
			in.Status = &status
		}

		av, err := svc.UpdateAvailability(r.Context(), id, in)
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(av))
	}
}

func deleteAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_availability_id")
		if !ok {
			return
		}

		if err := svc.SoftDeleteAvailability(r.Context(), id); err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Appointments

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var in appointment.CreateAppointmentInput
		var ok bool
		if in.SlotID, ok = parseUUIDField(w, req.SlotID, "slot_id"); !ok {
			return
		}
		if in.ProfessionalID, ok = parseUUIDField(w, req.ProfessionalID, "professional_id"); !ok {
			return
		}
		if in.PatientID, ok = parseUUIDField(w, req.PatientID, "patient_id"); !ok {
			return
		}
		if in.TreatmentID, ok = parseUUIDField(w, req.TreatmentID, "treatment_id"); !ok {
			return
		}
		if req.Date != nil && *req.Date != "" {
			d, ok := parseDateField(w, *req.Date, "date")
			if !ok {
				return
			}
			in.Date = &d
		}

		in.CreatedBy = appointment.CreatedBy(strings.ToUpper(req.CreatedBy))
		if in.CreatedBy == "" {
			in.CreatedBy = GetActor(r.Context()).Role
		}
		in.ActorID = GetActor(r.Context()).ID

		appt, err := svc.CreateAppointment(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err, bodyScope)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var (
			list []appointment.AppointmentDetail
			err  error
		)
		switch {
		case q.Get("patient_id") != "":
			id, ok := parseUUIDField(w, q.Get("patient_id"), "patient_id")
			if !ok {
				return
			}
			list, err = svc.ListAppointmentsByPatient(r.Context(), id)
		case q.Get("professional_id") != "":
			id, ok := parseUUIDField(w, q.Get("professional_id"), "professional_id")
			if !ok {
				return
			}
			list, err = svc.ListAppointmentsByProfessional(r.Context(), id)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or professional_id is required")
			return
		}
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}

		resp := make([]AppointmentResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toAppointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.UpdateAppointmentStatus(r.Context(), id, appointment.AppointmentStatus(strings.ToUpper(req.Status)))
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// cancelAppointmentHandler serves both PUT /appointments/{id}/cancel?reason=
// and DELETE /appointments/{id} with an optional {"reason"} body.
func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		reason := r.URL.Query().Get("reason")
		if reason == "" && r.Body != nil {
			var req CancelRequest
			err := json.NewDecoder(r.Body).Decode(&req)
			if err != nil && !errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
			reason = req.Reason
		}

		appt, err := svc.CancelAppointment(r.Context(), id, reason)
		if err != nil {
			writeServiceError(w, r, err, pathScope)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
