package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/lock"
)

type apiFixture struct {
	repo         *appointment.MemoryRepository
	handler      http.Handler
	professional appointment.Professional
	patient      appointment.Patient
	treatment    appointment.Treatment
}

func newAPIFixture(t *testing.T, deps ...Dependency) *apiFixture {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	svc := appointment.NewService(repo, lock.NewLocalLocker(0), zerolog.Nop())

	f := &apiFixture{
		repo: repo,
		handler: NewRouter(RouterConfig{
			Service:      svc,
			Dependencies: deps,
			Logger:       zerolog.Nop(),
			Env:          "test",
			Version:      "test",
		}),
	}
	f.professional = repo.AddProfessional(appointment.Professional{Name: "Ana", LastName: "Ruiz", Active: true})
	f.patient = repo.AddPatient(appointment.Patient{FirstName: "Luis", LastName: "Gomez", Active: true})
	f.treatment = repo.AddTreatment(appointment.Treatment{Name: "Cleaning", DurationMinutes: 30, Visible: true})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedAvailability creates a 09:00-09:30 slot and a FREE availability on
// 2025-11-10 through the API.
func (f *apiFixture) seedAvailability(t *testing.T) (SlotResponse, AvailabilityResponse) {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/slots", CreateSlotRequest{StartTime: "09:00", EndTime: "09:30"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	slot := decode[SlotResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/availabilities", CreateAvailabilityRequest{
		ProfessionalID: f.professional.ID.String(),
		SlotID:         slot.ID.String(),
		Date:           "2025-11-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return slot, decode[AvailabilityResponse](t, rec)
}

func (f *apiFixture) bookingRequest(slotID uuid.UUID) CreateAppointmentRequest {
	date := "2025-11-10"
	return CreateAppointmentRequest{
		SlotID:         slotID.String(),
		ProfessionalID: f.professional.ID.String(),
		PatientID:      f.patient.ID.String(),
		TreatmentID:    f.treatment.ID.String(),
		Date:           &date,
	}
}

func TestBookingFlow(t *testing.T) {
	f := newAPIFixture(t)

	slot, av := f.seedAvailability(t)
	assert.Equal(t, "MORNING", slot.Period)
	assert.Equal(t, "2025-11-10", av.Date)
	assert.Equal(t, "FREE", av.Status)
	assert.Equal(t, "09:00", av.StartTime)

	rec := f.do(t, http.MethodPost, "/appointments", f.bookingRequest(slot.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "PENDING", appt.Status)
	assert.Equal(t, "2025-11-10T09:00:00", appt.ScheduledAt)
	assert.Equal(t, "ADMIN", appt.CreatedBy)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, "Luis", appt.Patient.FirstName)
	assert.Nil(t, appt.CancellationReason)

	// same request again
	rec = f.do(t, http.MethodPost, "/appointments", f.bookingRequest(slot.ID))
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[ErrorResponse](t, rec)
	assert.Equal(t, "slot_unavailable", conflict.Error)
	assert.Equal(t, "slot already booked or unavailable", conflict.Message)

	rec = f.do(t, http.MethodGet, "/availabilities/"+av.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RESERVED", decode[AvailabilityResponse](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appt.ID, decode[AppointmentResponse](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/appointments?patient_id="+f.patient.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AppointmentResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, appt.ID, list[0].ID)

	// reserved availabilities cannot be withdrawn
	rec = f.do(t, http.MethodDelete, "/availabilities/"+av.ID.String(), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "has_dependent_appointments", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPut, "/appointments/"+appt.ID.String()+"/cancel?reason=sick", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "CANCELLED", cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "sick", *cancelled.CancellationReason)

	rec = f.do(t, http.MethodGet, "/availabilities/"+av.ID.String(), nil)
	assert.Equal(t, "FREE", decode[AvailabilityResponse](t, rec).Status)

	// the slot can be booked again
	rec = f.do(t, http.MethodPost, "/appointments", f.bookingRequest(slot.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	slot, _ := f.seedAvailability(t)

	rec := f.do(t, http.MethodPost, "/appointments", f.bookingRequest(slot.ID))
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentResponse](t, rec)
	path := "/appointments/" + appt.ID.String() + "/status"

	rec = f.do(t, http.MethodPut, path, UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CONFIRMED", decode[AppointmentResponse](t, rec).Status)

	rec = f.do(t, http.MethodPut, path, UpdateStatusRequest{Status: "PENDING"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPut, path, UpdateStatusRequest{Status: "EXPIRED"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPut, "/appointments/"+uuid.NewString()+"/status", UpdateStatusRequest{Status: "CONFIRMED"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestDeleteAppointmentCancelsWithBodyReason(t *testing.T) {
	f := newAPIFixture(t)
	slot, _ := f.seedAvailability(t)

	rec := f.do(t, http.MethodPost, "/appointments", f.bookingRequest(slot.ID))
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentResponse](t, rec)

	rec = f.do(t, http.MethodDelete, "/appointments/"+appt.ID.String(), CancelRequest{Reason: "moved away"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[AppointmentResponse](t, rec)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "moved away", *cancelled.CancellationReason)

	rec = f.do(t, http.MethodDelete, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelWithoutReasonUsesDefault(t *testing.T) {
	f := newAPIFixture(t)
	slot, _ := f.seedAvailability(t)

	rec := f.do(t, http.MethodPost, "/appointments", f.bookingRequest(slot.ID))
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentResponse](t, rec)

	rec = f.do(t, http.MethodPut, "/appointments/"+appt.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[AppointmentResponse](t, rec)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, appointment.DefaultCancellationReason, *cancelled.CancellationReason)
}

func TestCreateAppointmentActorRole(t *testing.T) {
	f := newAPIFixture(t)
	slot, _ := f.seedAvailability(t)

	rec := f.do(t, http.MethodPost, "/appointments", f.bookingRequest(slot.ID),
		"X-Actor-Role", "PATIENT", "X-Actor-ID", f.patient.ID.String())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "PATIENT", decode[AppointmentResponse](t, rec).CreatedBy)

	var created map[string]any
	for _, ev := range f.repo.Events() {
		if ev.EventType == appointment.EventAppointmentCreated {
			require.NoError(t, json.Unmarshal(ev.Payload, &created))
		}
	}
	assert.Equal(t, f.patient.ID.String(), created["actor_id"])

	rec = f.do(t, http.MethodGet, "/slots", nil, "X-Actor-Role", "JANITOR")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_actor_role", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/slots", nil, "X-Actor-ID", "nope")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_actor_id", decode[ErrorResponse](t, rec).Error)
}

func TestCreateAppointmentValidation(t *testing.T) {
	f := newAPIFixture(t)
	slot, _ := f.seedAvailability(t)

	tests := []struct {
		name       string
		mutate     func(req *CreateAppointmentRequest)
		wantStatus int
		wantCode   string
	}{
		{"malformed slot id", func(req *CreateAppointmentRequest) { req.SlotID = "x" }, http.StatusBadRequest, "invalid_slot_id"},
		{"malformed date", func(req *CreateAppointmentRequest) { d := "10/11/2025"; req.Date = &d }, http.StatusBadRequest, "invalid_date"},
		{"unknown slot", func(req *CreateAppointmentRequest) { req.SlotID = uuid.NewString() }, http.StatusBadRequest, "slot_not_found"},
		{"unknown patient", func(req *CreateAppointmentRequest) { req.PatientID = uuid.NewString() }, http.StatusBadRequest, "patient_not_found"},
		{"no availability", func(req *CreateAppointmentRequest) { d := "2025-11-11"; req.Date = &d }, http.StatusBadRequest, "availability_not_found"},
		{"bad created_by", func(req *CreateAppointmentRequest) { req.CreatedBy = "robot" }, http.StatusBadRequest, "invalid_created_by"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.bookingRequest(slot.ID)
			tt.mutate(&req)

			rec := f.do(t, http.MethodPost, "/appointments", req)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decode[ErrorResponse](t, rec).Error)
}

func TestAppointmentLookups(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_filter", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/appointments?professional_id="+f.professional.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]AppointmentResponse](t, rec))
}

func TestAvailabilityEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	slot, av := f.seedAvailability(t)

	rec := f.do(t, http.MethodPost, "/availabilities", CreateAvailabilityRequest{
		ProfessionalID: f.professional.ID.String(),
		SlotID:         slot.ID.String(),
		Date:           "2025-11-10",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_availability", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/availabilities", CreateAvailabilityRequest{
		ProfessionalID: uuid.NewString(),
		SlotID:         slot.ID.String(),
		Date:           "2025-11-10",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "professional_not_found", decode[ErrorResponse](t, rec).Error)

	date := "2025-11-12"
	rec = f.do(t, http.MethodPut, "/availabilities/"+av.ID.String(), UpdateAvailabilityRequest{Date: &date})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2025-11-12", decode[AvailabilityResponse](t, rec).Date)

	reserved := "RESERVED"
	rec = f.do(t, http.MethodPut, "/availabilities/"+av.ID.String(), UpdateAvailabilityRequest{Status: &reserved})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_availability_transition", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/availabilities?professional_id="+f.professional.ID.String()+"&date=2025-11-12", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AvailabilityResponse](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/availabilities?date=2025-11-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]AvailabilityResponse](t, rec))

	rec = f.do(t, http.MethodGet, "/availabilities?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/availabilities/"+av.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/availabilities?status=unavailable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AvailabilityResponse](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/availabilities/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSlotEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/slots", CreateSlotRequest{StartTime: "15:00", EndTime: "15:45"})
	require.Equal(t, http.StatusCreated, rec.Code)
	slot := decode[SlotResponse](t, rec)
	assert.Equal(t, "AFTERNOON", slot.Period)

	rec = f.do(t, http.MethodPost, "/slots", CreateSlotRequest{StartTime: "15:00", EndTime: "15:45"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/slots", CreateSlotRequest{StartTime: "16:00", EndTime: "15:00"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_slot", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/slots", CreateSlotRequest{StartTime: "noon", EndTime: "15:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/slots/"+slot.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "15:45", decode[SlotResponse](t, rec).EndTime)

	rec = f.do(t, http.MethodGet, "/slots/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/slots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 1)
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name       string
		deps       []Dependency
		wantStatus int
		wantBody   string
	}{
		{"no dependencies", nil, http.StatusOK, "ok"},
		{"all up", []Dependency{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: ok}}, http.StatusOK, "ok"},
		{"optional down", []Dependency{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"critical down", []Dependency{{Name: "postgres", Critical: true, Ping: down}, {Name: "redis", Ping: ok}}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, tt.deps...)

			rec := f.do(t, http.MethodGet, "/health/ready", nil)
			require.Equal(t, tt.wantStatus, rec.Code)
			resp := decode[ReadinessResponse](t, rec)
			assert.Equal(t, tt.wantBody, resp.Status)
			assert.Len(t, resp.Dependencies, len(tt.deps))
		})
	}

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)
}

func TestRequestIDPropagation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health/live", nil, "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/health/live", nil)
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[ErrorResponse](t, rec).Error)
}

func TestActorRoleHeaderIsCaseInsensitive(t *testing.T) {
	f := newAPIFixture(t)
	slot, _ := f.seedAvailability(t)

	rec := f.do(t, http.MethodPost, "/appointments", f.bookingRequest(slot.ID), "X-Actor-Role", "professional")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "PROFESSIONAL", decode[AppointmentResponse](t, rec).CreatedBy)
}
