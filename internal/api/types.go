package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// scheduledAtLayout renders local wall-clock times without a zone.
const scheduledAtLayout = "2006-01-02T15:04:05"

type CreateAppointmentRequest struct {
	SlotID         string  `json:"slot_id"`
	ProfessionalID string  `json:"professional_id"`
	PatientID      string  `json:"patient_id"`
	TreatmentID    string  `json:"treatment_id"`
	Date           *string `json:"date,omitempty"`
	CreatedBy      string  `json:"created_by,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type PatientRef struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

type ProfessionalRef struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	LastName string    `json:"last_name"`
}

type TreatmentRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID       `json:"id"`
	SlotID             uuid.UUID       `json:"slot_id"`
	PatientID          uuid.UUID       `json:"patient_id"`
	ProfessionalID     uuid.UUID       `json:"professional_id"`
	TreatmentID        uuid.UUID       `json:"treatment_id"`
	Status             string          `json:"status"`
	CancellationReason *string         `json:"cancellation_reason"`
	ScheduledAt        string          `json:"scheduled_at"`
	DurationMinutes    int             `json:"duration_minutes"`
	CreatedBy          string          `json:"created_by"`
	Patient            PatientRef      `json:"patient"`
	Professional       ProfessionalRef `json:"professional"`
	Treatment          TreatmentRef    `json:"treatment"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toAppointmentResponse(d *appointment.AppointmentDetail) AppointmentResponse {
	return AppointmentResponse{
		ID:                 d.ID,
		SlotID:             d.SlotID,
		PatientID:          d.PatientID,
		ProfessionalID:     d.ProfessionalID,
		TreatmentID:        d.TreatmentID,
		Status:             string(d.Status),
		CancellationReason: d.CancellationReason,
		ScheduledAt:        d.ScheduledAt.Format(scheduledAtLayout),
		DurationMinutes:    d.DurationMinutes,
		CreatedBy:          string(d.CreatedBy),
		Patient:            PatientRef{ID: d.Patient.ID, FirstName: d.Patient.FirstName, LastName: d.Patient.LastName},
		Professional:       ProfessionalRef{ID: d.Professional.ID, Name: d.Professional.Name, LastName: d.Professional.LastName},
		Treatment:          TreatmentRef{ID: d.Treatment.ID, Name: d.Treatment.Name},
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

type CreateSlotRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Period    string `json:"period,omitempty"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Period    string    `json:"period"`
}

func toSlotResponse(s *appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		StartTime: s.StartTime.String(),
		EndTime:   s.EndTime.String(),
		Period:    string(s.Period),
	}
}

type CreateAvailabilityRequest struct {
	ProfessionalID string `json:"professional_id"`
	SlotID         string `json:"slot_id"`
	Date           string `json:"date"`
	Status         string `json:"status,omitempty"`
}

type UpdateAvailabilityRequest struct {
	Date   *string `json:"date,omitempty"`
	Status *string `json:"status,omitempty"`
}

type AvailabilityResponse struct {
	ID             uuid.UUID `json:"id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Date           string    `json:"date"`
	SlotID         uuid.UUID `json:"slot_id"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
	Period         string    `json:"period"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAvailabilityResponse(v *appointment.AvailabilityView) AvailabilityResponse {
	return AvailabilityResponse{
		ID:             v.ID,
		ProfessionalID: v.ProfessionalID,
		Date:           v.Date.Format(time.DateOnly),
		SlotID:         v.SlotID,
		StartTime:      v.Slot.StartTime.String(),
		EndTime:        v.Slot.EndTime.String(),
		Period:         string(v.Slot.Period),
		Status:         string(v.Status),
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
