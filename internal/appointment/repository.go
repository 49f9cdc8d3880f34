package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrTreatmentNotFound    = errors.New("treatment not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrAvailabilityNotFound = errors.New("availability not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")

	ErrDuplicateAvailability = errors.New("an availability already exists for this professional, date and slot")
)

type AvailabilityFilter struct {
	ProfessionalID *uuid.UUID
	Date           *time.Time
	Status         *AvailabilityStatus
}

// Repository contains all storage interactions needed by the service.
//
// Lock* methods take a row lock that is held until the surrounding
// transaction ends; outside WithTx they behave like plain reads.
type Repository interface {
	// WithTx runs fn in a single transaction. The repository handed to fn is
	// bound to that transaction; nested calls reuse it.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	// Reference entities
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error)
	GetTreatmentByID(ctx context.Context, id uuid.UUID) (*Treatment, error)

	// Slot catalog
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context) ([]Slot, error)
	CreateSlot(ctx context.Context, s *Slot) error

	// Availability ledger
	GetAvailabilityByID(ctx context.Context, id uuid.UUID) (*AvailabilityView, error)
	LockAvailabilityByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	// LockAvailabilityFor locks the availability of a professional for a slot.
	// With a nil date the earliest FREE row wins, falling back to the
	// earliest row of any status.
	LockAvailabilityFor(ctx context.Context, professionalID, slotID uuid.UUID, date *time.Time) (*Availability, error)
	ListAvailabilities(ctx context.Context, filter AvailabilityFilter) ([]AvailabilityView, error)
	AvailabilityExists(ctx context.Context, professionalID uuid.UUID, date time.Time, slotID uuid.UUID) (bool, error)
	CreateAvailability(ctx context.Context, a *Availability) error
	UpdateAvailability(ctx context.Context, a *Availability) error

	// Appointment ledger
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	LockAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error)
	ListAppointmentsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]AppointmentDetail, error)
	// CountActiveBySlot counts non-cancelled appointments of a professional
	// for a slot on a calendar date.
	CountActiveBySlot(ctx context.Context, slotID uuid.UUID, date time.Time, professionalID uuid.UUID) (int, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
