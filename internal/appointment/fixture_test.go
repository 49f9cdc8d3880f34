package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/lock"
)

var nov10 = time.Date(2025, time.November, 10, 0, 0, 0, 0, time.UTC)

type fixture struct {
	repo         *MemoryRepository
	svc          *Service
	slot         *Slot
	professional Professional
	patient      Patient
	treatment    Treatment
	availability *AvailabilityView
}

// newFixture seeds one professional, patient and treatment, a 09:00-09:30
// slot and a FREE availability for 2025-11-10.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := NewMemoryRepository()
	svc := NewService(repo, lock.NewLocalLocker(5*time.Second), zerolog.Nop())

	f := &fixture{repo: repo, svc: svc}

	f.professional = repo.AddProfessional(Professional{
		NIF: "12345678A", Licence: "COL-001", Name: "Ana", LastName: "Ruiz", Active: true,
	})
	f.patient = repo.AddPatient(Patient{
		NIF: "87654321B", FirstName: "Luis", LastName: "Gomez", Active: true,
	})
	f.treatment = repo.AddTreatment(Treatment{
		Name: "Cleaning", Type: "HYGIENE", DurationMinutes: 30, Price: 45, Visible: true,
	})

	slot, err := svc.CreateSlot(ctx, CreateSlotInput{
		StartTime: NewTimeOfDay(9, 0),
		EndTime:   NewTimeOfDay(9, 30),
	})
	require.NoError(t, err)
	f.slot = slot

	f.availability = f.addAvailability(t, nov10)
	return f
}

func (f *fixture) addAvailability(t *testing.T, date time.Time) *AvailabilityView {
	t.Helper()
	av, err := f.svc.CreateAvailability(context.Background(), CreateAvailabilityInput{
		ProfessionalID: f.professional.ID,
		SlotID:         f.slot.ID,
		Date:           date,
	})
	require.NoError(t, err)
	return av
}

func (f *fixture) addPatient(t *testing.T) Patient {
	t.Helper()
	return f.repo.AddPatient(Patient{NIF: t.Name(), FirstName: "Other", LastName: "Patient", Active: true})
}

func (f *fixture) bookingInput() CreateAppointmentInput {
	date := f.availability.Date
	return CreateAppointmentInput{
		SlotID:         f.slot.ID,
		ProfessionalID: f.professional.ID,
		PatientID:      f.patient.ID,
		TreatmentID:    f.treatment.ID,
		Date:           &date,
	}
}

func (f *fixture) book(t *testing.T) *AppointmentDetail {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), f.bookingInput())
	require.NoError(t, err)
	return appt
}

func (f *fixture) availabilityStatus(t *testing.T, id uuid.UUID) AvailabilityStatus {
	t.Helper()
	av, err := f.repo.GetAvailabilityByID(context.Background(), id)
	require.NoError(t, err)
	return av.Status
}
