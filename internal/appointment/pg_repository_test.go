package appointment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/db"
)

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		constraint string
		want       error
	}{
		{"duplicate availability", pgUniqueViolation, "availabilities_professional_date_slot_key", ErrDuplicateAvailability},
		{"active appointment taken", pgUniqueViolation, "appointments_active_slot_idx", ErrSlotAlreadyBooked},
		{"duplicate slot", pgUniqueViolation, "slots_start_end_key", ErrDuplicateSlot},
		{"availability professional", pgForeignKeyViolation, "availabilities_professional_id_fkey", ErrProfessionalNotFound},
		{"appointment professional", pgForeignKeyViolation, "appointments_professional_id_fkey", ErrProfessionalNotFound},
		{"availability slot", pgForeignKeyViolation, "availabilities_slot_id_fkey", ErrSlotNotFound},
		{"appointment slot", pgForeignKeyViolation, "appointments_slot_id_fkey", ErrSlotNotFound},
		{"appointment patient", pgForeignKeyViolation, "appointments_patient_id_fkey", ErrPatientNotFound},
		{"appointment treatment", pgForeignKeyViolation, "appointments_treatment_id_fkey", ErrTreatmentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code, ConstraintName: tt.constraint}

			assert.ErrorIs(t, mapPgError(pgErr), tt.want)
			assert.ErrorIs(t, mapPgError(fmt.Errorf("insert: %w", pgErr)), tt.want)
		})
	}
}

func TestMapPgError_PassesThroughUnknown(t *testing.T) {
	unknownConstraint := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "patients_nif_key"}
	assert.Same(t, error(unknownConstraint), mapPgError(unknownConstraint))

	otherCode := &pgconn.PgError{Code: "40001", ConstraintName: "appointments_active_slot_idx"}
	assert.Same(t, error(otherCode), mapPgError(otherCode))

	plain := errors.New("connection reset")
	assert.Same(t, plain, mapPgError(plain))
	assert.NoError(t, mapPgError(nil))
}

// The tests below need a database and run only when POSTGRES_DSN is set.

type pgFixture struct {
	pool         *pgxpool.Pool
	repo         *PgRepository
	slot         *Slot
	professional uuid.UUID
	treatment    uuid.UUID
	date         time.Time
}

func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx := context.Background()

	pool, err := db.ConnectPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool, db.Migrations(), zerolog.Nop()).Up(ctx)
	require.NoError(t, err)

	f := &pgFixture{
		pool:         pool,
		repo:         NewPgRepository(pool),
		professional: uuid.New(),
		treatment:    uuid.New(),
		date:         time.Date(2030, time.March, 4, 0, 0, 0, 0, time.UTC),
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO professionals (id, nif, licence, name, last_name, active)
		VALUES ($1, $2, $3, 'Ana', 'Ruiz', true)
	`, f.professional, "P-"+f.professional.String(), "L-"+f.professional.String())
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO treatments (id, name, type, duration_minutes, price, visible)
		VALUES ($1, 'Cleaning', 'HYGIENE', 30, 45, true)
	`, f.treatment)
	require.NoError(t, err)

	f.slot = f.ensureSlot(t)

	require.NoError(t, f.repo.CreateAvailability(ctx, &Availability{
		ID:             uuid.New(),
		ProfessionalID: f.professional,
		Date:           f.date,
		SlotID:         f.slot.ID,
		Status:         AvailabilityFree,
	}))
	return f
}

// ensureSlot creates a one-minute slot at a random time of day, reusing the
// existing row when an earlier run already created it.
func (f *pgFixture) ensureSlot(t *testing.T) *Slot {
	t.Helper()
	ctx := context.Background()

	start := NewTimeOfDay(0, 0) + TimeOfDay(rand.Intn(23*60))
	slot := &Slot{ID: uuid.New(), StartTime: start, EndTime: start + 1, Period: PeriodMorning}
	err := f.repo.CreateSlot(ctx, slot)
	if errors.Is(err, ErrDuplicateSlot) {
		slots, err := f.repo.ListSlots(ctx)
		require.NoError(t, err)
		for i := range slots {
			if slots[i].StartTime == slot.StartTime && slots[i].EndTime == slot.EndTime {
				return &slots[i]
			}
		}
		t.Fatalf("slot %s not found after duplicate", slot.StartTime)
	}
	require.NoError(t, err)
	return slot
}

func (f *pgFixture) addPatient(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.pool.Exec(context.Background(), `
		INSERT INTO patients (id, nif, first_name, last_name, active)
		VALUES ($1, $2, 'Luis', 'Gomez', true)
	`, id, "C-"+id.String())
	require.NoError(t, err)
	return id
}

func (f *pgFixture) appointment(patientID uuid.UUID) *Appointment {
	return &Appointment{
		ID:              uuid.New(),
		SlotID:          f.slot.ID,
		PatientID:       patientID,
		ProfessionalID:  f.professional,
		TreatmentID:     f.treatment,
		Status:          StatusPending,
		ScheduledAt:     f.slot.StartTime.On(f.date),
		DurationMinutes: 30,
		CreatedBy:       CreatedByAdmin,
	}
}

func TestPgRepository_ConstraintViolations(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()

	err := f.repo.CreateAvailability(ctx, &Availability{
		ID: uuid.New(), ProfessionalID: f.professional, Date: f.date, SlotID: f.slot.ID, Status: AvailabilityFree,
	})
	assert.ErrorIs(t, err, ErrDuplicateAvailability)

	err = f.repo.CreateAvailability(ctx, &Availability{
		ID: uuid.New(), ProfessionalID: uuid.New(), Date: f.date, SlotID: f.slot.ID, Status: AvailabilityFree,
	})
	assert.ErrorIs(t, err, ErrProfessionalNotFound)

	first := f.appointment(f.addPatient(t))
	require.NoError(t, f.repo.CreateAppointment(ctx, first))
	assert.ErrorIs(t, f.repo.CreateAppointment(ctx, f.appointment(f.addPatient(t))), ErrSlotAlreadyBooked)

	missingPatient := f.appointment(uuid.New())
	missingPatient.ScheduledAt = missingPatient.ScheduledAt.AddDate(0, 0, 1)
	assert.ErrorIs(t, f.repo.CreateAppointment(ctx, missingPatient), ErrPatientNotFound)

	// a cancelled appointment no longer holds the slot
	first.Status = StatusCancelled
	require.NoError(t, f.repo.UpdateAppointment(ctx, first))
	require.NoError(t, f.repo.CreateAppointment(ctx, f.appointment(f.addPatient(t))))

	n, err := f.repo.CountActiveBySlot(ctx, f.slot.ID, f.date, f.professional)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// passthroughLocker leaves serialization entirely to the database.
type passthroughLocker struct{}

func (passthroughLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestPgRepository_ConcurrentBookingSingleWinner(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()
	svc := NewService(f.repo, passthroughLocker{}, zerolog.Nop())

	const workers = 20
	patients := make([]uuid.UUID, workers)
	for i := range patients {
		patients[i] = f.addPatient(t)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []*AppointmentDetail
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			appt, err := svc.CreateAppointment(ctx, CreateAppointmentInput{
				SlotID:         f.slot.ID,
				ProfessionalID: f.professional,
				PatientID:      patientID,
				TreatmentID:    f.treatment,
				Date:           &f.date,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, appt)
			case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrSlotAlreadyBooked):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(patients[i])
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, workers-1, conflicts)

	got, err := svc.GetAppointment(ctx, winners[0].ID)
	require.NoError(t, err)
	assert.Equal(t, f.slot.StartTime.On(f.date), got.ScheduledAt.UTC())

	avs, err := svc.ListAvailabilities(ctx, AvailabilityFilter{ProfessionalID: &f.professional})
	require.NoError(t, err)
	require.Len(t, avs, 1)
	assert.Equal(t, AvailabilityReserved, avs[0].Status)
}
