package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/lock"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAvailabilityReleased     = "AVAILABILITY_RELEASED"
	EventAvailabilityReconciled   = "AVAILABILITY_RECONCILED"

	DefaultCancellationReason = "no reason given"
)

var (
	ErrSlotUnavailable         = errors.New("slot already booked or unavailable")
	ErrSlotAlreadyBooked       = errors.New("slot already has an active appointment")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidStatus           = errors.New("invalid appointment status")
	ErrInvalidCreatedBy        = errors.New("invalid created_by")
	ErrPatientInactive         = errors.New("patient is inactive")
	ErrProfessionalInactive    = errors.New("professional is inactive")
	ErrTreatmentNotVisible     = errors.New("treatment is not available to patients")
)

type Service struct {
	repo      Repository
	locker    lock.Locker
	slotCache SlotCache
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithSlotCache puts a read-through cache in front of slot lookups.
func WithSlotCache(c SlotCache) Option {
	return func(s *Service) { s.slotCache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker lock.Locker, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		logger: logger.With().Str("component", "appointment").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bookingKey is the lock key shared by every operation that can change the
// occupancy of a professional's slot.
func bookingKey(professionalID, slotID uuid.UUID) string {
	return fmt.Sprintf("booking:%s:%s", professionalID, slotID)
}

// withBookingLock runs fn inside a transaction while holding the booking lock
// for (professional, slot).
func (s *Service) withBookingLock(ctx context.Context, professionalID, slotID uuid.UUID, fn func(ctx context.Context, tx Repository) error) error {
	err := s.locker.WithLock(ctx, bookingKey(professionalID, slotID), func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, fn)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrSlotBeingBooked
	}
	return err
}

type CreateAppointmentInput struct {
	SlotID         uuid.UUID
	ProfessionalID uuid.UUID
	PatientID      uuid.UUID
	TreatmentID    uuid.UUID
	// Date selects the availability day. When nil the earliest FREE
	// availability of the professional for the slot is booked.
	Date      *time.Time
	CreatedBy CreatedBy
	// ActorID is the caller forwarded by the gateway, recorded on the
	// creation event.
	ActorID *uuid.UUID
}

// CreateAppointment books a slot of a professional for a patient.
// The booking lock and the availability row lock make sure concurrent
// requests for the same slot cannot both succeed; the loser sees the
// availability RESERVED and gets ErrSlotUnavailable.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*AppointmentDetail, error) {
	createdBy := in.CreatedBy
	if createdBy == "" {
		createdBy = CreatedByAdmin
	}
	if !createdBy.Valid() {
		return nil, ErrInvalidCreatedBy
	}

	var date *time.Time
	if in.Date != nil {
		d := DateOnly(*in.Date)
		date = &d
	}

	var created *AppointmentDetail

	err := s.withBookingLock(ctx, in.ProfessionalID, in.SlotID, func(ctx context.Context, tx Repository) error {
		slot, err := tx.GetSlotByID(ctx, in.SlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}

		av, err := tx.LockAvailabilityFor(ctx, in.ProfessionalID, in.SlotID, date)
		if err != nil {
			return fmt.Errorf("lock availability: %w", err)
		}
		if av.Status != AvailabilityFree {
			return ErrSlotUnavailable
		}

		active, err := tx.CountActiveBySlot(ctx, slot.ID, av.Date, in.ProfessionalID)
		if err != nil {
			return fmt.Errorf("count active appointments: %w", err)
		}
		if active > 0 {
			return ErrSlotAlreadyBooked
		}

		patient, err := tx.GetPatientByID(ctx, in.PatientID)
		if err != nil {
			return fmt.Errorf("load patient: %w", err)
		}
		if !patient.Active {
			return ErrPatientInactive
		}

		professional, err := tx.GetProfessionalByID(ctx, in.ProfessionalID)
		if err != nil {
			return fmt.Errorf("load professional: %w", err)
		}
		if !professional.Active {
			return ErrProfessionalInactive
		}

		treatment, err := tx.GetTreatmentByID(ctx, in.TreatmentID)
		if err != nil {
			return fmt.Errorf("load treatment: %w", err)
		}
		if !treatment.Visible && createdBy == CreatedByPatient {
			return ErrTreatmentNotVisible
		}

		appt := &Appointment{
			ID:              uuid.New(),
			SlotID:          slot.ID,
			PatientID:       patient.ID,
			ProfessionalID:  professional.ID,
			TreatmentID:     treatment.ID,
			Status:          StatusPending,
			ScheduledAt:     slot.StartTime.On(av.Date),
			DurationMinutes: treatment.DurationMinutes,
			CreatedBy:       createdBy,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		av.Status = AvailabilityReserved
		if err := tx.UpdateAvailability(ctx, av); err != nil {
			return fmt.Errorf("reserve availability: %w", err)
		}

		if err := s.logEvent(ctx, tx, &appt.ID, EventAppointmentCreated, map[string]any{
			"slot_id":         slot.ID.String(),
			"professional_id": professional.ID.String(),
			"patient_id":      patient.ID.String(),
			"availability_id": av.ID.String(),
			"scheduled_at":    appt.ScheduledAt,
			"created_by":      createdBy,
			"actor_id":        in.ActorID,
		}); err != nil {
			return err
		}

		created = summarize(appt, patient, professional, treatment)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("professional_id", created.ProfessionalID.String()).
		Str("slot_id", created.SlotID.String()).
		Time("scheduled_at", created.ScheduledAt).
		Msg("appointment created")

	return created, nil
}

// UpdateAppointmentStatus moves an appointment along its lifecycle.
// Cancelling releases the booked availability.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) (*AppointmentDetail, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.transition(ctx, id, status, nil)
}

// CancelAppointment cancels an appointment with a reason and frees its slot.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*AppointmentDetail, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultCancellationReason
	}
	return s.transition(ctx, id, StatusCancelled, &reason)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, status AppointmentStatus, reason *string) (*AppointmentDetail, error) {
	// professional and slot never change, so the lock key can be read unlocked
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	var (
		updated *AppointmentDetail
		from    AppointmentStatus
	)

	err = s.withBookingLock(ctx, appt.ProfessionalID, appt.SlotID, func(ctx context.Context, tx Repository) error {
		cur, err := tx.LockAppointmentByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}
		if !CanTransition(cur.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, cur.Status, status)
		}

		from = cur.Status
		cur.Status = status
		if status == StatusCancelled {
			cur.CancellationReason = reason
		}
		if err := tx.UpdateAppointment(ctx, cur); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		eventType := EventAppointmentStatusChanged
		payload := map[string]any{
			"from": from,
			"to":   status,
		}
		if status == StatusCancelled {
			eventType = EventAppointmentCancelled
			if reason != nil {
				payload["reason"] = *reason
			}
		}
		if err := s.logEvent(ctx, tx, &cur.ID, eventType, payload); err != nil {
			return err
		}

		if status == StatusCancelled {
			if err := s.releaseAvailability(ctx, tx, cur); err != nil {
				return err
			}
		}

		updated, err = tx.GetAppointmentDetail(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment detail: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("appointment status changed")

	return updated, nil
}

// releaseAvailability frees the availability held by a cancelled
// appointment. A missing or already released availability is only logged.
func (s *Service) releaseAvailability(ctx context.Context, tx Repository, appt *Appointment) error {
	day := DateOnly(appt.ScheduledAt)

	av, err := tx.LockAvailabilityFor(ctx, appt.ProfessionalID, appt.SlotID, &day)
	if errors.Is(err, ErrAvailabilityNotFound) {
		s.logger.Warn().
			Str("appointment_id", appt.ID.String()).
			Str("professional_id", appt.ProfessionalID.String()).
			Str("slot_id", appt.SlotID.String()).
			Str("date", day.Format(time.DateOnly)).
			Msg("no availability to release for cancelled appointment")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock availability: %w", err)
	}

	if av.Status != AvailabilityReserved {
		s.logger.Warn().
			Str("appointment_id", appt.ID.String()).
			Str("availability_id", av.ID.String()).
			Str("status", string(av.Status)).
			Msg("availability of cancelled appointment was not reserved, leaving as is")
		return nil
	}

	av.Status = AvailabilityFree
	if err := tx.UpdateAvailability(ctx, av); err != nil {
		return fmt.Errorf("release availability: %w", err)
	}

	return s.logEvent(ctx, tx, &appt.ID, EventAvailabilityReleased, map[string]any{
		"availability_id": av.ID.String(),
	})
}

// logEvent writes an audit row in the caller's transaction. Its error is
// returned because a failed statement aborts the surrounding transaction.
func (s *Service) logEvent(ctx context.Context, tx Repository, appointmentID *uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	list, err := s.repo.ListAppointmentsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}

// ListAppointmentsByProfessional retrieves appointments for a specific professional
func (s *Service) ListAppointmentsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]AppointmentDetail, error) {
	list, err := s.repo.ListAppointmentsByProfessional(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by professional: %w", err)
	}
	return list, nil
}

// CountActiveBySlot counts the non-cancelled appointments occupying a slot of
// a professional on a given date.
func (s *Service) CountActiveBySlot(ctx context.Context, slotID uuid.UUID, date time.Time, professionalID uuid.UUID) (int, error) {
	n, err := s.repo.CountActiveBySlot(ctx, slotID, DateOnly(date), professionalID)
	if err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return n, nil
}
