package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAvailabilityStatus     = errors.New("invalid availability status")
	ErrInvalidAvailabilityTransition = errors.New("availability cannot be reserved manually")
	ErrHasDependentAppointments      = errors.New("availability has active appointments")
)

func (s *Service) ListAvailabilities(ctx context.Context, filter AvailabilityFilter) ([]AvailabilityView, error) {
	if filter.Date != nil {
		d := DateOnly(*filter.Date)
		filter.Date = &d
	}
	list, err := s.repo.ListAvailabilities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list availabilities: %w", err)
	}
	return list, nil
}

func (s *Service) GetAvailability(ctx context.Context, id uuid.UUID) (*AvailabilityView, error) {
	v, err := s.repo.GetAvailabilityByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return v, nil
}

type CreateAvailabilityInput struct {
	ProfessionalID uuid.UUID
	SlotID         uuid.UUID
	Date           time.Time
	// Status defaults to FREE. Only FREE and UNAVAILABLE are accepted.
	Status AvailabilityStatus
}

// CreateAvailability opens a slot of a professional on a date.
func (s *Service) CreateAvailability(ctx context.Context, in CreateAvailabilityInput) (*AvailabilityView, error) {
	status := in.Status
	if status == "" {
		status = AvailabilityFree
	}
	if !status.Valid() {
		return nil, ErrInvalidAvailabilityStatus
	}
	if status == AvailabilityReserved {
		return nil, ErrInvalidAvailabilityTransition
	}

	av := &Availability{
		ID:             uuid.New(),
		ProfessionalID: in.ProfessionalID,
		SlotID:         in.SlotID,
		Date:           DateOnly(in.Date),
		Status:         status,
	}

	var view *AvailabilityView

	err := s.withBookingLock(ctx, in.ProfessionalID, in.SlotID, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetProfessionalByID(ctx, in.ProfessionalID); err != nil {
			return fmt.Errorf("load professional: %w", err)
		}
		slot, err := tx.GetSlotByID(ctx, in.SlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}

		exists, err := tx.AvailabilityExists(ctx, av.ProfessionalID, av.Date, av.SlotID)
		if err != nil {
			return fmt.Errorf("check availability: %w", err)
		}
		if exists {
			return ErrDuplicateAvailability
		}

		if err := tx.CreateAvailability(ctx, av); err != nil {
			return fmt.Errorf("create availability: %w", err)
		}

		view = &AvailabilityView{Availability: *av, Slot: *slot}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("availability_id", av.ID.String()).
		Str("professional_id", av.ProfessionalID.String()).
		Str("date", av.Date.Format(time.DateOnly)).
		Msg("availability created")

	return view, nil
}

type UpdateAvailabilityInput struct {
	Date   *time.Time
	Status *AvailabilityStatus
}

// UpdateAvailability moves an availability to another date and/or changes
// its status. RESERVED is owned by bookings and cannot be set or left while
// an appointment holds the slot.
func (s *Service) UpdateAvailability(ctx context.Context, id uuid.UUID, in UpdateAvailabilityInput) (*AvailabilityView, error) {
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, ErrInvalidAvailabilityStatus
		}
		if *in.Status == AvailabilityReserved {
			return nil, ErrInvalidAvailabilityTransition
		}
	}

	cur, err := s.repo.GetAvailabilityByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}

	err = s.withBookingLock(ctx, cur.ProfessionalID, cur.SlotID, func(ctx context.Context, tx Repository) error {
		av, err := tx.LockAvailabilityByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lock availability: %w", err)
		}

		active, err := tx.CountActiveBySlot(ctx, av.SlotID, av.Date, av.ProfessionalID)
		if err != nil {
			return fmt.Errorf("count active appointments: %w", err)
		}

		if in.Date != nil && !DateOnly(*in.Date).Equal(av.Date) {
			if active > 0 {
				return ErrHasDependentAppointments
			}
			newDate := DateOnly(*in.Date)
			exists, err := tx.AvailabilityExists(ctx, av.ProfessionalID, newDate, av.SlotID)
			if err != nil {
				return fmt.Errorf("check availability: %w", err)
			}
			if exists {
				return ErrDuplicateAvailability
			}
			av.Date = newDate
		}

		if in.Status != nil && *in.Status != av.Status {
			if av.Status == AvailabilityReserved && active > 0 {
				return ErrHasDependentAppointments
			}
			av.Status = *in.Status
		}

		if err := tx.UpdateAvailability(ctx, av); err != nil {
			return fmt.Errorf("update availability: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetAvailability(ctx, id)
}

// SoftDeleteAvailability withdraws an availability by marking it UNAVAILABLE.
func (s *Service) SoftDeleteAvailability(ctx context.Context, id uuid.UUID) error {
	cur, err := s.repo.GetAvailabilityByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}

	err = s.withBookingLock(ctx, cur.ProfessionalID, cur.SlotID, func(ctx context.Context, tx Repository) error {
		av, err := tx.LockAvailabilityByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lock availability: %w", err)
		}

		active, err := tx.CountActiveBySlot(ctx, av.SlotID, av.Date, av.ProfessionalID)
		if err != nil {
			return fmt.Errorf("count active appointments: %w", err)
		}
		if active > 0 {
			return ErrHasDependentAppointments
		}

		if av.Status == AvailabilityUnavailable {
			return nil
		}
		if av.Status == AvailabilityReserved {
			// nothing holds it, release before withdrawing
			av.Status = AvailabilityFree
			if err := tx.UpdateAvailability(ctx, av); err != nil {
				return fmt.Errorf("release availability: %w", err)
			}
			if err := s.logEvent(ctx, tx, nil, EventAvailabilityReleased, map[string]any{
				"availability_id": av.ID.String(),
				"reason":          "withdrawn without active appointments",
			}); err != nil {
				return err
			}
		}
		av.Status = AvailabilityUnavailable
		if err := tx.UpdateAvailability(ctx, av); err != nil {
			return fmt.Errorf("update availability: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("availability_id", id.String()).Msg("availability withdrawn")
	return nil
}
