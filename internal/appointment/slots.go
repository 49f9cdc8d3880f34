package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidSlot   = errors.New("slot end must be after start")
	ErrInvalidPeriod = errors.New("invalid slot period")
	ErrDuplicateSlot = errors.New("a slot with the same times already exists")
)

// afternoonStart splits the day into periods when none is given.
var afternoonStart = NewTimeOfDay(14, 0)

// SlotCache caches slot templates. Get returns nil without error on a miss.
type SlotCache interface {
	Get(ctx context.Context, id uuid.UUID) (*Slot, error)
	Set(ctx context.Context, slot *Slot) error
}

// GetSlot returns a slot, reading through the cache when one is configured.
// Slots are immutable once created, so cached entries are never invalidated.
func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	if s.slotCache != nil {
		cached, err := s.slotCache.Get(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("slot_id", id.String()).Msg("slot cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	slot, err := s.repo.GetSlotByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}

	if s.slotCache != nil {
		if err := s.slotCache.Set(ctx, slot); err != nil {
			s.logger.Warn().Err(err).Str("slot_id", id.String()).Msg("slot cache write failed")
		}
	}
	return slot, nil
}

func (s *Service) ListSlots(ctx context.Context) ([]Slot, error) {
	slots, err := s.repo.ListSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

type CreateSlotInput struct {
	StartTime TimeOfDay
	EndTime   TimeOfDay
	// Period is derived from StartTime when empty.
	Period Period
}

func (s *Service) CreateSlot(ctx context.Context, in CreateSlotInput) (*Slot, error) {
	if in.EndTime <= in.StartTime || in.StartTime < 0 || in.EndTime > NewTimeOfDay(24, 0) {
		return nil, ErrInvalidSlot
	}

	period := in.Period
	if period == "" {
		period = PeriodMorning
		if in.StartTime >= afternoonStart {
			period = PeriodAfternoon
		}
	}
	if !period.Valid() {
		return nil, ErrInvalidPeriod
	}

	slot := &Slot{
		ID:        uuid.New(),
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Period:    period,
	}
	if err := s.repo.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.logger.Info().
		Str("slot_id", slot.ID.String()).
		Str("start", slot.StartTime.String()).
		Str("end", slot.EndTime.String()).
		Msg("slot created")

	return slot, nil
}
