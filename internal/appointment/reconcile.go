package appointment

import (
	"context"
	"errors"
	"fmt"
)

// ReconcileReport counts the availabilities fixed by one reconcile pass.
type ReconcileReport struct {
	Checked  int
	Released int
	Reserved int
	Failed   int
}

// ReconcileAvailabilities repairs availabilities whose status disagrees with
// the appointment ledger: RESERVED rows with no active appointment become
// FREE, FREE rows that do carry one become RESERVED. Each row is fixed under
// the booking lock. Failures on single rows are logged and skipped.
// It is intended to be called by the worker periodically.
func (s *Service) ReconcileAvailabilities(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	for _, status := range []AvailabilityStatus{AvailabilityReserved, AvailabilityFree} {
		candidates, err := s.repo.ListAvailabilities(ctx, AvailabilityFilter{Status: &status})
		if err != nil {
			return report, fmt.Errorf("list %s availabilities: %w", status, err)
		}

		for _, av := range candidates {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Checked++

			to, err := s.reconcileOne(ctx, av.Availability)
			if err != nil {
				report.Failed++
				s.logger.Error().Err(err).
					Str("availability_id", av.ID.String()).
					Msg("failed to reconcile availability")
				continue
			}
			switch to {
			case AvailabilityFree:
				report.Released++
			case AvailabilityReserved:
				report.Reserved++
			}
		}
	}

	if report.Released > 0 || report.Reserved > 0 {
		s.logger.Info().
			Int("checked", report.Checked).
			Int("released", report.Released).
			Int("reserved", report.Reserved).
			Msg("availabilities reconciled")
	}
	return report, nil
}

// reconcileOne returns the status it moved the availability to, or "" when
// nothing needed fixing.
func (s *Service) reconcileOne(ctx context.Context, candidate Availability) (AvailabilityStatus, error) {
	var to AvailabilityStatus

	err := s.withBookingLock(ctx, candidate.ProfessionalID, candidate.SlotID, func(ctx context.Context, tx Repository) error {
		av, err := tx.LockAvailabilityByID(ctx, candidate.ID)
		if err != nil {
			return fmt.Errorf("lock availability: %w", err)
		}

		active, err := tx.CountActiveBySlot(ctx, av.SlotID, av.Date, av.ProfessionalID)
		if err != nil {
			return fmt.Errorf("count active appointments: %w", err)
		}

		switch {
		case av.Status == AvailabilityReserved && active == 0:
			to = AvailabilityFree
		case av.Status == AvailabilityFree && active > 0:
			to = AvailabilityReserved
		default:
			return nil
		}

		from := av.Status
		av.Status = to
		if err := tx.UpdateAvailability(ctx, av); err != nil {
			return fmt.Errorf("update availability: %w", err)
		}

		return s.logEvent(ctx, tx, nil, EventAvailabilityReconciled, map[string]any{
			"availability_id": av.ID.String(),
			"from":            from,
			"to":              to,
			"active":          active,
		})
	})
	if errors.Is(err, ErrAvailabilityNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return to, nil
}
