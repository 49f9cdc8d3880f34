package seed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// LoadMemory writes ds into an in-memory store.
func LoadMemory(ctx context.Context, repo *appointment.MemoryRepository, ds Dataset) error {
	for _, p := range ds.Professionals {
		repo.AddProfessional(p)
	}
	for _, p := range ds.Patients {
		repo.AddPatient(p)
	}
	for _, t := range ds.Treatments {
		repo.AddTreatment(t)
	}
	for i := range ds.Slots {
		if err := repo.CreateSlot(ctx, &ds.Slots[i]); err != nil {
			return fmt.Errorf("create slot %s: %w", ds.Slots[i].StartTime, err)
		}
	}
	for i := range ds.Availabilities {
		if err := repo.CreateAvailability(ctx, &ds.Availabilities[i]); err != nil {
			return fmt.Errorf("create availability: %w", err)
		}
	}
	return nil
}

// LoadPostgres writes ds in a single transaction. Reference rows are bulk
// copied; slots are upserted on their time range so an existing catalog is
// reused, and availabilities already present are left alone.
func LoadPostgres(ctx context.Context, pool *pgxpool.Pool, ds Dataset, logger zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"professionals"},
		[]string{"id", "nif", "licence", "name", "last_name", "email", "phone", "room", "active"},
		pgx.CopyFromSlice(len(ds.Professionals), func(i int) ([]any, error) {
			p := ds.Professionals[i]
			return []any{p.ID, p.NIF, p.Licence, p.Name, p.LastName, p.Email, p.Phone, p.Room, p.Active}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy professionals: %w", err)
	}
	logger.Info().Int64("rows", n).Msg("professionals seeded")

	n, err = tx.CopyFrom(ctx,
		pgx.Identifier{"patients"},
		[]string{"id", "nif", "first_name", "last_name", "email", "phone", "active"},
		pgx.CopyFromSlice(len(ds.Patients), func(i int) ([]any, error) {
			p := ds.Patients[i]
			return []any{p.ID, p.NIF, p.FirstName, p.LastName, p.Email, p.Phone, p.Active}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy patients: %w", err)
	}
	logger.Info().Int64("rows", n).Msg("patients seeded")

	n, err = tx.CopyFrom(ctx,
		pgx.Identifier{"treatments"},
		[]string{"id", "name", "type", "duration_minutes", "price", "visible"},
		pgx.CopyFromSlice(len(ds.Treatments), func(i int) ([]any, error) {
			t := ds.Treatments[i]
			return []any{t.ID, t.Name, t.Type, t.DurationMinutes, t.Price, t.Visible}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy treatments: %w", err)
	}
	logger.Info().Int64("rows", n).Msg("treatments seeded")

	slotIDs := make(map[uuid.UUID]uuid.UUID, len(ds.Slots))
	for _, s := range ds.Slots {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO slots (id, start_time, end_time, period)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT ON CONSTRAINT slots_start_end_key
			DO UPDATE SET period = slots.period
			RETURNING id
		`, s.ID, clockTime(s.StartTime), clockTime(s.EndTime), string(s.Period)).Scan(&id)
		if err != nil {
			return fmt.Errorf("upsert slot %s: %w", s.StartTime, err)
		}
		slotIDs[s.ID] = id
	}
	logger.Info().Int("slots", len(slotIDs)).Msg("slot catalog ready")

	batch := &pgx.Batch{}
	for _, a := range ds.Availabilities {
		batch.Queue(`
			INSERT INTO availabilities (id, professional_id, date, slot_id, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT ON CONSTRAINT availabilities_professional_date_slot_key DO NOTHING
		`, a.ID, a.ProfessionalID, a.Date, slotIDs[a.SlotID], string(a.Status))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert availabilities: %w", err)
	}
	logger.Info().Int("rows", len(ds.Availabilities)).Msg("availabilities seeded")

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func clockTime(t appointment.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * 60_000_000, Valid: true}
}
