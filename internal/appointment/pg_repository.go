package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// no-op once committed
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &PgRepository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

// mapPgError turns constraint violations into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case "availabilities_professional_date_slot_key":
			return ErrDuplicateAvailability
		case "appointments_active_slot_idx":
			return ErrSlotAlreadyBooked
		case "slots_start_end_key":
			return ErrDuplicateSlot
		}
	case pgForeignKeyViolation:
		switch pgErr.ConstraintName {
		case "availabilities_professional_id_fkey", "appointments_professional_id_fkey":
			return ErrProfessionalNotFound
		case "availabilities_slot_id_fkey", "appointments_slot_id_fkey":
			return ErrSlotNotFound
		case "appointments_patient_id_fkey":
			return ErrPatientNotFound
		case "appointments_treatment_id_fkey":
			return ErrTreatmentNotFound
		}
	}
	return err
}

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func timeOfDay(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.NIF,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional

	err := row.Scan(
		&p.ID,
		&p.NIF,
		&p.Licence,
		&p.Name,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.Room,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfessionalNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Type,
		&t.DurationMinutes,
		&t.Price,
		&t.Visible,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreatmentNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var start, end pgtype.Time

	err := row.Scan(
		&s.ID,
		&start,
		&end,
		&s.Period,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.StartTime = timeOfDay(start)
	s.EndTime = timeOfDay(end)
	return &s, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability

	err := row.Scan(
		&a.ID,
		&a.ProfessionalID,
		&a.Date,
		&a.SlotID,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	a.Date = DateOnly(a.Date)
	return &a, nil
}

func scanAvailabilityView(row pgx.Row) (*AvailabilityView, error) {
	var v AvailabilityView
	var start, end pgtype.Time

	err := row.Scan(
		&v.ID,
		&v.ProfessionalID,
		&v.Date,
		&v.SlotID,
		&v.Status,
		&v.CreatedAt,
		&v.UpdatedAt,
		&v.Slot.ID,
		&start,
		&end,
		&v.Slot.Period,
		&v.Slot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	v.Date = DateOnly(v.Date)
	v.Slot.StartTime = timeOfDay(start)
	v.Slot.EndTime = timeOfDay(end)
	return &v, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.ProfessionalID,
		&a.TreatmentID,
		&a.Status,
		&a.CancellationReason,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail

	err := row.Scan(
		&d.ID,
		&d.SlotID,
		&d.PatientID,
		&d.ProfessionalID,
		&d.TreatmentID,
		&d.Status,
		&d.CancellationReason,
		&d.ScheduledAt,
		&d.DurationMinutes,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.Patient.FirstName,
		&d.Patient.LastName,
		&d.Professional.Name,
		&d.Professional.LastName,
		&d.Treatment.Name,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Patient.ID = d.PatientID
	d.Professional.ID = d.ProfessionalID
	d.Treatment.ID = d.TreatmentID
	return &d, nil
}

const (
	availabilityColumns = `id, professional_id, date, slot_id, status, created_at, updated_at`

	availabilityViewQuery = `
		SELECT a.id, a.professional_id, a.date, a.slot_id, a.status, a.created_at, a.updated_at,
		       s.id, s.start_time, s.end_time, s.period, s.created_at
		FROM availabilities a
		JOIN slots s ON s.id = a.slot_id`

	appointmentColumns = `id, slot_id, patient_id, professional_id, treatment_id, status,
		cancellation_reason, scheduled_at, duration_minutes, created_by, created_at, updated_at`

	appointmentDetailQuery = `
		SELECT a.id, a.slot_id, a.patient_id, a.professional_id, a.treatment_id, a.status,
		       a.cancellation_reason, a.scheduled_at, a.duration_minutes, a.created_by,
		       a.created_at, a.updated_at,
		       p.first_name, p.last_name,
		       pr.name, pr.last_name,
		       t.name
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN professionals pr ON pr.id = a.professional_id
		JOIN treatments t ON t.id = a.treatment_id`
)

// Reference entities

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, nif, first_name, last_name, email, phone, active, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, nif, licence, name, last_name, email, phone, room, active, created_at, updated_at
		FROM professionals
		WHERE id = $1
	`, id)
	return scanProfessional(row)
}

func (r *PgRepository) GetTreatmentByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, type, duration_minutes, price::float8, visible, created_at, updated_at
		FROM treatments
		WHERE id = $1
	`, id)
	return scanTreatment(row)
}

// Slots

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, start_time, end_time, period, created_at
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, start_time, end_time, period, created_at
		FROM slots
		ORDER BY start_time ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PgRepository) CreateSlot(ctx context.Context, s *Slot) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO slots (id, start_time, end_time, period, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at
	`, s.ID, pgTime(s.StartTime), pgTime(s.EndTime), s.Period).Scan(&s.CreatedAt)
	return mapPgError(err)
}

// Availabilities

func (r *PgRepository) GetAvailabilityByID(ctx context.Context, id uuid.UUID) (*AvailabilityView, error) {
	row := r.q.QueryRow(ctx, availabilityViewQuery+`
		WHERE a.id = $1
	`, id)
	return scanAvailabilityView(row)
}

func (r *PgRepository) LockAvailabilityByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM availabilities
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) LockAvailabilityFor(ctx context.Context, professionalID, slotID uuid.UUID, date *time.Time) (*Availability, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM availabilities
		WHERE professional_id = $1
		  AND slot_id = $2
		  AND ($3::date IS NULL OR date = $3::date)
		ORDER BY (status = 'FREE') DESC, date ASC
		LIMIT 1
		FOR UPDATE
	`, professionalID, slotID, date)
	return scanAvailability(row)
}

func (r *PgRepository) ListAvailabilities(ctx context.Context, filter AvailabilityFilter) ([]AvailabilityView, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.q.Query(ctx, availabilityViewQuery+`
		WHERE ($1::uuid IS NULL OR a.professional_id = $1::uuid)
		  AND ($2::date IS NULL OR a.date = $2::date)
		  AND ($3::text IS NULL OR a.status = $3::text)
		ORDER BY a.seq ASC
	`, filter.ProfessionalID, filter.Date, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AvailabilityView
	for rows.Next() {
		v, err := scanAvailabilityView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *PgRepository) AvailabilityExists(ctx context.Context, professionalID uuid.UUID, date time.Time, slotID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM availabilities
			WHERE professional_id = $1 AND date = $2 AND slot_id = $3
		)
	`, professionalID, date, slotID).Scan(&exists)
	return exists, err
}

func (r *PgRepository) CreateAvailability(ctx context.Context, a *Availability) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO availabilities (id, professional_id, date, slot_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.ProfessionalID, a.Date, a.SlotID, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapPgError(err)
}

func (r *PgRepository) UpdateAvailability(ctx context.Context, a *Availability) error {
	err := r.q.QueryRow(ctx, `
		UPDATE availabilities
		SET date = $2, status = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.Date, a.Status).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAvailabilityNotFound
	}
	return mapPgError(err)
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) LockAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.q.QueryRow(ctx, appointmentDetailQuery+`
		WHERE a.id = $1
	`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, slot_id, patient_id, professional_id, treatment_id, status,
			cancellation_reason, scheduled_at, duration_minutes, created_by,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING created_at, updated_at
	`,
		a.ID, a.SlotID, a.PatientID, a.ProfessionalID, a.TreatmentID, a.Status,
		a.CancellationReason, a.ScheduledAt, a.DurationMinutes, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapPgError(err)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	err := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, cancellation_reason = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.Status, a.CancellationReason).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	return mapPgError(err)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	return r.listAppointmentDetails(ctx, appointmentDetailQuery+`
		WHERE a.patient_id = $1
		ORDER BY a.scheduled_at ASC, a.created_at ASC
	`, patientID)
}

func (r *PgRepository) ListAppointmentsByProfessional(ctx context.Context, professionalID uuid.UUID) ([]AppointmentDetail, error) {
	return r.listAppointmentDetails(ctx, appointmentDetailQuery+`
		WHERE a.professional_id = $1
		ORDER BY a.scheduled_at ASC, a.created_at ASC
	`, professionalID)
}

func (r *PgRepository) listAppointmentDetails(ctx context.Context, sql string, args ...any) ([]AppointmentDetail, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *PgRepository) CountActiveBySlot(ctx context.Context, slotID uuid.UUID, date time.Time, professionalID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE slot_id = $1
		  AND scheduled_at::date = $2::date
		  AND professional_id = $3
		  AND status <> 'CANCELLED'
	`, slotID, date, professionalID).Scan(&n)
	return n, err
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, ev.AppointmentID, ev.Payload, ev.CreatedAt)
	return err
}
