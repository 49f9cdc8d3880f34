package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

type AvailabilityStatus string

const (
	AvailabilityFree        AvailabilityStatus = "FREE"
	AvailabilityReserved    AvailabilityStatus = "RESERVED"
	AvailabilityUnavailable AvailabilityStatus = "UNAVAILABLE"
)

type Period string

const (
	PeriodMorning   Period = "MORNING"
	PeriodAfternoon Period = "AFTERNOON"
)

type CreatedBy string

const (
	CreatedByAdmin        CreatedBy = "ADMIN"
	CreatedByProfessional CreatedBy = "PROFESSIONAL"
	CreatedByPatient      CreatedBy = "PATIENT"
)

func (s AvailabilityStatus) Valid() bool {
	switch s {
	case AvailabilityFree, AvailabilityReserved, AvailabilityUnavailable:
		return true
	}
	return false
}

func (p Period) Valid() bool {
	return p == PeriodMorning || p == PeriodAfternoon
}

func (c CreatedBy) Valid() bool {
	switch c {
	case CreatedByAdmin, CreatedByProfessional, CreatedByPatient:
		return true
	}
	return false
}

// TimeOfDay is a wall-clock time in minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimeOfDay(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places the time of day on the calendar date of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, d.Location())
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type Patient struct {
	ID        uuid.UUID
	NIF       string
	FirstName string
	LastName  string
	Email     *string
	Phone     *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Professional struct {
	ID        uuid.UUID
	NIF       string
	Licence   string
	Name      string
	LastName  string
	Email     *string
	Phone     *string
	Room      *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Treatment struct {
	ID              uuid.UUID
	Name            string
	Type            string
	DurationMinutes int
	Price           float64
	Visible         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Slot struct {
	ID        uuid.UUID
	StartTime TimeOfDay
	EndTime   TimeOfDay
	Period    Period
	CreatedAt time.Time
}

type Availability struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	Date           time.Time
	SlotID         uuid.UUID
	Status         AvailabilityStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AvailabilityView is an availability joined with its slot times.
type AvailabilityView struct {
	Availability
	Slot Slot
}

type Appointment struct {
	ID                 uuid.UUID
	SlotID             uuid.UUID
	PatientID          uuid.UUID
	ProfessionalID     uuid.UUID
	TreatmentID        uuid.UUID
	Status             AppointmentStatus
	CancellationReason *string
	ScheduledAt        time.Time
	DurationMinutes    int
	CreatedBy          CreatedBy
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActive reports whether the appointment still occupies its slot.
func (a Appointment) IsActive() bool {
	return a.Status != StatusCancelled
}

type PatientSummary struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
}

type ProfessionalSummary struct {
	ID       uuid.UUID
	Name     string
	LastName string
}

type TreatmentSummary struct {
	ID   uuid.UUID
	Name string
}

type AppointmentDetail struct {
	Appointment
	Patient      PatientSummary
	Professional ProfessionalSummary
	Treatment    TreatmentSummary
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

func summarize(ap *Appointment, p *Patient, pr *Professional, t *Treatment) *AppointmentDetail {
	return &AppointmentDetail{
		Appointment:  *ap,
		Patient:      PatientSummary{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName},
		Professional: ProfessionalSummary{ID: pr.ID, Name: pr.Name, LastName: pr.LastName},
		Treatment:    TreatmentSummary{ID: t.ID, Name: t.Name},
	}
}
