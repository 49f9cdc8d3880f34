package seed

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type Options struct {
	Professionals int
	Patients      int
	Treatments    int
	Days          int       // availability horizon, Sundays are skipped
	From          time.Time // first availability date
}

func DefaultOptions() Options {
	return Options{
		Professionals: 10,
		Patients:      500,
		Treatments:    8,
		Days:          14,
		From:          appointment.DateOnly(time.Now()),
	}
}

// Dataset is a self-consistent set of reference data and availabilities.
type Dataset struct {
	Professionals  []appointment.Professional
	Patients       []appointment.Patient
	Treatments     []appointment.Treatment
	Slots          []appointment.Slot
	Availabilities []appointment.Availability
}

var treatmentTypes = []string{
	"Physiotherapy",
	"Osteopathy",
	"Massage",
	"Rehabilitation",
	"Nutrition",
	"Podiatry",
}

// SlotTemplates returns the clinic day: half-hour slots from 08:00 to 14:00
// and from 15:00 to 19:00.
func SlotTemplates() []appointment.Slot {
	var slots []appointment.Slot
	add := func(from, to appointment.TimeOfDay, period appointment.Period) {
		for start := from; start < to; start += 30 {
			slots = append(slots, appointment.Slot{
				ID:        uuid.New(),
				StartTime: start,
				EndTime:   start + 30,
				Period:    period,
			})
		}
	}
	add(appointment.NewTimeOfDay(8, 0), appointment.NewTimeOfDay(14, 0), appointment.PeriodMorning)
	add(appointment.NewTimeOfDay(15, 0), appointment.NewTimeOfDay(19, 0), appointment.PeriodAfternoon)
	return slots
}

// Generate builds a dataset with faker. Every professional is FREE on every
// slot of every working day in the horizon.
func Generate(faker *gofakeit.Faker, opts Options) Dataset {
	var ds Dataset

	for i := 0; i < opts.Professionals; i++ {
		email := faker.Email()
		phone := faker.Phone()
		room := fmt.Sprintf("Room %d", faker.Number(1, 12))
		ds.Professionals = append(ds.Professionals, appointment.Professional{
			ID:       uuid.New(),
			NIF:      fmt.Sprintf("P%08d", i+1),
			Licence:  strings.ToUpper(faker.LetterN(3)) + faker.DigitN(6),
			Name:     faker.FirstName(),
			LastName: faker.LastName(),
			Email:    &email,
			Phone:    &phone,
			Room:     &room,
			Active:   true,
		})
	}

	for i := 0; i < opts.Patients; i++ {
		email := faker.Email()
		phone := faker.Phone()
		ds.Patients = append(ds.Patients, appointment.Patient{
			ID:        uuid.New(),
			NIF:       fmt.Sprintf("C%08d", i+1),
			FirstName: faker.FirstName(),
			LastName:  faker.LastName(),
			Email:     &email,
			Phone:     &phone,
			// roughly one in twenty patients is archived
			Active: faker.Number(1, 20) != 1,
		})
	}

	for i := 0; i < opts.Treatments; i++ {
		kind := treatmentTypes[i%len(treatmentTypes)]
		ds.Treatments = append(ds.Treatments, appointment.Treatment{
			ID:              uuid.New(),
			Name:            fmt.Sprintf("%s %s", kind, faker.Adjective()),
			Type:            kind,
			DurationMinutes: 30,
			Price:           faker.Price(25, 120),
			Visible:         i%4 != 3,
		})
	}

	ds.Slots = SlotTemplates()

	from := appointment.DateOnly(opts.From)
	for day := 0; day < opts.Days; day++ {
		date := from.AddDate(0, 0, day)
		if date.Weekday() == time.Sunday {
			continue
		}
		for _, pr := range ds.Professionals {
			for _, slot := range ds.Slots {
				ds.Availabilities = append(ds.Availabilities, appointment.Availability{
					ID:             uuid.New(),
					ProfessionalID: pr.ID,
					Date:           date,
					SlotID:         slot.ID,
					Status:         appointment.AvailabilityFree,
				})
			}
		}
	}

	return ds
}
