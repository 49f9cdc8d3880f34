package appointment

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a Repository kept in process memory, used for local
// runs (STORE_DRIVER=memory) and tests. Transactions are serialized and
// rolled back from a snapshot; the unique constraints of the Postgres schema
// are enforced on write.
type MemoryRepository struct {
	st   *memoryState
	inTx bool
}

type memoryState struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	patients       map[uuid.UUID]Patient
	professionals  map[uuid.UUID]Professional
	treatments     map[uuid.UUID]Treatment
	slots          map[uuid.UUID]Slot
	availabilities []Availability
	appointments   []Appointment
	events         []EventLog
	nextEventID    int64
}

func (d memoryData) clone() memoryData {
	return memoryData{
		patients:       maps.Clone(d.patients),
		professionals:  maps.Clone(d.professionals),
		treatments:     maps.Clone(d.treatments),
		slots:          maps.Clone(d.slots),
		availabilities: slices.Clone(d.availabilities),
		appointments:   slices.Clone(d.appointments),
		events:         slices.Clone(d.events),
		nextEventID:    d.nextEventID,
	}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{st: &memoryState{data: memoryData{
		patients:      map[uuid.UUID]Patient{},
		professionals: map[uuid.UUID]Professional{},
		treatments:    map[uuid.UUID]Treatment{},
		slots:         map[uuid.UUID]Slot{},
	}}}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if m.inTx {
		return fn(ctx, m)
	}

	m.st.txMu.Lock()
	defer m.st.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.st.mu.RLock()
	snapshot := m.st.data.clone()
	m.st.mu.RUnlock()

	committed := false
	defer func() {
		if !committed {
			m.st.mu.Lock()
			m.st.data = snapshot
			m.st.mu.Unlock()
		}
	}()

	if err := fn(ctx, &MemoryRepository{st: m.st, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *MemoryRepository) read(fn func(d *memoryData)) {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	fn(&m.st.data)
}

// write applies fn under the data lock. Outside a transaction it also waits
// for any running transaction to finish.
func (m *MemoryRepository) write(fn func(d *memoryData) error) error {
	if !m.inTx {
		m.st.txMu.Lock()
		defer m.st.txMu.Unlock()
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return fn(&m.st.data)
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Seeding helpers

// AddPatient stores p, assigning an id and timestamps when missing.
func (m *MemoryRepository) AddPatient(p Patient) Patient {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = utcNow(), utcNow()
	_ = m.write(func(d *memoryData) error {
		d.patients[p.ID] = p
		return nil
	})
	return p
}

func (m *MemoryRepository) AddProfessional(p Professional) Professional {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = utcNow(), utcNow()
	_ = m.write(func(d *memoryData) error {
		d.professionals[p.ID] = p
		return nil
	})
	return p
}

func (m *MemoryRepository) AddTreatment(t Treatment) Treatment {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt, t.UpdatedAt = utcNow(), utcNow()
	_ = m.write(func(d *memoryData) error {
		d.treatments[t.ID] = t
		return nil
	})
	return t
}

// Events returns a copy of the event log.
func (m *MemoryRepository) Events() []EventLog {
	var out []EventLog
	m.read(func(d *memoryData) {
		out = slices.Clone(d.events)
	})
	return out
}

// Reference entities

func (m *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	var (
		p  Patient
		ok bool
	)
	m.read(func(d *memoryData) { p, ok = d.patients[id] })
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetProfessionalByID(_ context.Context, id uuid.UUID) (*Professional, error) {
	var (
		p  Professional
		ok bool
	)
	m.read(func(d *memoryData) { p, ok = d.professionals[id] })
	if !ok {
		return nil, ErrProfessionalNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetTreatmentByID(_ context.Context, id uuid.UUID) (*Treatment, error) {
	var (
		t  Treatment
		ok bool
	)
	m.read(func(d *memoryData) { t, ok = d.treatments[id] })
	if !ok {
		return nil, ErrTreatmentNotFound
	}
	return &t, nil
}

// Slots

func (m *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	var (
		s  Slot
		ok bool
	)
	m.read(func(d *memoryData) { s, ok = d.slots[id] })
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) ListSlots(_ context.Context) ([]Slot, error) {
	var out []Slot
	m.read(func(d *memoryData) {
		out = slices.Collect(maps.Values(d.slots))
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].EndTime < out[j].EndTime
	})
	return out, nil
}

func (m *MemoryRepository) CreateSlot(_ context.Context, s *Slot) error {
	return m.write(func(d *memoryData) error {
		for _, existing := range d.slots {
			if existing.StartTime == s.StartTime && existing.EndTime == s.EndTime {
				return ErrDuplicateSlot
			}
		}
		s.CreatedAt = utcNow()
		d.slots[s.ID] = *s
		return nil
	})
}

// Availabilities

func (d *memoryData) availabilityIndex(id uuid.UUID) int {
	return slices.IndexFunc(d.availabilities, func(a Availability) bool { return a.ID == id })
}

func (d *memoryData) tripleTaken(professionalID uuid.UUID, date time.Time, slotID, except uuid.UUID) bool {
	return slices.ContainsFunc(d.availabilities, func(a Availability) bool {
		return a.ID != except && a.ProfessionalID == professionalID && a.SlotID == slotID && a.Date.Equal(date)
	})
}

func (m *MemoryRepository) GetAvailabilityByID(_ context.Context, id uuid.UUID) (*AvailabilityView, error) {
	var (
		v   AvailabilityView
		err error
	)
	m.read(func(d *memoryData) {
		i := d.availabilityIndex(id)
		if i < 0 {
			err = ErrAvailabilityNotFound
			return
		}
		v = AvailabilityView{Availability: d.availabilities[i], Slot: d.slots[d.availabilities[i].SlotID]}
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (m *MemoryRepository) LockAvailabilityByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	v, err := m.GetAvailabilityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &v.Availability, nil
}

func (m *MemoryRepository) LockAvailabilityFor(_ context.Context, professionalID, slotID uuid.UUID, date *time.Time) (*Availability, error) {
	var found *Availability
	m.read(func(d *memoryData) {
		for _, a := range d.availabilities {
			if a.ProfessionalID != professionalID || a.SlotID != slotID {
				continue
			}
			if date != nil && !a.Date.Equal(DateOnly(*date)) {
				continue
			}
			if found == nil || betterBookingCandidate(a, *found) {
				c := a
				found = &c
			}
		}
	})
	if found == nil {
		return nil, ErrAvailabilityNotFound
	}
	return found, nil
}

// betterBookingCandidate orders FREE rows first, then by date.
func betterBookingCandidate(a, b Availability) bool {
	aFree, bFree := a.Status == AvailabilityFree, b.Status == AvailabilityFree
	if aFree != bFree {
		return aFree
	}
	return a.Date.Before(b.Date)
}

func (m *MemoryRepository) ListAvailabilities(_ context.Context, filter AvailabilityFilter) ([]AvailabilityView, error) {
	var out []AvailabilityView
	m.read(func(d *memoryData) {
		for _, a := range d.availabilities {
			if filter.ProfessionalID != nil && a.ProfessionalID != *filter.ProfessionalID {
				continue
			}
			if filter.Date != nil && !a.Date.Equal(DateOnly(*filter.Date)) {
				continue
			}
			if filter.Status != nil && a.Status != *filter.Status {
				continue
			}
			out = append(out, AvailabilityView{Availability: a, Slot: d.slots[a.SlotID]})
		}
	})
	return out, nil
}

func (m *MemoryRepository) AvailabilityExists(_ context.Context, professionalID uuid.UUID, date time.Time, slotID uuid.UUID) (bool, error) {
	var exists bool
	m.read(func(d *memoryData) {
		exists = d.tripleTaken(professionalID, DateOnly(date), slotID, uuid.Nil)
	})
	return exists, nil
}

func (m *MemoryRepository) CreateAvailability(_ context.Context, a *Availability) error {
	return m.write(func(d *memoryData) error {
		if _, ok := d.professionals[a.ProfessionalID]; !ok {
			return ErrProfessionalNotFound
		}
		if _, ok := d.slots[a.SlotID]; !ok {
			return ErrSlotNotFound
		}
		a.Date = DateOnly(a.Date)
		if d.tripleTaken(a.ProfessionalID, a.Date, a.SlotID, uuid.Nil) {
			return ErrDuplicateAvailability
		}
		a.CreatedAt, a.UpdatedAt = utcNow(), utcNow()
		d.availabilities = append(d.availabilities, *a)
		return nil
	})
}

func (m *MemoryRepository) UpdateAvailability(_ context.Context, a *Availability) error {
	return m.write(func(d *memoryData) error {
		i := d.availabilityIndex(a.ID)
		if i < 0 {
			return ErrAvailabilityNotFound
		}
		cur := d.availabilities[i]
		a.Date = DateOnly(a.Date)
		if d.tripleTaken(cur.ProfessionalID, a.Date, cur.SlotID, cur.ID) {
			return ErrDuplicateAvailability
		}
		cur.Date = a.Date
		cur.Status = a.Status
		cur.UpdatedAt = utcNow()
		d.availabilities[i] = cur
		a.UpdatedAt = cur.UpdatedAt
		return nil
	})
}

// Appointments

func (d *memoryData) appointmentIndex(id uuid.UUID) int {
	return slices.IndexFunc(d.appointments, func(a Appointment) bool { return a.ID == id })
}

func (d *memoryData) detail(a Appointment) AppointmentDetail {
	p := d.patients[a.PatientID]
	pr := d.professionals[a.ProfessionalID]
	t := d.treatments[a.TreatmentID]
	return AppointmentDetail{
		Appointment:  a,
		Patient:      PatientSummary{ID: a.PatientID, FirstName: p.FirstName, LastName: p.LastName},
		Professional: ProfessionalSummary{ID: a.ProfessionalID, Name: pr.Name, LastName: pr.LastName},
		Treatment:    TreatmentSummary{ID: a.TreatmentID, Name: t.Name},
	}
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	var (
		a  Appointment
		ok bool
	)
	m.read(func(d *memoryData) {
		if i := d.appointmentIndex(id); i >= 0 {
			a, ok = d.appointments[i], true
		}
	})
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) LockAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetAppointmentByID(ctx, id)
}

func (m *MemoryRepository) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	var (
		det AppointmentDetail
		ok  bool
	)
	m.read(func(d *memoryData) {
		if i := d.appointmentIndex(id); i >= 0 {
			det, ok = d.detail(d.appointments[i]), true
		}
	})
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &det, nil
}

func (m *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	return m.write(func(d *memoryData) error {
		switch {
		case d.slots[a.SlotID].ID == uuid.Nil:
			return ErrSlotNotFound
		case d.patients[a.PatientID].ID == uuid.Nil:
			return ErrPatientNotFound
		case d.professionals[a.ProfessionalID].ID == uuid.Nil:
			return ErrProfessionalNotFound
		case d.treatments[a.TreatmentID].ID == uuid.Nil:
			return ErrTreatmentNotFound
		}
		if a.IsActive() {
			for _, other := range d.appointments {
				if other.IsActive() && other.ProfessionalID == a.ProfessionalID &&
					other.SlotID == a.SlotID && other.ScheduledAt.Equal(a.ScheduledAt) {
					return ErrSlotAlreadyBooked
				}
			}
		}
		a.CreatedAt, a.UpdatedAt = utcNow(), utcNow()
		d.appointments = append(d.appointments, *a)
		return nil
	})
}

func (m *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment) error {
	return m.write(func(d *memoryData) error {
		i := d.appointmentIndex(a.ID)
		if i < 0 {
			return ErrAppointmentNotFound
		}
		cur := d.appointments[i]
		if a.IsActive() && !cur.IsActive() {
			for _, other := range d.appointments {
				if other.ID != cur.ID && other.IsActive() && other.ProfessionalID == cur.ProfessionalID &&
					other.SlotID == cur.SlotID && other.ScheduledAt.Equal(cur.ScheduledAt) {
					return ErrSlotAlreadyBooked
				}
			}
		}
		cur.Status = a.Status
		cur.CancellationReason = a.CancellationReason
		cur.UpdatedAt = utcNow()
		d.appointments[i] = cur
		a.UpdatedAt = cur.UpdatedAt
		return nil
	})
}

func (m *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	return m.listDetails(func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (m *MemoryRepository) ListAppointmentsByProfessional(_ context.Context, professionalID uuid.UUID) ([]AppointmentDetail, error) {
	return m.listDetails(func(a Appointment) bool { return a.ProfessionalID == professionalID }), nil
}

func (m *MemoryRepository) listDetails(match func(Appointment) bool) []AppointmentDetail {
	var out []AppointmentDetail
	m.read(func(d *memoryData) {
		for _, a := range d.appointments {
			if match(a) {
				out = append(out, d.detail(a))
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

func (m *MemoryRepository) CountActiveBySlot(_ context.Context, slotID uuid.UUID, date time.Time, professionalID uuid.UUID) (int, error) {
	day := DateOnly(date)
	n := 0
	m.read(func(d *memoryData) {
		for _, a := range d.appointments {
			if a.IsActive() && a.SlotID == slotID && a.ProfessionalID == professionalID &&
				DateOnly(a.ScheduledAt).Equal(day) {
				n++
			}
		}
	})
	return n, nil
}

// Events

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	return m.write(func(d *memoryData) error {
		d.nextEventID++
		ev.ID = d.nextEventID
		d.events = append(d.events, ev)
		return nil
	})
}
