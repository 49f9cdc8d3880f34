package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/bootstrap"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/seed"
)

type SimConfig struct {
	APIBaseURL        string // empty drives the service in process
	Duration          time.Duration
	Workers           int
	HotAvailabilities int
	BookingRatio      float64
	ConfirmRatio      float64
	CancelRatio       float64
	ReadRatio         float64
	PatientLimit      int
}

// target is one contested availability.
type target struct {
	ProfessionalID uuid.UUID
	SlotID         uuid.UUID
	Date           time.Time
}

type DataPool struct {
	Patients     []uuid.UUID
	Treatments   []uuid.UUID
	Targets      []target
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) Professionals() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, t := range dp.Targets {
		if !seen[t.ProfessionalID] {
			seen[t.ProfessionalID] = true
			out = append(out, t.ProfessionalID)
		}
	}
	return out
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid simulator config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("hot_availabilities", cfg.HotAvailabilities).
		Str("api", cfg.APIBaseURL).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt, err := bootstrap.Open(ctx, baseCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	var dataPool *DataPool
	switch {
	case rt.Memory != nil:
		if cfg.APIBaseURL != "" {
			logger.Fatal().Msg("http mode needs the server's Postgres store to pick targets")
		}
		dataPool, err = seedMemory(ctx, rt.Memory, cfg)
	default:
		dataPool, err = loadDataPool(ctx, rt.Pool, cfg)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("patients", len(dataPool.Patients)).
		Int("targets", len(dataPool.Targets)).
		Msg("data pool loaded")

	var client Client = serviceClient{svc: rt.Service()}
	if cfg.APIBaseURL != "" {
		client = newHTTPClient(cfg.APIBaseURL)
	}

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: client,
		logger: logger,
	}

	sim.Run()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), time.Minute)
	defer cancelVerify()

	violations, err := sim.Verify(verifyCtx)
	if err != nil {
		logger.Fatal().Err(err).Msg("verification failed")
	}

	sim.PrintReport(violations)
	if len(violations) > 0 {
		os.Exit(2)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", ""),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 20),
		HotAvailabilities: getInt("SIM_HOT_AVAILABILITIES", 10),
		BookingRatio:      getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio:      getFloat("SIM_CONFIRM_RATIO", 0.15),
		CancelRatio:       getFloat("SIM_CANCEL_RATIO", 0.15),
		ReadRatio:         getFloat("SIM_READ_RATIO", 0.2),
		PatientLimit:      getInt("SIM_PATIENT_LIMIT", 1000),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotAvailabilities <= 0 {
		return fmt.Errorf("SIM_HOT_AVAILABILITIES must be > 0")
	}
	return nil
}

// seedMemory fills an empty in-process store and targets its first
// availabilities.
func seedMemory(ctx context.Context, repo *appointment.MemoryRepository, cfg SimConfig) (*DataPool, error) {
	opts := seed.DefaultOptions()
	opts.Patients = cfg.PatientLimit
	ds := seed.Generate(gofakeit.New(0), opts)
	if err := seed.LoadMemory(ctx, repo, ds); err != nil {
		return nil, err
	}

	dataPool := &DataPool{}
	for _, p := range ds.Patients {
		if p.Active {
			dataPool.Patients = append(dataPool.Patients, p.ID)
		}
	}
	for _, t := range ds.Treatments {
		dataPool.Treatments = append(dataPool.Treatments, t.ID)
	}
	for i := 0; i < len(ds.Availabilities) && i < cfg.HotAvailabilities; i++ {
		a := ds.Availabilities[i]
		dataPool.Targets = append(dataPool.Targets, target{ProfessionalID: a.ProfessionalID, SlotID: a.SlotID, Date: a.Date})
	}
	return dataPool, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients WHERE active LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT id FROM treatments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load treatments: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Treatments = append(dataPool.Treatments, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT professional_id, slot_id, date
		FROM availabilities
		WHERE status = 'FREE' AND date >= CURRENT_DATE
		ORDER BY date, seq
		LIMIT $1
	`, cfg.HotAvailabilities)
	if err != nil {
		return nil, fmt.Errorf("load availabilities: %w", err)
	}
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.ProfessionalID, &t.SlotID, &t.Date); err != nil {
			rows.Close()
			return nil, err
		}
		t.Date = appointment.DateOnly(t.Date)
		dataPool.Targets = append(dataPool.Targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Treatments) == 0 {
		return nil, fmt.Errorf("no treatments loaded")
	}
	if len(dataPool.Targets) == 0 {
		return nil, fmt.Errorf("no free availabilities loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Msg("simulation running")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doListByPatient(ctx, rng)
		}
	}
}

// record drops operations cut short by the end of the run.
func (s *Simulator) record(ctx context.Context, om *OperationMetrics, start time.Time, o outcome) {
	if o == outcomeError && ctx.Err() != nil {
		return
	}
	om.Record(time.Since(start), o)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	date := t.Date

	start := time.Now()
	id, o := s.client.Book(ctx, appointment.CreateAppointmentInput{
		SlotID:         t.SlotID,
		ProfessionalID: t.ProfessionalID,
		PatientID:      s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		TreatmentID:    s.pool.Treatments[rng.Intn(len(s.pool.Treatments))],
		Date:           &date,
	})
	if o == outcomeOK {
		s.pool.AddAppointment(id)
	}
	s.record(ctx, &s.metrics.Booking, start, o)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	s.record(ctx, &s.metrics.Confirm, start, s.client.Confirm(ctx, id))
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	s.record(ctx, &s.metrics.Cancel, start, s.client.Cancel(ctx, id, "simulated cancellation"))
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start := time.Now()
	s.record(ctx, &s.metrics.ListByPatient, start, s.client.ListByPatient(ctx, patientID))
}

// Verify lists the appointments of every targeted professional and returns
// the (professional, slot, time) keys held by more than one active
// appointment.
func (s *Simulator) Verify(ctx context.Context) ([]string, error) {
	var records []bookingRecord
	for _, id := range s.pool.Professionals() {
		list, err := s.client.AppointmentsByProfessional(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list appointments of %s: %w", id, err)
		}
		records = append(records, list...)
	}
	return doubleBookings(records), nil
}

func doubleBookings(records []bookingRecord) []string {
	active := make(map[string]int)
	var order []string
	for _, r := range records {
		if r.Status == appointment.StatusCancelled {
			continue
		}
		key := fmt.Sprintf("%s/%s@%s", r.ProfessionalID, r.SlotID, r.ScheduledAt.Format("2006-01-02T15:04"))
		if active[key] == 0 {
			order = append(order, key)
		}
		active[key]++
	}

	var violations []string
	for _, key := range order {
		if active[key] > 1 {
			violations = append(violations, fmt.Sprintf("%s held by %d active appointments", key, active[key]))
		}
	}
	return violations
}

func (s *Simulator) PrintReport(violations []string) {
	fmt.Println("\n" + rule())
	fmt.Println("SIMULATION REPORT")
	fmt.Println(rule())
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contested availabilities: %d\n", len(s.pool.Targets))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)

	if len(violations) == 0 {
		fmt.Println("Double bookings: none")
		return
	}
	fmt.Printf("Double bookings: %d\n", len(violations))
	for _, v := range violations {
		fmt.Printf("  %s\n", v)
	}
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
