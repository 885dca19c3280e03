package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/api"
	"github.com/hackgods/medical-appointment-platform/internal/config"
	"github.com/hackgods/medical-appointment-platform/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	TenantID     int64
	BookingRatio float64
	ActionRatio  float64
	ReadRatio    float64
	PatientLimit int
	SlotLimit    int
	PostgresDSN  string
	JWTSecret    string
}

type slotRef struct {
	ID       int64
	DoctorID int64
}

type DataPool struct {
	Patients     []int64
	Slots        []slotRef
	mu           sync.RWMutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record counts a rejected-but-expected response (slot taken, closed
// appointment) as a conflict rather than an error.
func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking       OperationMetrics
	Action        OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	Schedules     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	token   string
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		config.NewLogger(os.Stderr, "prod", "info").Fatal().Err(err).Msg("failed to load base config")
	}
	logger := baseCfg.Logger(os.Stdout).With().Str("service", "simulate").Logger()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("action", cfg.ActionRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	if cfg.TenantID == 0 {
		if err := pgPool.QueryRow(ctx, `SELECT id FROM tenants ORDER BY id LIMIT 1`).Scan(&cfg.TenantID); err != nil {
			logger.Fatal().Err(err).Msg("no tenant found, run the seed first")
		}
	}

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int64("tenant_id", cfg.TenantID).Int("patients", len(dataPool.Patients)).Int("slots", len(dataPool.Slots)).Msg("data pool loaded")

	token, err := api.IssueToken(cfg.JWTSecret, api.Identity{TenantID: cfg.TenantID, UserID: 1, Role: "simulator"}, cfg.Duration+time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("issue token")
	}

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		token:  token,
		logger: logger,
	}
	sim.Run()
	sim.PrintReport()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCheck()
	if err := checkNoDoubleBooking(checkCtx, pgPool, cfg.TenantID); err != nil {
		logger.Error().Err(err).Msg("invariant check failed")
		os.Exit(1)
	}
	logger.Info().Msg("no slot holds more than one live appointment")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		TenantID:     int64(getInt("SIM_TENANT_ID", 0)),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ActionRatio:  getFloat("SIM_ACTION_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:  base.PostgresDSN,
		JWTSecret:    base.JWTSecret,
	}

	total := cfg.BookingRatio + cfg.ActionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ActionRatio /= total
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
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients WHERE tenant_id = $1 LIMIT $2`, cfg.TenantID, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	patients, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan patients: %w", err)
	}

	rows, err = pool.Query(ctx, `
		SELECT id, doctor_id FROM schedules
		WHERE tenant_id = $1 AND is_available AND date >= current_date
		ORDER BY date, start_time
		LIMIT $2
	`, cfg.TenantID, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	slots, err := pgx.CollectRows(rows, pgx.RowToStructByPos[slotRef])
	if err != nil {
		return nil, fmt.Errorf("scan slots: %w", err)
	}

	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("no slots loaded")
	}
	return &DataPool{Patients: patients, Slots: slots}, nil
}

// checkNoDoubleBooking fails if any slot ended up with two live appointments.
func checkNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool, tenantID int64) error {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT schedule_id FROM appointments
			WHERE tenant_id = $1 AND status NOT IN ('CANCELLED', 'COMPLETED', 'NO_SHOW')
			GROUP BY schedule_id HAVING count(*) > 1
		) dup
	`, tenantID).Scan(&n)
	if err != nil {
		return fmt.Errorf("count double bookings: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%d slots are double booked", n)
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

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

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ActionRatio:
				s.doAction(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByPatient(ctx, rng)
				case 2:
					s.doListSchedules(ctx, rng)
				}
			}
		}
	}
}

// call performs one request and returns the status code, or 0 on transport
// failure. out, when non-nil, receives the decoded body of a 2xx response.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) int {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	var appt struct {
		ID int64 `json:"id"`
	}
	code := s.call(ctx, http.MethodPost, "/appointments", map[string]any{
		"patient_id": patientID,
		"doctor_id":  slot.DoctorID,
		"slot_id":    slot.ID,
	}, &appt)
	latency := time.Since(start)

	if code == http.StatusCreated && appt.ID != 0 {
		s.pool.AddAppointment(appt.ID)
	}
	// losing the race for a slot is the expected outcome under contention
	s.metrics.Booking.Record(latency, code == http.StatusCreated, code == http.StatusBadRequest)
}

func (s *Simulator) doAction(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	action := "confirm"
	if rng.Intn(4) == 0 {
		action = "cancel"
	}

	start := time.Now()
	code := s.call(ctx, http.MethodPost, "/appointments/"+strconv.FormatInt(apptID, 10)+"/actions",
		map[string]any{"action": action}, nil)
	s.metrics.Action.Record(time.Since(start), code == http.StatusOK, code == http.StatusBadRequest)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	code := s.call(ctx, http.MethodGet, "/appointments/"+strconv.FormatInt(apptID, 10), nil, nil)
	s.metrics.ReadByID.Record(time.Since(start), code == http.StatusOK, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start := time.Now()
	code := s.call(ctx, http.MethodGet, fmt.Sprintf("/patients/%d/appointments?limit=20&offset=0", patientID), nil, nil)
	s.metrics.ListByPatient.Record(time.Since(start), code == http.StatusOK, false)
}

func (s *Simulator) doListSchedules(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	start := time.Now()
	code := s.call(ctx, http.MethodGet, fmt.Sprintf("/schedules?doctor=%d", slot.DoctorID), nil, nil)
	s.metrics.Schedules.Record(time.Since(start), code == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Tenant: %d\n", s.config.TenantID)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm/Cancel", &s.metrics.Action)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("List Schedules", &s.metrics.Schedules)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

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
