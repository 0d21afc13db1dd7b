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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/identity"
	"github.com/hackgods/clinic-appointments/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Days         int
	BookingRatio float64
	ReviewRatio  float64
	ReadRatio    float64
	PatientLimit int
}

type target struct {
	Date string
	Slot string
}

type DataPool struct {
	Patients     []uuid.UUID
	Targets      []target
	tokens       map[uuid.UUID]string
	adminToken   string
	mu           sync.RWMutex
	appointments []uuid.UUID // ids created during the run
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
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

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}
	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, worst time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking   OperationMetrics
	Review    OperationMetrics
	FreeSlots OperationMetrics
	List      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	var sc SimConfig

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive concurrent bookings against a running api-server and verify no slot is double-held",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(sc)
		},
	}
	f := cmd.Flags()
	f.StringVar(&sc.APIBaseURL, "api", "http://localhost:8080", "api-server base URL")
	f.DurationVar(&sc.Duration, "duration", 30*time.Second, "how long to run")
	f.IntVar(&sc.Workers, "workers", 10, "concurrent workers")
	f.IntVar(&sc.Days, "days", 3, "future days to contend over; fewer days means more conflicts")
	f.Float64Var(&sc.BookingRatio, "booking-ratio", 0.5, "share of booking requests")
	f.Float64Var(&sc.ReviewRatio, "review-ratio", 0.2, "share of admin approve/cancel requests")
	f.Float64Var(&sc.ReadRatio, "read-ratio", 0.3, "share of read requests")
	f.IntVar(&sc.PatientLimit, "patients", 4000, "max patients to load")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(sc SimConfig) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, "simulate")

	if sc.Workers <= 0 || sc.Duration <= 0 {
		return fmt.Errorf("workers and duration must be positive")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint tokens")
	}
	total := sc.BookingRatio + sc.ReviewRatio + sc.ReadRatio
	if total <= 0 {
		return fmt.Errorf("ratios must sum to a positive value")
	}
	sc.BookingRatio /= total
	sc.ReviewRatio /= total
	sc.ReadRatio /= total

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, sc, cfg)
	if err != nil {
		return err
	}
	logger.Info().Int("patients", len(dataPool.Patients)).Int("targets", len(dataPool.Targets)).Msg("data pool loaded")

	sim := &Simulator{
		config: sc,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run()
	sim.PrintReport()

	return verifyNoDoubleBooking(context.Background(), pgPool)
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, sc SimConfig, cfg config.Config) (*DataPool, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, sc.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	patients, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan patients: %w", err)
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run seed first")
	}

	secret := []byte(cfg.JWTSecret)
	dp := &DataPool{Patients: patients, tokens: make(map[uuid.UUID]string, len(patients))}
	for _, id := range patients {
		tok, err := api.IssueToken(secret, identity.Actor{ID: id, Role: identity.RolePatient}, sc.Duration+time.Hour)
		if err != nil {
			return nil, err
		}
		dp.tokens[id] = tok
	}
	dp.adminToken, err = api.IssueToken(secret, identity.Actor{ID: uuid.New(), Role: identity.RoleAdmin}, sc.Duration+time.Hour)
	if err != nil {
		return nil, err
	}

	today := appointment.Day(time.Now(), cfg.Location())
	for d := 1; d <= max(sc.Days, 1); d++ {
		date := appointment.FormatDate(today.AddDate(0, 0, d))
		for _, slot := range appointment.DefaultCatalog {
			dp.Targets = append(dp.Targets, target{Date: date, Slot: slot})
		}
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

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
		case r < s.config.BookingRatio+s.config.ReviewRatio:
			s.doReview(ctx, rng)
		case rng.Intn(2) == 0:
			s.doFreeSlots(ctx, rng)
		default:
			s.doList(ctx, rng)
		}
	}
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body any, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	start := time.Now()
	var created api.AppointmentResponse
	status, err := s.call(ctx, http.MethodPost, "/appointments", s.pool.tokens[patientID], api.CreateAppointmentRequest{
		Service:         "General consultation",
		AppointmentDate: t.Date,
		TimeSlot:        t.Slot,
	}, &created)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(time.Since(start), status, err)

	if status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
}

// doReview approves or cancels a random appointment as admin, freeing or
// confirming slots while bookings race for them.
func (s *Simulator) doReview(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	op := "approve"
	if rng.Intn(3) == 0 {
		op = "cancel"
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/"+op, s.pool.adminToken, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Review.Record(time.Since(start), status, err)
}

func (s *Simulator) doFreeSlots(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/slots?date="+t.Date, s.pool.adminToken, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.FreeSlots.Record(time.Since(start), status, err)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/appointments?upcoming=true&limit=20", s.pool.tokens[patientID], nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.List.Record(time.Since(start), status, err)
}

func verifyNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool) error {
	var doubled int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT appointment_date, time_slot
			FROM appointments
			WHERE status IN ('pending', 'approved')
			GROUP BY appointment_date, time_slot
			HAVING count(*) > 1
		) d
	`).Scan(&doubled)
	if err != nil {
		return fmt.Errorf("verify slots: %w", err)
	}
	if doubled > 0 {
		return fmt.Errorf("%d slots are held by more than one appointment", doubled)
	}
	fmt.Println("invariant ok: no slot is held twice")
	return nil
}

func (s *Simulator) PrintReport() {
	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Review", &s.metrics.Review)
	printOperationReport("Free slots", &s.metrics.FreeSlots)
	printOperationReport("List upcoming", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), worst.Round(time.Millisecond))
}
