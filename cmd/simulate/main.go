// Command simulate drives concurrent load against a running api-server.
// Workers list free slots and race to book them, then mix in reschedules,
// cancellations and reads. The conflict rate in the report shows the
// per-provider lock holding up under contention.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neuroclinic/scheduling/internal/config"
	"github.com/neuroclinic/scheduling/internal/db"
)

type simConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookRatio    float64
	MutateRatio  float64
	ReadRatio    float64
	PatientLimit int
	PostgresDSN  string
}

// dataPool holds the seeded IDs the workers draw from plus the appointments
// they create along the way.
type dataPool struct {
	patients  []uuid.UUID
	providers []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *dataPool) addAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *dataPool) randomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type opMetrics struct {
	total    int64
	success  int64
	conflict int64
	failed   int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *opMetrics) record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.success, 1)
	case conflict:
		atomic.AddInt64(&om.conflict, 1)
	default:
		atomic.AddInt64(&om.failed, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *opMetrics) stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))

	idx := func(pct int) int {
		i := len(latencies) * pct / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}
	return avg, latencies[idx(50)], latencies[idx(95)]
}

type simulator struct {
	cfg    simConfig
	pool   *dataPool
	client *http.Client

	book       opMetrics
	reschedule opMetrics
	cancel     opMetrics
	read       opMetrics
	listSlots  opMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal("SIM_WORKERS and SIM_DURATION must be positive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	pool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d patients, %d providers", len(pool.patients), len(pool.providers))

	sim := &simulator{
		cfg:    cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	sim.run()
	sim.printReport()
}

func loadSimConfig() simConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("load base config: %v", err)
	}

	cfg := simConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookRatio:    getFloat("SIM_BOOK_RATIO", 0.5),
		MutateRatio:  getFloat("SIM_MUTATE_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookRatio + cfg.MutateRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.MutateRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func loadDataPool(ctx context.Context, pgPool *pgxpool.Pool, cfg simConfig) (*dataPool, error) {
	pool := &dataPool{}

	rows, err := pgPool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pool.patients = append(pool.patients, id)
	}

	rows, err = pgPool.Query(ctx, `SELECT id FROM providers`)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pool.providers = append(pool.providers, id)
	}

	if len(pool.patients) == 0 || len(pool.providers) == 0 {
		return nil, fmt.Errorf("no seed data; run cmd/seed first")
	}
	return pool, nil
}

func (s *simulator) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	log.Printf("running for %s with %d workers (book=%.2f mutate=%.2f read=%.2f)",
		s.cfg.Duration, s.cfg.Workers, s.cfg.BookRatio, s.cfg.MutateRatio, s.cfg.ReadRatio)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	log.Println("simulation complete")
}

func (s *simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.cfg.BookRatio:
				s.doBook(ctx, rng)
			case r < s.cfg.BookRatio+s.cfg.MutateRatio:
				if rng.Intn(2) == 0 {
					s.doReschedule(ctx, rng)
				} else {
					s.doCancel(ctx, rng)
				}
			default:
				if rng.Intn(2) == 0 {
					s.doRead(ctx, rng)
				} else {
					s.doListSlots(ctx, rng)
				}
			}
		}
	}
}

// freeSlots asks the API for the provider's open slots over the next week.
// All workers share this view, which is exactly the race the engine has to
// win: at most one booking per returned slot may succeed.
func (s *simulator) freeSlots(ctx context.Context, providerID uuid.UUID) []time.Time {
	start := time.Now()
	end := start.AddDate(0, 0, 7)

	url := fmt.Sprintf("%s/providers/%s/slots?start=%s&end=%s",
		s.cfg.APIBaseURL, providerID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	t0 := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(t0)
	if err != nil {
		s.listSlots.record(latency, false, false)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.listSlots.record(latency, false, false)
		return nil
	}

	var slotsResp struct {
		Slots []time.Time `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&slotsResp); err != nil {
		s.listSlots.record(latency, false, false)
		return nil
	}
	s.listSlots.record(latency, true, false)
	return slotsResp.Slots
}

func (s *simulator) doBook(ctx context.Context, rng *rand.Rand) {
	providerID := s.pool.providers[rng.Intn(len(s.pool.providers))]
	patientID := s.pool.patients[rng.Intn(len(s.pool.patients))]

	slots := s.freeSlots(ctx, providerID)
	if len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]

	types := []string{"initial_consultation", "eeg_monitoring", "follow_up"}
	body, _ := json.Marshal(map[string]any{
		"patient_id":       patientID.String(),
		"provider_id":      providerID.String(),
		"type":             types[rng.Intn(len(types))],
		"start":            slot,
		"duration_minutes": 60,
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(t0)
	if err != nil {
		s.book.record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.ID != uuid.Nil {
			s.pool.addAppointment(created.ID)
		}
		s.book.record(latency, true, false)
	case http.StatusConflict:
		s.book.record(latency, false, true)
	default:
		s.book.record(latency, false, false)
	}
}

func (s *simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.randomAppointment(rng)
	if !ok {
		return
	}

	newStart := time.Now().AddDate(0, 0, 1+rng.Intn(6)).Truncate(time.Hour)
	body, _ := json.Marshal(map[string]any{"scheduled_at": newStart})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/appointments/%s", s.cfg.APIBaseURL, apptID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(t0)
	if err != nil {
		s.reschedule.record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	s.reschedule.record(latency,
		resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusConflict)
}

func (s *simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.randomAppointment(rng)
	if !ok {
		return
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/cancel", s.cfg.APIBaseURL, apptID), nil)

	t0 := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(t0)
	if err != nil {
		s.cancel.record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	s.cancel.record(latency,
		resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusConflict)
}

func (s *simulator) doRead(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.randomAppointment(rng)
	if !ok {
		return
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.cfg.APIBaseURL, apptID), nil)

	t0 := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(t0)
	if err != nil {
		s.read.record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	s.read.record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	providerID := s.pool.providers[rng.Intn(len(s.pool.providers))]
	s.freeSlots(ctx, providerID)
}

func (s *simulator) printReport() {
	fmt.Println()
	fmt.Println("SIMULATION REPORT")
	fmt.Printf("duration=%s workers=%d\n\n", s.cfg.Duration, s.cfg.Workers)

	printOpReport("Book", &s.book)
	printOpReport("Reschedule", &s.reschedule)
	printOpReport("Cancel", &s.cancel)
	printOpReport("Read", &s.read)
	printOpReport("List slots", &s.listSlots)
}

func printOpReport(name string, om *opMetrics) {
	total := atomic.LoadInt64(&om.total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.success)
	conflict := atomic.LoadInt64(&om.conflict)
	failed := atomic.LoadInt64(&om.failed)
	avg, p50, p95 := om.stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  total=%d success=%d (%.1f%%)", total, success, pct(success, total))
	if conflict > 0 {
		fmt.Printf(" conflicts=%d (%.1f%%)", conflict, pct(conflict, total))
	}
	if failed > 0 {
		fmt.Printf(" errors=%d (%.1f%%)", failed, pct(failed, total))
	}
	fmt.Println()
	fmt.Printf("  latency avg=%s p50=%s p95=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
}

func pct(n, total int64) float64 {
	return float64(n) / float64(total) * 100
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
