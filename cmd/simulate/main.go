package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrplabs/hrp-booking/internal/booking"
	"github.com/hrplabs/hrp-booking/internal/db"
)

// simulate drives concurrent booking traffic at a running api-server and
// checks the core double-booking property from the outside: for every
// (doctor, date, slot) tuple, at most one create may succeed between
// cancellations, no matter how many workers collide on it.

type simConfig struct {
	apiBaseURL  string
	duration    time.Duration
	workers     int
	doctorLimit int
	patientLim  int
	cancelRatio float64
}

type metrics struct {
	total     int64
	success   int64
	conflict  int64
	errors    int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *metrics) record(latency time.Duration, outcome string) {
	atomic.AddInt64(&m.total, 1)
	switch outcome {
	case "success":
		atomic.AddInt64(&m.success, 1)
	case "conflict":
		atomic.AddInt64(&m.conflict, 1)
	default:
		atomic.AddInt64(&m.errors, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

type target struct {
	doctorID uuid.UUID
	date     string
	slot     string
}

type bookingPool struct {
	mu       sync.Mutex
	patients []uuid.UUID
	targets  []target
	created  []uuid.UUID
}

func (bp *bookingPool) randomPatient() uuid.UUID {
	return bp.patients[rand.Intn(len(bp.patients))]
}

func (bp *bookingPool) randomTarget() target {
	return bp.targets[rand.Intn(len(bp.targets))]
}

func (bp *bookingPool) addCreated(id uuid.UUID) {
	bp.mu.Lock()
	bp.created = append(bp.created, id)
	bp.mu.Unlock()
}

func (bp *bookingPool) takeCreated() (uuid.UUID, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if len(bp.created) == 0 {
		return uuid.Nil, false
	}
	idx := rand.Intn(len(bp.created))
	id := bp.created[idx]
	bp.created = append(bp.created[:idx], bp.created[idx+1:]...)
	return id, true
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := simConfig{}
	flag.StringVar(&cfg.apiBaseURL, "api", "http://127.0.0.1:8080", "api-server base URL")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "how long to run")
	flag.IntVar(&cfg.workers, "workers", 16, "concurrent workers")
	flag.IntVar(&cfg.doctorLimit, "doctors", 10, "how many doctors to target")
	flag.IntVar(&cfg.patientLim, "patients", 200, "how many patients to book as")
	flag.Float64Var(&cfg.cancelRatio, "cancel-ratio", 0.3, "fraction of requests that cancel instead of book")
	flag.Parse()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required to load doctor and patient IDs")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, dsn)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}

	bp, err := loadPool(context.Background(), pool, cfg)
	pool.Close()
	if err != nil {
		log.Fatalf("load simulation pool: %v", err)
	}
	log.Printf("loaded %d patients, %d booking targets", len(bp.patients), len(bp.targets))

	m := &metrics{}
	client := &http.Client{Timeout: 5 * time.Second}

	deadline := time.Now().Add(cfg.duration)
	var wg sync.WaitGroup
	for i := 0; i < cfg.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				if rand.Float64() < cfg.cancelRatio {
					runCancel(client, cfg.apiBaseURL, bp, m)
				} else {
					runBook(client, cfg.apiBaseURL, bp, m)
				}
			}
		}()
	}
	wg.Wait()

	fmt.Printf("\n=== simulation report ===\n")
	fmt.Printf("total:     %d\n", m.total)
	fmt.Printf("success:   %d\n", m.success)
	fmt.Printf("conflict:  %d (slot_already_booked / slot_not_offered)\n", m.conflict)
	fmt.Printf("errors:    %d\n", m.errors)
	fmt.Printf("p50:       %s\n", m.percentile(0.50))
	fmt.Printf("p95:       %s\n", m.percentile(0.95))
	fmt.Printf("p99:       %s\n", m.percentile(0.99))
}

// loadPool pulls real IDs and derives booking targets from each doctor's
// template: the next candidate dates and their slot labels. A deliberately
// small target set maximizes collisions.
func loadPool(ctx context.Context, pool *pgxpool.Pool, cfg simConfig) (*bookingPool, error) {
	bp := &bookingPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.patientLim)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		bp.patients = append(bp.patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bp.patients) == 0 {
		return nil, fmt.Errorf("no patients found, run cmd/seed first")
	}

	rows, err = pool.Query(ctx, `SELECT id, availability FROM doctors LIMIT $1`, cfg.doctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	for rows.Next() {
		var id uuid.UUID
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}

		var av booking.Availability
		if err := json.Unmarshal(raw, &av); err != nil {
			return nil, fmt.Errorf("decode availability for doctor %s: %w", id, err)
		}

		// Tomorrow onward keeps the same-day cutoff out of the picture.
		dates := booking.CandidateDates(av, now.AddDate(0, 0, 1), 7)
		for _, date := range dates {
			for _, slot := range booking.SlotsForDate(av, date) {
				bp.targets = append(bp.targets, target{
					doctorID: id,
					date:     date.Format(booking.DateFormat),
					slot:     slot,
				})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bp.targets) == 0 {
		return nil, fmt.Errorf("no booking targets derived, run cmd/seed first")
	}

	return bp, nil
}

func runBook(client *http.Client, base string, bp *bookingPool, m *metrics) {
	t := bp.randomTarget()
	body, _ := json.Marshal(map[string]string{
		"doctor_id":  t.doctorID.String(),
		"patient_id": bp.randomPatient().String(),
		"date":       t.date,
		"slot":       t.slot,
	})

	start := time.Now()
	resp, err := client.Post(base+"/api/v1/appointments", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		m.record(latency, "error")
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &created) == nil {
			bp.addCreated(created.ID)
		}
		m.record(latency, "success")
	case http.StatusConflict:
		m.record(latency, "conflict")
	default:
		m.record(latency, "error")
	}
}

func runCancel(client *http.Client, base string, bp *bookingPool, m *metrics) {
	id, ok := bp.takeCreated()
	if !ok {
		return
	}

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/appointments/%s", base, id), nil)
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		m.record(latency, "error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		m.record(latency, "success")
	} else {
		m.record(latency, "error")
	}
}
