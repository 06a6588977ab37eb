package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/api"
	"github.com/hackgods/voice-appointment-booking/internal/config"
	"github.com/hackgods/voice-appointment-booking/internal/db"
	"github.com/hackgods/voice-appointment-booking/internal/tools"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

// simulate drives concurrent fake calls through the api-server. Callers are
// drawn from a small pool of phones and days so that the session merge, the
// slot lock and the one-appointment-per-day guard all see contention.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	PhoneLimit   int
	NewCallers   float64 // share of calls from numbers not in the store
	DaysAhead    int
	RescheduleTo float64 // share of calls that try to reschedule instead of book
}

type DataPool struct {
	Phones []string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

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

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
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
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Metrics struct {
	StartCall  OperationMetrics
	Tool       OperationMetrics
	Book       OperationMetrics
	Reschedule OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *logging.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("failed to load base config", zap.Error(err))
	}
	logger := logging.New(baseCfg.Env, baseCfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		logger.Fatal("SIM_WORKERS and SIM_DURATION must be positive")
	}
	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.String("api", cfg.APIBaseURL),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("loaded phones", zap.Int("count", len(dataPool.Phones)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:8080")
	v.SetDefault("SIM_DURATION", "30s")
	v.SetDefault("SIM_WORKERS", 10)
	v.SetDefault("SIM_PHONE_LIMIT", 50)
	v.SetDefault("SIM_NEW_CALLERS", 0.2)
	v.SetDefault("SIM_DAYS_AHEAD", 3)
	v.SetDefault("SIM_RESCHEDULE_RATIO", 0.2)

	return SimConfig{
		APIBaseURL:   strings.TrimRight(v.GetString("SIM_API_BASE_URL"), "/"),
		Duration:     v.GetDuration("SIM_DURATION"),
		Workers:      v.GetInt("SIM_WORKERS"),
		PhoneLimit:   v.GetInt("SIM_PHONE_LIMIT"),
		NewCallers:   v.GetFloat64("SIM_NEW_CALLERS"),
		DaysAhead:    v.GetInt("SIM_DAYS_AHEAD"),
		RescheduleTo: v.GetFloat64("SIM_RESCHEDULE_RATIO"),
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `SELECT phone FROM patients ORDER BY random() LIMIT $1`, cfg.PhoneLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	dataPool := &DataPool{}
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, err
		}
		dataPool.Phones = append(dataPool.Phones, phone)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Phones) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for ctx.Err() == nil {
				s.simulateCall(ctx, rng, workerID)
			}
		}(i)
	}
	wg.Wait()
	s.log.Info("simulation complete")
}

// simulateCall plays one conversation. save_name and available_slot are fired
// together, as an engine may do, before the caller books or reschedules.
func (s *Simulator) simulateCall(ctx context.Context, rng *rand.Rand, workerID int) {
	phone := s.pool.Phones[rng.Intn(len(s.pool.Phones))]
	if rng.Float64() < s.config.NewCallers {
		phone = fmt.Sprintf("0300%07d", rng.Intn(10_000_000))
	}
	participant := fmt.Sprintf("sip_sim_%d", workerID)

	start := time.Now()
	var call api.StartCallResponse
	status, err := s.post(ctx, "/calls", api.StartCallRequest{ParticipantID: participant, Phone: phone}, &call)
	s.metrics.StartCall.Record(time.Since(start), err == nil && status == http.StatusCreated, false)
	if err != nil || call.CallID == "" {
		return
	}

	date := time.Now().AddDate(0, 0, 1+rng.Intn(max(s.config.DaysAhead, 1))).Format("2006-01-02")
	hour := []string{"9:00 AM", "9:30 AM", "10:00 AM", "11:30 AM", "2:00 PM", "3:30 PM"}[rng.Intn(6)]

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.tool(ctx, call.CallID, tools.SaveName, tools.Args{Name: ptr(gofakeit.FirstName() + " " + gofakeit.LastName())})
	}()
	go func() {
		defer wg.Done()
		s.tool(ctx, call.CallID, tools.AvailableSlot, tools.Args{Date: ptr(date)})
	}()
	wg.Wait()

	if rng.Float64() < s.config.RescheduleTo {
		s.tool(ctx, call.CallID, tools.StartReschedule, tools.Args{})
		start = time.Now()
		res, ok := s.tool(ctx, call.CallID, tools.ConfirmReschedule, tools.Args{Time: ptr(hour)})
		s.metrics.Reschedule.Record(time.Since(start), ok && strings.Contains(res.Text, "moved your appointment"), ok && isConflict(res.Text))
	} else {
		start = time.Now()
		res, ok := s.tool(ctx, call.CallID, tools.BookAppointment, tools.Args{Time: ptr(hour)})
		s.metrics.Book.Record(time.Since(start), ok && strings.Contains(res.Text, "confirmed"), ok && isConflict(res.Text))
	}
	s.tool(ctx, call.CallID, tools.EndCall, tools.Args{})
}

func isConflict(text string) bool {
	for _, marker := range []string{"already have", "have an appointment on", "was just taken", "already taken", "Someone is booking"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func (s *Simulator) tool(ctx context.Context, callID string, name tools.Name, args tools.Args) (tools.Result, bool) {
	start := time.Now()
	var res tools.Result
	status, err := s.post(ctx, fmt.Sprintf("/calls/%s/tools/%s", callID, name), args, &res)
	ok := err == nil && status == http.StatusOK && res.Text != tools.Apology
	s.metrics.Tool.Record(time.Since(start), ok, res.Text == tools.SlowDown)
	return res, ok
}

func (s *Simulator) post(ctx context.Context, path string, body, out any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Start call", &s.metrics.StartCall)
	printOperationReport("Tool calls", &s.metrics.Tool)
	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Other: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func ptr(s string) *string { return &s }
