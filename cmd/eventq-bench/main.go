// Command eventq-bench measures queue throughput and latency against a
// live database.
//
// Enqueue mode floods the table with events, consume mode seeds and then
// drains it through a Runner, and mixed mode does both concurrently while
// measuring end-to-end latency. A configurable failure rate exercises the
// retry and dead-letter paths under load.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/eventq"
	"github.com/velmie/eventq/cmd/internal/clilog"
	"github.com/velmie/eventq/cmd/internal/storeconn"
	"github.com/velmie/eventq/prom"
)

type mode string

const (
	modeEnqueue mode = "enqueue"
	modeConsume mode = "consume"
	modeMixed   mode = "mixed"
)

const (
	exitUsage = 2

	defaultEvents       = 10000
	defaultPayloadBytes = 512
	defaultWorkers      = 4
	defaultProducers    = 4
	defaultBatchSize    = 25
	defaultDrainTimeout = 2 * time.Minute
	benchPollInterval   = 10 * time.Millisecond
	drainPoll           = 10 * time.Millisecond

	percentileP50 = 0.50
	percentileP95 = 0.95
	percentileP99 = 0.99

	metricsReadHeaderTimeout = 5 * time.Second
)

var (
	errDSNRequired     = errors.New("eventq-bench: dsn is required")
	errInvalidMode     = errors.New("eventq-bench: invalid mode")
	errInvalidFailRate = errors.New("eventq-bench: fail-rate must be between 0 and 1")
	errInvalidEvents   = errors.New("eventq-bench: events must be positive")
	errMixedConfig     = errors.New("eventq-bench: mixed mode requires -events or -duration")
	errSettledMismatch = errors.New("eventq-bench: not all events settled")
	errInjectedFailure = errors.New("injected failure")
)

type benchConfig struct {
	driver       string
	dsn          string
	table        string
	runMode      mode
	events       int
	workers      int
	producers    int
	batchSize    int
	payloadBytes int
	failRate     float64
	maxRetries   int
	duration     time.Duration
	drainTimeout time.Duration
	seed         int64
	metricsAddr  string
	reset        bool
	jsonOut      bool
}

type result struct {
	Mode           mode          `json:"mode"`
	Events         int           `json:"events"`
	Produced       int64         `json:"produced"`
	Completed      int64         `json:"completed"`
	Retried        int64         `json:"retried"`
	DeadLettered   int64         `json:"dead_lettered"`
	Duration       time.Duration `json:"duration"`
	Throughput     float64       `json:"throughput_msg_per_sec"`
	Workers        int           `json:"workers"`
	Producers      int           `json:"producers"`
	BatchSize      int           `json:"batch_size"`
	PayloadBytes   int           `json:"payload_bytes"`
	FailRate       float64       `json:"fail_rate"`
	LatencyP50Ms   float64       `json:"latency_p50_ms"`
	LatencyP95Ms   float64       `json:"latency_p95_ms"`
	LatencyP99Ms   float64       `json:"latency_p99_ms"`
	LatencyMaxMs   float64       `json:"latency_max_ms"`
	LatencyMeanMs  float64       `json:"latency_mean_ms"`
	LatencySamples int           `json:"latency_samples"`
	BatchP50Ms     float64       `json:"batch_p50_ms"`
	BatchP95Ms     float64       `json:"batch_p95_ms"`
	BatchP99Ms     float64       `json:"batch_p99_ms"`
	BatchSamples   int           `json:"batch_samples"`
}

func main() {
	clilog.LoadEnv()

	var cfg benchConfig
	var runMode string

	flag.StringVar(&cfg.driver, "driver", clilog.EnvString("DRIVER", storeconn.DriverMySQL), "Database driver: mysql or postgres")
	flag.StringVar(&cfg.dsn, "dsn", clilog.EnvString("DSN", ""), "Database DSN")
	flag.StringVar(&cfg.table, "table", "queue_items_bench", "Queue table name")
	flag.StringVar(&runMode, "mode", "consume", "Benchmark mode: enqueue, consume, or mixed")
	flag.IntVar(&cfg.events, "events", defaultEvents, "Number of events to produce")
	flag.IntVar(&cfg.workers, "workers", defaultWorkers, "Runner workers")
	flag.IntVar(&cfg.producers, "producers", defaultProducers, "Concurrent producers")
	flag.IntVar(&cfg.batchSize, "batch-size", defaultBatchSize, "Items claimed per poll")
	flag.IntVar(&cfg.payloadBytes, "payload-bytes", defaultPayloadBytes, "Payload size in bytes")
	flag.Float64Var(&cfg.failRate, "fail-rate", 0, "Fraction of handled items that fail (0..1)")
	flag.IntVar(&cfg.maxRetries, "max-retries", 0, "Retry budget stamped on events (0 uses the store default)")
	flag.DurationVar(&cfg.duration, "duration", 0, "Mixed mode production window (0 uses -events)")
	flag.DurationVar(&cfg.drainTimeout, "drain-timeout", defaultDrainTimeout, "Time to wait for the queue to drain")
	flag.Int64Var(&cfg.seed, "seed", 1, "Random seed for failure injection")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	flag.BoolVar(&cfg.reset, "reset", true, "Drop and recreate the tables")
	flag.BoolVar(&cfg.jsonOut, "json", false, "Print JSON result")
	flag.Parse()

	if cfg.dsn == "" {
		fmt.Fprintln(os.Stderr, errDSNRequired)
		flag.Usage()
		os.Exit(exitUsage)
	}
	benchMode, err := parseMode(runMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	cfg.runMode = benchMode
	if cfg.failRate < 0 || cfg.failRate > 1 {
		fmt.Fprintln(os.Stderr, errInvalidFailRate)
		os.Exit(exitUsage)
	}
	if cfg.events <= 0 && cfg.runMode != modeMixed {
		fmt.Fprintln(os.Stderr, errInvalidEvents)
		os.Exit(exitUsage)
	}

	res, err := run(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.jsonOut {
		if err := json.NewEncoder(os.Stdout).Encode(res); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		return
	}
	printResult(res)
}

func run(cfg benchConfig) (result, error) {
	if cfg.producers <= 0 {
		cfg.producers = defaultProducers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := storeconn.Open(ctx, storeconn.Config{
		Driver:     cfg.driver,
		DSN:        cfg.dsn,
		Table:      cfg.table,
		MaxRetries: cfg.maxRetries,
	})
	if err != nil {
		return result{}, fmt.Errorf("open store: %w", err)
	}
	defer conn.Close()

	if cfg.reset {
		if err := resetTables(ctx, conn); err != nil {
			return result{}, err
		}
	}

	exported := eventq.Metrics(eventq.NopMetrics{})
	if cfg.metricsAddr != "" {
		promMetrics := prom.NewMetrics()
		exported = promMetrics
		go serveMetrics(cfg.metricsAddr, promMetrics)
	}

	switch cfg.runMode {
	case modeEnqueue:
		return runEnqueue(ctx, conn, cfg)
	case modeConsume:
		return runConsume(ctx, conn, cfg, exported)
	default:
		return runMixed(ctx, conn, cfg, exported)
	}
}

func runEnqueue(ctx context.Context, conn *storeconn.Conn, cfg benchConfig) (result, error) {
	payload := buildPayload(cfg.payloadBytes)

	start := time.Now()
	produced, err := produceEvents(ctx, conn.Store, cfg, payload, cfg.events)
	duration := time.Since(start)
	if err != nil {
		return result{}, fmt.Errorf("produce: %w", err)
	}

	return result{
		Mode:         modeEnqueue,
		Events:       cfg.events,
		Produced:     produced,
		Duration:     duration,
		Throughput:   throughput(produced, duration),
		Producers:    cfg.producers,
		PayloadBytes: len(payload),
	}, nil
}

func runConsume(ctx context.Context, conn *storeconn.Conn, cfg benchConfig, exported eventq.Metrics) (result, error) {
	payload := buildPayload(cfg.payloadBytes)
	produced, err := produceEvents(ctx, conn.Store, cfg, payload, cfg.events)
	if err != nil {
		return result{}, fmt.Errorf("seed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := newBenchMetrics(produced, cancel, exported)
	decider := newFailDecider(cfg.failRate, cfg.seed)
	handler := eventq.HandlerFunc(func(context.Context, eventq.Item) error {
		if decider.fail() {
			return errInjectedFailure
		}

		return nil
	})

	start := time.Now()
	err = newRunner(conn, cfg, handler, metrics).Run(runCtx)
	duration := time.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) {
		return result{}, err
	}
	if err := ctx.Err(); err != nil {
		return result{}, err
	}
	if settled := metrics.Settled(); settled < produced {
		return result{}, fmt.Errorf("%w: settled %d of %d", errSettledMismatch, settled, produced)
	}

	return buildResult(modeConsume, cfg, produced, duration, metrics, nil), nil
}

func runMixed(ctx context.Context, conn *storeconn.Conn, cfg benchConfig, exported eventq.Metrics) (result, error) {
	if cfg.duration <= 0 && cfg.events <= 0 {
		return result{}, errMixedConfig
	}
	payload := buildPayload(cfg.payloadBytes)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := newBenchMetrics(0, nil, exported)
	latency := &durationStats{}
	decider := newFailDecider(cfg.failRate, cfg.seed)
	handler := eventq.HandlerFunc(func(_ context.Context, item eventq.Item) error {
		if decider.fail() {
			return errInjectedFailure
		}
		if d := time.Since(item.CreatedAt); d > 0 {
			latency.Record(d)
		}

		return nil
	})

	runnerErr := make(chan error, 1)
	go func() {
		runnerErr <- newRunner(conn, cfg, handler, metrics).Run(runCtx)
	}()

	start := time.Now()
	produceCtx := ctx
	produceCancel := func() {}
	total := cfg.events
	if cfg.duration > 0 {
		produceCtx, produceCancel = context.WithTimeout(ctx, cfg.duration)
		total = 0
	}
	produced, err := produceEvents(produceCtx, conn.Store, cfg, payload, total)
	produceCancel()
	if err != nil {
		cancel()
		<-runnerErr

		return result{}, fmt.Errorf("produce: %w", err)
	}

	if err := drain(ctx, metrics, produced, cfg.drainTimeout); err != nil {
		cancel()
		<-runnerErr

		return result{}, err
	}
	duration := time.Since(start)

	cancel()
	if err := <-runnerErr; err != nil && !errors.Is(err, context.Canceled) {
		return result{}, err
	}

	return buildResult(modeMixed, cfg, produced, duration, metrics, latency), nil
}

// produceEvents enqueues up to total events across cfg.producers
// goroutines. A total of zero produces until ctx ends.
func produceEvents(ctx context.Context, store eventq.Store, cfg benchConfig, payload json.RawMessage, total int) (int64, error) {
	var tickets atomic.Int64
	var produced atomic.Int64
	var wg sync.WaitGroup
	errCh := make(chan error, cfg.producers)

	for i := 0; i < cfg.producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				n := tickets.Add(1)
				if total > 0 && n > int64(total) {
					return
				}
				if _, err := store.Enqueue(ctx, benchEvent(n, payload)); err != nil {
					if ctx.Err() != nil {
						return
					}
					errCh <- err

					return
				}
				produced.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return produced.Load(), err
	}

	return produced.Load(), nil
}

func benchEvent(n int64, payload json.RawMessage) eventq.Event {
	sources := eventq.Sources()

	return eventq.Event{
		Source:     sources[int(n)%len(sources)],
		EventType:  "bench.created",
		ExternalID: uuid.NewString(),
		Payload:    payload,
	}
}

func newRunner(conn *storeconn.Conn, cfg benchConfig, handler eventq.Handler, metrics eventq.Metrics) *eventq.Runner {
	return eventq.NewRunner(conn.Store, handler,
		eventq.WithWorkers(cfg.workers),
		eventq.WithBatchSize(cfg.batchSize),
		eventq.WithPollInterval(benchPollInterval),
		eventq.WithMetrics(metrics),
		eventq.WithWorkerID("bench-"+uuid.NewString()[:8]),
	)
}

func drain(ctx context.Context, metrics *benchMetrics, produced int64, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for metrics.Settled() < produced {
		select {
		case <-drainCtx.Done():
			return fmt.Errorf("eventq-bench: drain timeout, settled %d of %d: %w",
				metrics.Settled(), produced, drainCtx.Err())
		default:
			time.Sleep(drainPoll)
		}
	}

	return nil
}

func resetTables(ctx context.Context, conn *storeconn.Conn) error {
	for _, table := range []string{conn.Table(), conn.CheckpointTable()} {
		if err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	schemas, err := conn.Schemas()
	if err != nil {
		return err
	}
	for _, stmt := range schemas {
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	return nil
}

func buildResult(m mode, cfg benchConfig, produced int64, duration time.Duration, metrics *benchMetrics, latency *durationStats) result {
	res := result{
		Mode:         m,
		Events:       cfg.events,
		Produced:     produced,
		Completed:    metrics.completed.Load(),
		Retried:      metrics.retried.Load(),
		DeadLettered: metrics.dead.Load(),
		Duration:     duration,
		Throughput:   throughput(metrics.Settled(), duration),
		Workers:      cfg.workers,
		Producers:    cfg.producers,
		BatchSize:    cfg.batchSize,
		PayloadBytes: cfg.payloadBytes,
		FailRate:     cfg.failRate,
	}

	batchSnap := metrics.batch.Snapshot()
	res.BatchP50Ms = msFloat(batchSnap.P50)
	res.BatchP95Ms = msFloat(batchSnap.P95)
	res.BatchP99Ms = msFloat(batchSnap.P99)
	res.BatchSamples = batchSnap.Count

	if latency != nil {
		latSnap := latency.Snapshot()
		res.LatencyP50Ms = msFloat(latSnap.P50)
		res.LatencyP95Ms = msFloat(latSnap.P95)
		res.LatencyP99Ms = msFloat(latSnap.P99)
		res.LatencyMaxMs = msFloat(latSnap.Max)
		res.LatencyMeanMs = msFloat(latSnap.Mean)
		res.LatencySamples = latSnap.Count
	}

	return res
}

func printResult(res result) {
	fmt.Printf(
		"RESULT mode=%s events=%d produced=%d completed=%d retried=%d dead=%d "+
			"duration=%s throughput=%.0f/s workers=%d producers=%d batch=%d payload=%dB fail_rate=%.2f\n",
		res.Mode,
		res.Events,
		res.Produced,
		res.Completed,
		res.Retried,
		res.DeadLettered,
		res.Duration.Truncate(time.Millisecond),
		res.Throughput,
		res.Workers,
		res.Producers,
		res.BatchSize,
		res.PayloadBytes,
		res.FailRate,
	)
	if res.LatencySamples > 0 {
		fmt.Printf("LATENCY p50=%.1fms p95=%.1fms p99=%.1fms max=%.1fms mean=%.1fms samples=%d\n",
			res.LatencyP50Ms, res.LatencyP95Ms, res.LatencyP99Ms, res.LatencyMaxMs, res.LatencyMeanMs, res.LatencySamples)
	}
	if res.BatchSamples > 0 {
		fmt.Printf("BATCH p50=%.1fms p95=%.1fms p99=%.1fms samples=%d\n",
			res.BatchP50Ms, res.BatchP95Ms, res.BatchP99Ms, res.BatchSamples)
	}
}

func serveMetrics(addr string, metrics *prom.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "eventq-bench: metrics server failed: %v\n", err)
	}
}

// benchMetrics counts dispositions and cancels the runner once every
// produced event settled (completed, scheduled for retry, or dead).
// All calls forward to next so -metrics-addr exposes live counters.
type benchMetrics struct {
	completed atomic.Int64
	retried   atomic.Int64
	dead      atomic.Int64
	errs      atomic.Int64
	target    int64
	cancel    context.CancelFunc
	batch     durationStats
	next      eventq.Metrics
}

func newBenchMetrics(target int64, cancel context.CancelFunc, next eventq.Metrics) *benchMetrics {
	if next == nil {
		next = eventq.NopMetrics{}
	}

	return &benchMetrics{target: target, cancel: cancel, next: next}
}

func (m *benchMetrics) ObserveBatchDuration(d time.Duration) {
	m.batch.Record(d)
	m.next.ObserveBatchDuration(d)
}

func (m *benchMetrics) AddCompleted(n int) {
	m.completed.Add(int64(n))
	m.next.AddCompleted(n)
	m.maybeCancel()
}

func (m *benchMetrics) AddErrors(n int) {
	m.errs.Add(int64(n))
	m.next.AddErrors(n)
}

func (m *benchMetrics) AddRetried(n int) {
	m.retried.Add(int64(n))
	m.next.AddRetried(n)
	m.maybeCancel()
}

func (m *benchMetrics) AddDeadLettered(n int) {
	m.dead.Add(int64(n))
	m.next.AddDeadLettered(n)
	m.maybeCancel()
}

func (m *benchMetrics) AddReclaimed(n int) { m.next.AddReclaimed(n) }

func (m *benchMetrics) AddSwept(n int) { m.next.AddSwept(n) }

func (m *benchMetrics) SetQueueDepth(source eventq.Source, status eventq.Status, count int64) {
	m.next.SetQueueDepth(source, status, count)
}

// Settled counts first dispositions: completions plus retry schedules plus
// dead letters.
func (m *benchMetrics) Settled() int64 {
	return m.completed.Load() + m.retried.Load() + m.dead.Load()
}

func (m *benchMetrics) maybeCancel() {
	if m.target > 0 && m.cancel != nil && m.Settled() >= m.target {
		m.cancel()
	}
}

type failDecider struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

func newFailDecider(rate float64, seed int64) *failDecider {
	// #nosec G404 -- deterministic RNG for failure injection.
	return &failDecider{rng: rand.New(rand.NewSource(seed)), rate: rate}
}

func (f *failDecider) fail() bool {
	if f.rate <= 0 {
		return false
	}
	if f.rate >= 1 {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.rng.Float64() < f.rate
}

type durationStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (s *durationStats) Record(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, d)
	s.mu.Unlock()
}

type statsSnapshot struct {
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

func (s *durationStats) Snapshot() statsSnapshot {
	s.mu.Lock()
	samples := append([]time.Duration(nil), s.samples...)
	s.mu.Unlock()
	if len(samples) == 0 {
		return statsSnapshot{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return statsSnapshot{
		P50:   percentile(samples, percentileP50),
		P95:   percentile(samples, percentileP95),
		P99:   percentile(samples, percentileP99),
		Max:   samples[len(samples)-1],
		Mean:  meanDuration(samples),
		Count: len(samples),
	}
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	return samples[idx]
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}

	return sum / time.Duration(len(samples))
}

func throughput(count int64, duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	return float64(count) / duration.Seconds()
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func buildPayload(size int) json.RawMessage {
	const frame = `{"data":""}`
	dataSize := size - len(frame)
	if dataSize < 0 {
		dataSize = 0
	}
	data := make([]byte, dataSize)
	for i := range data {
		data[i] = 'a'
	}

	return json.RawMessage(fmt.Sprintf(`{"data":%q}`, string(data)))
}

func parseMode(value string) (mode, error) {
	switch value {
	case "enqueue":
		return modeEnqueue, nil
	case "consume":
		return modeConsume, nil
	case "mixed":
		return modeMixed, nil
	default:
		return "", fmt.Errorf("%w: %s", errInvalidMode, value)
	}
}
