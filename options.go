package eventq

import "time"

const (
	defaultBatchSize      = 25
	defaultPollInterval   = time.Second
	defaultWorkers        = 1
	defaultHealthInterval = 0
)

// RunnerConfig defines how the Runner claims and processes items.
type RunnerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	Workers           int
	Source            Source
	WorkerID          string
	Clock             Clock
	ErrorHandler      ErrorHandler
	Logger            Logger
	Metrics           Metrics
	FailureClassifier FailureClassifier
	HandlerTimeout    time.Duration
	HealthInterval    time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.WorkerID == "" {
		c.WorkerID = NewWorkerID()
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = defaultFailureClassifier
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}

	return c
}

// RunnerOption configures Runner behavior.
type RunnerOption func(*RunnerConfig)

// WithBatchSize sets the number of items claimed per poll.
func WithBatchSize(size int) RunnerOption {
	return func(c *RunnerConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(interval time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		c.PollInterval = interval
	}
}

// WithWorkers sets the number of concurrent polling workers.
func WithWorkers(count int) RunnerOption {
	return func(c *RunnerConfig) {
		c.Workers = count
	}
}

// WithSource restricts the runner to items from one producing system.
func WithSource(source Source) RunnerOption {
	return func(c *RunnerConfig) {
		c.Source = source
	}
}

// WithWorkerID sets the base worker identity stamped on claims.
func WithWorkerID(id string) RunnerOption {
	return func(c *RunnerConfig) {
		c.WorkerID = id
	}
}

// WithClock sets the runner clock.
func WithClock(clock Clock) RunnerOption {
	return func(c *RunnerConfig) {
		c.Clock = clock
	}
}

// WithErrorHandler registers a callback for handler failures.
func WithErrorHandler(handler ErrorHandler) RunnerOption {
	return func(c *RunnerConfig) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger Logger) RunnerOption {
	return func(c *RunnerConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the runner metrics recorder.
func WithMetrics(metrics Metrics) RunnerOption {
	return func(c *RunnerConfig) {
		c.Metrics = metrics
	}
}

// WithFailureClassifier sets the failure classifier for retry/dead-letter decisions.
func WithFailureClassifier(classifier FailureClassifier) RunnerOption {
	return func(c *RunnerConfig) {
		c.FailureClassifier = classifier
	}
}

// WithHandlerTimeout sets a per-item handler timeout.
func WithHandlerTimeout(timeout time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		c.HandlerTimeout = timeout
	}
}

// WithHealthInterval sets the minimum interval between health samples
// pushed to the metrics recorder. Use a positive value to enable sampling
// or zero to keep it disabled. The default is disabled.
func WithHealthInterval(interval time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		c.HealthInterval = interval
	}
}
