package shell

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultMaxDelay     = time.Second
	defaultJitterFactor = 0.3

	// RetriesMetric counts retried attempts per command type.
	RetriesMetric = "commandhandler_retries_total"

	// RetryDelayMetric records the backoff delay before each retry.
	RetryDelayMetric = "commandhandler_retry_delay_seconds"

	// MaxRetriesReachedMetric counts commands that still conflicted after the last attempt.
	MaxRetriesReachedMetric = "commandhandler_max_retries_reached_total"

	labelCommandType    = "command_type"
	labelAttemptNumber  = "attempt_number"
	labelFinalErrorType = "final_error_type"

	logMsgRetrying = "retrying command after concurrency conflict"
	logAttrAttempt = "attempt"
	logAttrDelayMS = "delay_ms"
)

var (
	// ErrNilMetricsCollector is returned when a nil metrics collector is provided to WithMetrics.
	ErrNilMetricsCollector = errors.New("metrics collector must not be nil")

	// ErrEmptyCommandType is returned when an empty command type is provided to WithMetrics.
	ErrEmptyCommandType = errors.New("command type must not be empty")

	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// RetryableFunc is one complete attempt: load, decide, save.
// It must reload the aggregate on every call, an instance that failed to save is stale.
type RetryableFunc func(ctx context.Context) error

// RetryResult describes how a retried call went.
type RetryResult struct {
	Attempts   int
	TotalDelay time.Duration
}

type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64
	metrics      eventstore.MetricsCollector
	logger       eventstore.Logger
	commandType  string
}

// RetryOnConflict runs fn and runs it again with exponential backoff as long as it fails with
// eventstore.ErrConcurrencyConflict, up to the configured number of attempts.
//
// Retry Schedule (default): 0 ms, 10 ms, 20 ms, 40 ms, 80 ms, 160 ms (with 30% jitter)
//
// Every other error fails fast and is returned unmodified, including context errors and
// eventstore.ErrDuplicateCommit. Retrying a duplicate commit with the same commit id can never succeed.
func RetryOnConflict(ctx context.Context, fn RetryableFunc, options ...RetryOption) (RetryResult, error) {
	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		maxDelay:     defaultMaxDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return RetryResult{}, err
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = config.baseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = config.jitterFactor
	policy.MaxInterval = config.maxDelay

	result := RetryResult{}
	var lastErr error

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		result.Attempts++

		lastErr = fn(ctx)
		if lastErr == nil || !isRetryableError(lastErr) {
			return struct{}{}, backoff.Permanent(lastErr)
		}

		return struct{}{}, lastErr
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(config.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			result.TotalDelay += delay
			config.recordRetry(ctx, result.Attempts, delay)
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	if err != nil && isRetryableError(err) {
		config.recordMaxRetriesReached(ctx, err)
	}

	return result, err
}

func (config *retryConfig) recordRetry(ctx context.Context, attempt int, delay time.Duration) {
	if config.logger != nil {
		config.logger.Info(
			logMsgRetrying,
			labelCommandType, config.commandType,
			logAttrAttempt, attempt,
			logAttrDelayMS, delay.Milliseconds(),
		)
	}

	if config.metrics == nil {
		return
	}

	labels := map[string]string{
		labelCommandType:   config.commandType,
		labelAttemptNumber: strconv.Itoa(attempt),
	}

	if contextual, ok := config.metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, RetriesMetric, labels)
		contextual.RecordDurationContext(ctx, RetryDelayMetric, delay, labels)

		return
	}

	config.metrics.IncrementCounter(RetriesMetric, labels)
	config.metrics.RecordDuration(RetryDelayMetric, delay, labels)
}

func (config *retryConfig) recordMaxRetriesReached(ctx context.Context, lastErr error) {
	if config.metrics == nil {
		return
	}

	labels := map[string]string{
		labelCommandType:    config.commandType,
		labelFinalErrorType: errorType(lastErr),
	}

	if contextual, ok := config.metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, MaxRetriesReachedMetric, labels)
		return
	}

	config.metrics.IncrementCounter(MaxRetriesReachedMetric, labels)
}

// isRetryableError determines if an error should be retried.
// Only concurrency conflicts are; a timeout retried during overload makes the overload worse.
func isRetryableError(err error) bool {
	return errors.Is(err, eventstore.ErrConcurrencyConflict)
}

func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context_deadline_exceeded"
	default:
		return "other"
	}
}

// RetryOption configures retry behavior using the functional options pattern.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets the maximum number of attempts, the first one included.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		config.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
// Actual delays: baseDelay, baseDelay*2, baseDelay*4, baseDelay*8, etc.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		config.baseDelay = delay
		if config.maxDelay < delay {
			config.maxDelay = delay
		}

		return nil
	}
}

// WithJitterFactor sets the jitter factor to prevent thundering herd problems.
// Valid range: 0.0 (no jitter) to 1.0 (100% jitter).
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		config.jitterFactor = factor

		return nil
	}
}

// WithMetrics sets the metrics collector for retry instrumentation.
// Requires commandType to properly label metrics.
func WithMetrics(collector eventstore.MetricsCollector, commandType string) RetryOption {
	return func(config *retryConfig) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		if commandType == "" {
			return ErrEmptyCommandType
		}

		config.metrics = collector
		config.commandType = commandType

		return nil
	}
}

// WithLogger logs every retry at info level.
func WithLogger(logger eventstore.Logger) RetryOption {
	return func(config *retryConfig) error {
		config.logger = logger
		return nil
	}
}
