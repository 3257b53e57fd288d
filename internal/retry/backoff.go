package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries int           `json:"max_retries" koanf:"max_retries"` // Retry attempts after the first call
	BaseDelay  time.Duration `json:"base_delay" koanf:"base_delay"`   // Delay before the first retry
	MaxDelay   time.Duration `json:"max_delay" koanf:"max_delay"`     // Upper bound on a single delay, 0 for none
	Multiplier float64       `json:"multiplier" koanf:"multiplier"`   // Exponential backoff multiplier
	Jitter     bool          `json:"jitter" koanf:"jitter"`           // Spread delays by up to 10%
	LogRetries bool          `json:"log_retries" koanf:"log_retries"` // Whether to log retry attempts
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
	Aborted       bool          `json:"aborted"`        // Whether a permanent error stopped the loop early
	RetryReasons  []string      `json:"retry_reasons"`  // Reasons for each failed attempt
}

// RepositoryRetryConfig returns the profile used for raw file fetches:
// three attempts in total, sleeping 2^attempt seconds between them.
func RepositoryRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   8 * time.Second,
		Multiplier: 2.0,
		Jitter:     false,
		LogRetries: true,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. The retry loop stops immediately and
// reports the wrapped error as LastError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoffAndReason executes an operation with exponential backoff retry logic and custom reason tracking
func RetryWithBackoffAndReason(ctx context.Context, config RetryConfig, operation func() (error, string), logger *zerolog.Logger) RetryResult {
	startTime := time.Now()
	logging := config.LogRetries && logger != nil

	result := RetryResult{
		Attempts:     0,
		Success:      false,
		RetryReasons: make([]string, 0),
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if logging && attempt > 0 {
			logger.Debug().Int("attempt", attempt+1).Int("max_attempts", config.MaxRetries+1).Msg("retrying operation")
		}

		err, reason := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if logging && attempt > 0 {
				logger.Debug().Int("retries", attempt).Dur("total_duration", result.TotalDuration).Msg("operation succeeded after retries")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		var perm *permanentError
		if errors.As(err, &perm) {
			result.LastError = perm.err
			result.Aborted = true
			result.TotalDuration = time.Since(startTime)
			if logging {
				logger.Debug().Err(perm.err).Int("attempt", attempt+1).Msg("operation failed with non-retryable error")
			}
			return result
		}

		if attempt >= config.MaxRetries {
			result.TotalDuration = time.Since(startTime)
			if logging {
				logger.Warn().Err(err).Int("attempts", result.Attempts).Dur("total_duration", result.TotalDuration).Msg("operation failed after all attempts")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(config, attempt)
		if logging {
			logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("operation failed, backing off")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	// Unreachable: the loop always returns.
	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	// baseDelay * multiplier^attempt
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		// Up to 10% in either direction
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}
