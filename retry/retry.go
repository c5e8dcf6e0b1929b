// Package retry wraps upstream calls with exponential backoff. It is
// transport-agnostic: callers signal retryable failures by returning a
// StatusError; everything else passes through untouched.
package retry

import (
	"fmt"
	"math"
	"time"
)

type (
	// Config tunes the retry loop. The zero value is not usable; start from
	// DefaultConfig and override per provider.
	Config struct {
		MaxRetries    int     `yaml:"max_retries" json:"max_retries"`
		InitialDelayS float64 `yaml:"initial_delay_s" json:"initial_delay_s"`
		BackoffFactor float64 `yaml:"backoff_factor" json:"backoff_factor"`
		MaxDelayS     float64 `yaml:"max_delay_s" json:"max_delay_s"`
		RetryOn       []int   `yaml:"retry_on" json:"retry_on"`
	}

	// StatusError reports an upstream HTTP failure. RetryAfter carries the
	// parsed Retry-After header when the upstream sent one.
	StatusError struct {
		Status     int
		Body       string
		RetryAfter time.Duration
	}

	// RateLimitError reports a 429 that persisted through every retry.
	RateLimitError struct {
		Attempts int
	}

	// ExhaustedError reports a retryable status that persisted through every
	// retry.
	ExhaustedError struct {
		Attempts   int
		LastStatus int
		LastErr    error
	}
)

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelayS: 1.0,
		BackoffFactor: 2.0,
		MaxDelayS:     60.0,
		RetryOn:       []int{429, 500, 502, 503, 504},
	}
}

// Merge overlays non-zero fields of o onto c. Used to apply a provider YAML
// retry section over the defaults.
func (c Config) Merge(o Config) Config {
	if o.MaxRetries > 0 {
		c.MaxRetries = o.MaxRetries
	}
	if o.InitialDelayS > 0 {
		c.InitialDelayS = o.InitialDelayS
	}
	if o.BackoffFactor > 0 {
		c.BackoffFactor = o.BackoffFactor
	}
	if o.MaxDelayS > 0 {
		c.MaxDelayS = o.MaxDelayS
	}
	if len(o.RetryOn) > 0 {
		c.RetryOn = o.RetryOn
	}
	return c
}

// Retryable reports whether status is in the retry set.
func (c Config) Retryable(status int) bool {
	for _, s := range c.RetryOn {
		if s == status {
			return true
		}
	}
	return false
}

// Delay computes the wait before re-attempting. attempt is 1-based. A
// positive retryAfter overrides the computed backoff; both are capped at
// MaxDelayS.
func (c Config) Delay(attempt int, retryAfter time.Duration) time.Duration {
	max := time.Duration(c.MaxDelayS * float64(time.Second))
	if retryAfter > 0 {
		if retryAfter > max {
			return max
		}
		return retryAfter
	}
	d := c.InitialDelayS * math.Pow(c.BackoffFactor, float64(attempt-1))
	delay := time.Duration(d * float64(time.Second))
	if delay > max {
		return max
	}
	return delay
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream status %d", e.Status)
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit persisted after %d attempts", e.Attempts)
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts (last status %d): %v",
		e.Attempts, e.LastStatus, e.LastErr)
}

// Unwrap returns the last error observed before giving up.
func (e *ExhaustedError) Unwrap() error { return e.LastErr }
