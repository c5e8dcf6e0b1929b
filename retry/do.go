package retry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Tracker records the wall-clock times of observed 429 responses. It is an
// operational observable, reset on restart.
type Tracker struct {
	mu   sync.Mutex
	hits []time.Time
}

// Record appends the current time to the hit list.
func (t *Tracker) Record() {
	t.mu.Lock()
	t.hits = append(t.hits, time.Now())
	t.mu.Unlock()
}

// Count returns the number of recorded hits.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hits)
}

// Hits returns a copy of the recorded hit times, oldest first.
func (t *Tracker) Hits() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Time, len(t.hits))
	copy(out, t.hits)
	return out
}

// Do runs fn with retries per cfg. Retryable failures are StatusErrors whose
// status is in cfg.RetryOn; any other error returns immediately. Retried 429s
// are recorded in tracker when non-nil. On exhaustion Do returns a
// RateLimitError if the last status was 429, otherwise an ExhaustedError.
func Do(ctx context.Context, cfg Config, tracker *Tracker, fn func(context.Context) error) error {
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var se *StatusError
		if !errors.As(err, &se) || !cfg.Retryable(se.Status) {
			return err
		}
		lastStatus = se.Status
		lastErr = err
		if attempt > cfg.MaxRetries {
			break
		}
		if se.Status == 429 && tracker != nil {
			tracker.Record()
		}
		select {
		case <-time.After(cfg.Delay(attempt, se.RetryAfter)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if lastStatus == 429 {
		return &RateLimitError{Attempts: cfg.MaxRetries + 1}
	}
	return &ExhaustedError{Attempts: cfg.MaxRetries + 1, LastStatus: lastStatus, LastErr: lastErr}
}
