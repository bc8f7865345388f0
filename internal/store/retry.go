package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/metrics"
)

// RetryPolicy bounds retries of transient persistence failures.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration // multiplied by the attempt number
}

// DefaultRetry makes three attempts with 200ms, then 400ms between them.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 200 * time.Millisecond}

// Transient reports whether err is a SQLite condition worth retrying.
// Constraint violations and cancellations never are.
func Transient(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR:
		return true
	}
	return false
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// ErrNotFound passes through untouched; every other failure comes back as
// a *memory.StoreError.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("store: transient failure, retrying")
			select {
			case <-time.After(p.Backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return &memory.StoreError{Op: op, Err: ctx.Err()}
			}
		}

		err = fn()
		if err == nil || errors.Is(err, memory.ErrNotFound) {
			return err
		}
		if !Transient(err) {
			break
		}
	}

	metrics.StoreErrors.WithLabelValues(op).Inc()
	return &memory.StoreError{Op: op, Err: err, Retryable: Transient(err)}
}
