// Package errors defines the failure classes used across the sync engine.
//
// Outbound calls are classified into transient failures (worth retrying),
// permanent failures (never retried), quota signals (absorbed by the rate
// limiter as delay), and cache-store failures (fatal for the run).
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TransientError marks a failure that may succeed on retry: timeouts,
// 5xx responses, dropped connections.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e == nil {
		return "transient error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: validation
// rejections and other 4xx responses.
type PermanentError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e == nil {
		return "permanent error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: permanent failure: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: permanent failure: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// QuotaError signals that the remote side rejected the request for rate
// reasons. It never surfaces in a run report: callers feed RetryAfter to the
// rate limiter and treat the item as retryable.
type QuotaError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *QuotaError) Error() string {
	if e == nil {
		return "quota exceeded"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: quota exceeded, retry after %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("%s: quota exceeded", e.Op)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// CacheError marks a change-cache store failure. The run must abort rather
// than risk re-pushing everything or silently marking records synced.
type CacheError struct {
	Op         string
	Collection string
	Err        error
}

func (e *CacheError) Error() string {
	if e == nil {
		return "cache error"
	}
	if e.Collection != "" {
		return fmt.Sprintf("cache %s: collection %q: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ErrNotAttempted marks items whose chunk never started because the run was
// cancelled or hit its deadline first.
var ErrNotAttempted = errors.New("not attempted")

// As re-exports the standard helper so callers need a single errors import.
func As(err error, target any) bool { return errors.As(err, target) }

// Is re-exports the standard helper so callers need a single errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// New re-exports the standard helper so callers need a single errors import.
func New(text string) error { return errors.New(text) }

// IsTransient reports whether err is worth retrying. Quota signals count as
// transient: the retry will block on the limiter's cooldown instead of
// hammering the remote side.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var qe *QuotaError
	if errors.As(err, &qe) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err must never be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsQuota reports whether err carries a rate-limit rejection, returning the
// suggested cooldown when the remote side provided one.
func IsQuota(err error) (time.Duration, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) && qe != nil {
		return qe.RetryAfter, true
	}
	return 0, false
}

// IsCache reports whether err originated in the change-cache store.
func IsCache(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}

// IsNotAttempted reports whether err marks an item whose chunk never ran.
func IsNotAttempted(err error) bool {
	return errors.Is(err, ErrNotAttempted)
}

// FromStatus classifies an HTTP response status into the taxonomy.
// retryAfter applies only to 429 responses and may be zero.
func FromStatus(op string, statusCode int, retryAfter time.Duration, err error) error {
	if err == nil {
		err = fmt.Errorf("status %d", statusCode)
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &QuotaError{Op: op, RetryAfter: retryAfter, Err: err}
	case statusCode == http.StatusRequestTimeout:
		return &TransientError{Op: op, StatusCode: statusCode, Err: err}
	case statusCode >= 500:
		return &TransientError{Op: op, StatusCode: statusCode, Err: err}
	case statusCode >= 400:
		return &PermanentError{Op: op, StatusCode: statusCode, Err: err}
	default:
		return &PermanentError{Op: op, StatusCode: statusCode, Err: fmt.Errorf("unexpected status: %w", err)}
	}
}

// FromNetwork classifies a transport-level failure. Connection resets and
// timeouts are transient; everything else is wrapped transient as well since
// the request never reached the remote side.
func FromNetwork(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}
