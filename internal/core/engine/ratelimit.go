package engine

import (
	"context"
	"sync"
	"time"

	"github.com/syncrail/syncrail/internal/core"
)

// DefaultCooldown applies after a throttle response that carries no
// Retry-After hint.
const DefaultCooldown = 5 * time.Second

// Budget bounds the outbound request rate. MaxPerSecond is enforced by even
// pacing (one admission per second/MaxPerSecond), MaxPerWindow by a sliding
// coarse window. A server-declared limit tightens the coarse window but never
// below Floor.
type Budget struct {
	MaxPerSecond int
	MaxPerWindow int
	Window       time.Duration
	Floor        int
	Cooldown     time.Duration
}

// RateLimitStore persists observed budget state across runs.
type RateLimitStore interface {
	GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error
}

// RateLimiter admits outbound requests under a Budget. Acquire blocks until a
// slot is free and releases concurrent callers in arrival order. It never
// rejects on quota; the only error it returns is context cancellation.
//
// The limiter owns all budget state. Server-declared limits and throttle
// responses are fed in through the Report methods and, when a Store is set,
// persisted under Endpoint so later runs start from the observed budget.
type RateLimiter struct {
	Budget   Budget
	Endpoint string
	Store    RateLimitStore
	Clock    func() time.Time

	mu             sync.Mutex
	fine           []time.Time
	coarse         []time.Time
	declared       int
	remaining      int
	resetAt        time.Time
	cooldownUntil  time.Time
	lastThrottleAt time.Time
	waiters        []chan struct{}
}

// Acquire blocks the caller until a request slot is available. Waiting
// callers are granted slots in FIFO arrival order.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	turn := l.enqueue()
	select {
	case <-turn:
	case <-ctx.Done():
		l.abandon(turn)
		return ctx.Err()
	}

	for {
		now := l.now()
		admitted, next := l.tryAdmit(now)
		if admitted {
			return nil
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.abandon(turn)
			return ctx.Err()
		}
	}
}

// ReportServerLimit adopts a server-declared per-window limit. Values at or
// below zero are ignored; values below Floor are clamped by the window math.
func (l *RateLimiter) ReportServerLimit(ctx context.Context, limit int) error {
	if l == nil || limit <= 0 {
		return nil
	}

	l.mu.Lock()
	l.declared = limit
	l.mu.Unlock()

	return l.persist(ctx)
}

// ReportObserved records limit/remaining/reset values read from response
// headers. A depleted budget imposes a cooldown until the declared reset.
func (l *RateLimiter) ReportObserved(ctx context.Context, limit, remaining int, reset time.Time) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	if limit > 0 {
		l.declared = limit
	}
	l.remaining = remaining
	l.resetAt = reset
	if remaining <= 0 && reset.After(l.now()) && reset.After(l.cooldownUntil) {
		l.cooldownUntil = reset
	}
	l.mu.Unlock()

	return l.persist(ctx)
}

// ReportThrottle applies a cooldown after an HTTP 429-equivalent response,
// from the Retry-After hint when present, else the configured fixed backoff.
func (l *RateLimiter) ReportThrottle(ctx context.Context, retryAfter time.Duration) error {
	if l == nil {
		return nil
	}

	delay := retryAfter
	if delay <= 0 {
		delay = l.Budget.Cooldown
	}
	if delay <= 0 {
		delay = DefaultCooldown
	}

	l.mu.Lock()
	now := l.now()
	l.lastThrottleAt = now
	if until := now.Add(delay); until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}
	l.mu.Unlock()

	return l.persist(ctx)
}

// Load restores persisted budget state so a restart does not forget a
// tightened limit or an active cooldown.
func (l *RateLimiter) Load(ctx context.Context) error {
	if l == nil || l.Store == nil || l.Endpoint == "" {
		return nil
	}

	state, err := l.Store.GetRateLimit(ctx, l.Endpoint)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.declared = state.DeclaredLimit
	l.remaining = state.Remaining
	if state.ResetAt != nil {
		l.resetAt = *state.ResetAt
	}
	if state.CooldownUntil != nil && state.CooldownUntil.After(l.now()) {
		l.cooldownUntil = *state.CooldownUntil
	}
	if state.LastThrottleAt != nil {
		l.lastThrottleAt = *state.LastThrottleAt
	}

	return nil
}

// tryAdmit admits the head waiter when both windows and any cooldown allow
// it, recording the admission timestamp. Otherwise it returns the earliest
// instant worth re-checking.
func (l *RateLimiter) tryAdmit(now time.Time) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	interval := l.pacingInterval()
	windowed := l.Budget.Window > 0 && l.Budget.MaxPerWindow > 0

	next := now
	if l.cooldownUntil.After(next) {
		next = l.cooldownUntil
	}
	if interval > 0 {
		l.fine = pruneStamps(l.fine, now, interval)
		if t := nextFree(l.fine, 1, interval); t.After(next) {
			next = t
		}
	}
	if windowed {
		l.coarse = pruneStamps(l.coarse, now, l.Budget.Window)
		if t := nextFree(l.coarse, l.effectiveWindowLimit(), l.Budget.Window); t.After(next) {
			next = t
		}
	}

	if next.After(now) {
		return false, next
	}

	if interval > 0 {
		l.fine = append(l.fine, now)
	}
	if windowed {
		l.coarse = append(l.coarse, now)
	}
	l.popHeadLocked()
	return true, time.Time{}
}

func (l *RateLimiter) enqueue() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	turn := make(chan struct{})
	l.waiters = append(l.waiters, turn)
	if len(l.waiters) == 1 {
		close(turn)
	}
	return turn
}

// abandon removes a waiter that gave up. If it was the head, the next waiter
// is promoted.
func (l *RateLimiter) abandon(turn chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, w := range l.waiters {
		if w != turn {
			continue
		}
		l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
		if i == 0 && len(l.waiters) > 0 {
			close(l.waiters[0])
		}
		return
	}
}

func (l *RateLimiter) popHeadLocked() {
	if len(l.waiters) == 0 {
		return
	}
	l.waiters = l.waiters[1:]
	if len(l.waiters) > 0 {
		close(l.waiters[0])
	}
}

func (l *RateLimiter) pacingInterval() time.Duration {
	if l.Budget.MaxPerSecond <= 0 {
		return 0
	}
	return time.Second / time.Duration(l.Budget.MaxPerSecond)
}

// effectiveWindowLimit is min(configured, declared) clamped to Floor.
func (l *RateLimiter) effectiveWindowLimit() int {
	limit := l.Budget.MaxPerWindow
	if l.declared > 0 && l.declared < limit {
		limit = l.declared
	}
	if l.Budget.Floor > 0 && limit < l.Budget.Floor {
		limit = l.Budget.Floor
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (l *RateLimiter) persist(ctx context.Context) error {
	if l.Store == nil || l.Endpoint == "" {
		return nil
	}

	l.mu.Lock()
	state := &core.RateLimitState{
		DeclaredLimit: l.declared,
		Remaining:     l.remaining,
		UpdatedAt:     l.now(),
	}
	if !l.resetAt.IsZero() {
		reset := l.resetAt
		state.ResetAt = &reset
	}
	if !l.cooldownUntil.IsZero() {
		until := l.cooldownUntil
		state.CooldownUntil = &until
	}
	if !l.lastThrottleAt.IsZero() {
		at := l.lastThrottleAt
		state.LastThrottleAt = &at
	}
	l.mu.Unlock()

	return l.Store.UpdateRateLimit(ctx, l.Endpoint, state)
}

func (l *RateLimiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

// pruneStamps drops timestamps that have left the sliding window.
func pruneStamps(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}

// nextFree returns the instant the window regains capacity, or the zero time
// when a slot is already free.
func nextFree(stamps []time.Time, capacity int, window time.Duration) time.Time {
	if capacity <= 0 || len(stamps) < capacity {
		return time.Time{}
	}
	return stamps[len(stamps)-capacity].Add(window)
}
