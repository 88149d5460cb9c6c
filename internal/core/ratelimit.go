package core

import "time"

// RateLimitState captures the last observed upstream budget for an endpoint.
// It is persisted so a restart does not forget a tightened budget.
type RateLimitState struct {
	DeclaredLimit  int
	Remaining      int
	ResetAt        *time.Time
	CooldownUntil  *time.Time
	LastThrottleAt *time.Time
	UpdatedAt      time.Time
}
