package guard

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrBudgetExceeded = errors.New("guard: budget exceeded")
	ErrCircuitTripped = errors.New("guard: circuit breaker tripped")
)

// Local rejection reasons carried by BudgetExceededError.
const (
	ReasonLocalCache     = "local cache"
	ReasonLocalRateLimit = "local rate limit"
)

// BudgetExceededError is returned when the local guard refuses a call, either
// because the policy engine already killed the agent or because the local rate
// limit is saturated.
type BudgetExceededError struct {
	Reason string
}

func (e *BudgetExceededError) Error() string {
	switch e.Reason {
	case ReasonLocalCache:
		return "budget exceeded: agent is killed (local cache)"
	case ReasonLocalRateLimit:
		return fmt.Sprintf("budget exceeded: local rate limit (%d RPS)", MaxLocalRPS)
	default:
		return "budget exceeded: " + e.Reason
	}
}

// Is reports whether target is ErrBudgetExceeded.
func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }

// CircuitTrippedError is returned while the breaker is open after repeated
// failures to reach the policy engine.
type CircuitTrippedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *CircuitTrippedError) Error() string {
	return fmt.Sprintf("policy engine is down: cooldown active until %s, remaining %.1fs",
		e.Until.Format(time.RFC3339), e.Remaining.Seconds())
}

// Is reports whether target is ErrCircuitTripped.
func (e *CircuitTrippedError) Is(target error) bool { return target == ErrCircuitTripped }
