// Package guard is the client side of the spending policy: a local guard that
// admits calls without a network round trip, a detached heartbeat dispatcher
// that reports every admitted call to the policy engine, and a Client that
// wraps a paid call with both.
package guard

import (
	"log/slog"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"SpendGuard/pkg/logger"
)

const (
	// MaxLocalRPS is the number of calls admitted per RateWindow.
	MaxLocalRPS = 5
	// RateWindow is the length of the sliding rate-limit window.
	RateWindow = time.Second
	// HistorySize is the number of response lengths kept for zombie detection.
	HistorySize = 10
	// ZombieMinSamples is the minimum history needed before a verdict.
	ZombieMinSamples = 5
	// ZombieStdDevThreshold is the response-length deviation below which an
	// agent is considered stuck.
	ZombieStdDevThreshold = 5.0
	// FailureThreshold is the number of consecutive transport failures that
	// opens the circuit.
	FailureThreshold = 3
	// Cooldown is how long the circuit stays open.
	Cooldown = 60 * time.Second
)

// Guard holds the per-agent local state. All methods are safe for concurrent
// use; every field is protected by one mutex.
type Guard struct {
	mu sync.Mutex

	now    func() time.Time
	logger *slog.Logger

	killSwitch          bool
	timestamps          []time.Time
	consecutiveFailures int
	circuitOpenUntil    time.Time
	trips               int
	history             []int
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger used for breaker transitions and zombie warnings.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// New returns a Guard with a closed circuit and empty history.
func New(opts ...Option) *Guard {
	g := &Guard{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.logger == nil {
		g.logger = logger.Named("guard")
	}
	return g
}

// Admit decides whether a call may proceed. Checks run in order: open
// circuit, cached kill decision, then the sliding rate window. Only an
// admitted call is added to the window.
func (g *Guard) Admit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.circuitOpenUntil) {
		return &CircuitTrippedError{Until: g.circuitOpenUntil, Remaining: g.circuitOpenUntil.Sub(now)}
	}
	if g.killSwitch {
		return &BudgetExceededError{Reason: ReasonLocalCache}
	}

	cutoff := now.Add(-RateWindow)
	drop := 0
	for drop < len(g.timestamps) && g.timestamps[drop].Before(cutoff) {
		drop++
	}
	g.timestamps = g.timestamps[drop:]
	if len(g.timestamps) >= MaxLocalRPS {
		return &BudgetExceededError{Reason: ReasonLocalRateLimit}
	}
	g.timestamps = append(g.timestamps, now)
	return nil
}

// RecordResponse appends the character length of text to the history.
func (g *Guard) RecordResponse(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, utf8.RuneCountInString(text))
	if over := len(g.history) - HistorySize; over > 0 {
		g.history = append(g.history[:0], g.history[over:]...)
	}
}

// IsZombie reports whether the recent responses are suspiciously uniform:
// at least ZombieMinSamples lengths with a population standard deviation
// below ZombieStdDevThreshold.
func (g *Guard) IsZombie() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.history) < ZombieMinSamples {
		return false
	}
	// n*sum(x^2) - sum(x)^2 is n^2 times the variance, exact in integers.
	n := int64(len(g.history))
	var sum, sumSq int64
	for _, v := range g.history {
		sum += int64(v)
		sumSq += int64(v) * int64(v)
	}
	scaled := n*sumSq - sum*sum
	limit := int64(ZombieStdDevThreshold * ZombieStdDevThreshold)
	if scaled >= limit*n*n {
		return false
	}
	g.logger.Warn("zombie detected",
		slog.Float64("std_dev", math.Sqrt(float64(scaled))/float64(n)),
		slog.Float64("threshold", ZombieStdDevThreshold),
		slog.Any("history", append([]int(nil), g.history...)))
	return true
}

// ObserveReachable records that the policy engine answered. killed marks an
// authoritative rejection; once set the kill switch stays set.
func (g *Guard) ObserveReachable(killed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveFailures = 0
	if killed && !g.killSwitch {
		g.killSwitch = true
		g.logger.Warn("policy engine rejected agent, local kill switch set")
	}
}

// ObserveTransportFailure counts a failed report and opens the circuit once
// FailureThreshold is reached. It returns true when this call opened it.
func (g *Guard) ObserveTransportFailure(err error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveFailures++
	g.logger.Error("heartbeat failed",
		slog.Int("consecutive_failures", g.consecutiveFailures),
		slog.Int("threshold", FailureThreshold),
		slog.Any("error", err))
	if g.consecutiveFailures < FailureThreshold {
		return false
	}
	g.circuitOpenUntil = g.now().Add(Cooldown)
	g.trips++
	g.logger.Error("circuit breaker tripped, policy engine unreachable",
		slog.Duration("cooldown", Cooldown),
		slog.Time("open_until", g.circuitOpenUntil))
	return true
}

// State is a point-in-time copy of the guard.
type State struct {
	Killed              bool
	ConsecutiveFailures int
	CircuitOpenUntil    time.Time
	CircuitTrips        int
	WindowSize          int
	History             []int
}

// Snapshot returns a copy of the current state.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Killed:              g.killSwitch,
		ConsecutiveFailures: g.consecutiveFailures,
		CircuitOpenUntil:    g.circuitOpenUntil,
		CircuitTrips:        g.trips,
		WindowSize:          len(g.timestamps),
		History:             append([]int(nil), g.history...),
	}
}
