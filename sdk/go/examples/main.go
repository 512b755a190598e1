package main

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"SpendGuard/internal/api"
	"SpendGuard/internal/ledger"
	"SpendGuard/internal/policy"
	"SpendGuard/pkg/logger"
	"SpendGuard/sdk/go/guard"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dir, err := os.MkdirTemp("", "spendguard-demo")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)
	latencyPath := filepath.Join(dir, "latency.log")

	store := ledger.NewMemoryStore()
	if _, err := ledger.SeedAgents(ctx, store, []ledger.Seed{{AgentID: ledger.DefaultAgentID, Budget: 0.5}}, nil); err != nil {
		panic(err)
	}
	engine := policy.NewEngine(store,
		policy.WithLogger(logger.Discard()),
		policy.WithAuditLogger(logger.Discard()),
		policy.WithLatencyLog(latencyPath, 0),
	)
	srv := httptest.NewServer(api.NewServer(":0", engine, api.Options{Logger: logger.Discard()}).Handler(ctx))
	defer srv.Close()

	client, err := guard.NewClient(
		guard.WithPolicyEngineURL(srv.URL),
		guard.WithCaller(guard.EchoCaller{Delay: 10 * time.Millisecond}),
		guard.WithLatencyLog(latencyPath),
		guard.WithClientLogger(logger.Discard()),
	)
	if err != nil {
		panic(err)
	}
	defer client.Close()

	fmt.Println("== burst: the local rate limit admits 5 calls per second")
	for i := 1; i <= 7; i++ {
		_, err := client.Create(ctx, fmt.Sprintf("burst %d", i))
		report(i, err)
	}

	fmt.Println("== steady calls until the engine runs the budget dry")
	for i := 1; i <= 12; i++ {
		time.Sleep(250 * time.Millisecond)
		_, err := client.Create(ctx, fmt.Sprintf("step %02d", i))
		report(i, err)
		if errors.Is(err, guard.ErrBudgetExceeded) && client.Guard().Snapshot().Killed {
			break
		}
	}

	status, err := engine.Status(ctx, ledger.DefaultAgentID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("ledger: budget=%.2f remaining=%.2f spent=%.2f killed=%v\n",
		status.Budget, status.Remaining, status.Spent, status.Killed)
	fmt.Printf("resilience: %+v\n", engine.ResilienceStats(ctx))
	fmt.Printf("guard overhead: %+v\n", engine.LatencyStats())
	fmt.Printf("dropped heartbeats: %d\n", client.Dropped())
}

func report(i int, err error) {
	switch {
	case err == nil:
		fmt.Printf("  call %d admitted\n", i)
	case errors.Is(err, guard.ErrCircuitTripped):
		fmt.Printf("  call %d blocked by circuit breaker: %v\n", i, err)
	default:
		fmt.Printf("  call %d rejected: %v\n", i, err)
	}
}
