package ledger

import (
	"context"
	"testing"
	"time"

	xerrors "SpendGuard/internal/errors"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryStoreSetClearsTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	if ok, err := store.SetNX(ctx, "k", "a", time.Second); err != nil || !ok {
		t.Fatalf("unexpected setnx result: ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "k", "b"); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(time.Hour)
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || value != "b" {
		t.Fatalf("unexpected get: value=%q ok=%v err=%v", value, ok, err)
	}
}

func TestMemoryStoreIncrKeepsTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	if _, err := store.Incr(ctx, "n"); err != nil {
		t.Fatalf("incr: %v", err)
	}
	if ok, err := store.Expire(ctx, "n", time.Second); err != nil || !ok {
		t.Fatalf("unexpected expire: ok=%v err=%v", ok, err)
	}
	if n, err := store.Incr(ctx, "n"); err != nil || n != 2 {
		t.Fatalf("unexpected incr: got %d err %v want 2", n, err)
	}
	clock.Advance(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "n"); ok {
		t.Fatalf("expected key to expire after incr")
	}
}

func TestMemoryStoreRejectsNonNumeric(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "s", "abc")

	if _, err := store.Incr(ctx, "s"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected incr error: %v", err)
	}
	if _, err := store.IncrByFloat(ctx, "s", 1); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected incrbyfloat error: %v", err)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Close()
	if err := store.Ping(context.Background()); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("unexpected ping error after close: %v", err)
	}
	if _, _, err := store.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestQuantizeRemovesDrift(t *testing.T) {
	balance := 100.0
	for i := 0; i < 2000; i++ {
		balance = Quantize(balance - 0.05)
	}
	if balance != 0 {
		t.Fatalf("unexpected balance after 2000 deductions: got %v want 0", balance)
	}
	if got := FormatAmount(Quantize(100 - 0.05*3)); got != "99.85" {
		t.Fatalf("unexpected formatted amount: got %s want 99.85", got)
	}
}

func TestParseKilled(t *testing.T) {
	cases := map[string]bool{"true": true, " true ": true, "false": false, "": false, "TRUE": false, "1": false}
	for raw, want := range cases {
		if got := ParseKilled(raw); got != want {
			t.Fatalf("ParseKilled(%q): got %v want %v", raw, got, want)
		}
	}
}

func TestSeedAgentsOnlyWhenAbsent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	n, err := SeedAgents(ctx, store, []Seed{{AgentID: DefaultAgentID, Budget: DefaultBudget}, {AgentID: " "}}, nil)
	if err != nil || n != 1 {
		t.Fatalf("unexpected first seed: n=%d err=%v", n, err)
	}
	_ = store.Set(ctx, BalanceKey(DefaultAgentID), "42")
	_ = store.Set(ctx, KilledKey(DefaultAgentID), FormatKilled(true))

	n, err = SeedAgents(ctx, store, []Seed{{AgentID: DefaultAgentID, Budget: DefaultBudget}}, nil)
	if err != nil || n != 0 {
		t.Fatalf("unexpected reseed: n=%d err=%v", n, err)
	}
	balance, _, _ := store.Get(ctx, BalanceKey(DefaultAgentID))
	killed, _, _ := store.Get(ctx, KilledKey(DefaultAgentID))
	if balance != "42" || killed != "true" {
		t.Fatalf("existing record overwritten: balance=%s killed=%s", balance, killed)
	}
	spent, _, _ := store.Get(ctx, SpentKey(DefaultAgentID))
	if spent != "0" {
		t.Fatalf("unexpected spent: got %q want 0", spent)
	}
}
