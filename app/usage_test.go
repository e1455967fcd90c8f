package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Howie774/onprompted/app/models"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	ledger := NewLedger(store)
	clock := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return clock }
	return ledger, store, &clock
}

func TestTryConsumeSequence(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		acct, err := ledger.TryConsume(ctx, "u1", 1)
		if err != nil {
			t.Fatalf("consume %d: unexpected error %v", i, err)
		}
		if acct.Usage != i {
			t.Fatalf("consume %d: usage = %d", i, acct.Usage)
		}
	}
}

func TestTryConsumeDeniedAtQuota(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := ledger.TryConsume(ctx, "u2", 1); err != nil {
			t.Fatalf("setup consume failed: %v", err)
		}
	}

	_, err := ledger.TryConsume(ctx, "u2", 1)
	var qerr QuotaError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if qerr.Limit != 10 || qerr.Used != 10 || qerr.Plan != models.PlanFree {
		t.Fatalf("unexpected quota error: %+v", qerr)
	}

	acct, err := store.GetAccount(ctx, "u2")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Usage != 10 {
		t.Fatalf("denied consume must not mutate usage, got %d", acct.Usage)
	}
}

func TestTryConsumeCycleReset(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := ledger.TryConsume(ctx, "u3", 1); err != nil {
			t.Fatalf("setup consume failed: %v", err)
		}
	}
	if _, err := ledger.TryConsume(ctx, "u3", 1); err == nil {
		t.Fatalf("expected denial at quota")
	}

	*clock = clock.Add(models.CycleWindow + time.Minute)

	acct, err := ledger.TryConsume(ctx, "u3", 1)
	if err != nil {
		t.Fatalf("consume after rollover: %v", err)
	}
	if acct.Usage != 1 {
		t.Fatalf("usage after rollover = %d, want 1", acct.Usage)
	}
	stored, _ := store.GetAccount(ctx, "u3")
	if !stored.CycleStart.Equal(*clock) {
		t.Fatalf("cycle start not advanced: %v", stored.CycleStart)
	}
}

func TestCommitAllowsBoundedOverrun(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := ledger.TryConsume(ctx, "u4", 1); err != nil {
			t.Fatalf("setup consume failed: %v", err)
		}
	}

	// A request that passed the pre-flight check while quota was still
	// available still gets charged after the fact.
	acct, err := ledger.Commit(ctx, "u4", 1)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if acct.Usage != 11 {
		t.Fatalf("usage after overrun commit = %d, want 11", acct.Usage)
	}

	stored, _ := store.GetAccount(ctx, "u4")
	if stored.Usage != 11 {
		t.Fatalf("stored usage = %d, want 11", stored.Usage)
	}
}

func TestCheckCreatesAccountLazily(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := store.GetAccount(ctx, "new-user"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected missing account, got %v", err)
	}

	acct, dec, err := ledger.Check(ctx, "new-user", "new@example.test")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !dec.Allowed || dec.Plan != models.PlanFree || dec.Quota != 10 {
		t.Fatalf("unexpected decision for new account: %+v", dec)
	}
	if acct.Email != "new@example.test" {
		t.Fatalf("email not captured: %q", acct.Email)
	}

	if _, err := store.GetAccount(ctx, "new-user"); err != nil {
		t.Fatalf("account should exist after Check: %v", err)
	}
}

func TestTryConsumeConcurrent(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()

	// Free account with 5 of 10 already used: exactly 5 of the 25
	// simultaneous requests may win.
	for i := 0; i < 5; i++ {
		if _, err := ledger.TryConsume(ctx, "u5", 1); err != nil {
			t.Fatalf("setup consume failed: %v", err)
		}
	}

	const callers = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
		denied   int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.TryConsume(ctx, "u5", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				consumed++
			case errors.As(err, &QuotaError{}):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if consumed != 5 || denied != 20 {
		t.Fatalf("consumed=%d denied=%d, want 5/20", consumed, denied)
	}
	acct, _ := store.GetAccount(ctx, "u5")
	if acct.Usage != 10 {
		t.Fatalf("final usage = %d, want 10", acct.Usage)
	}
}

func TestTryConsumeNegativeCost(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.TryConsume(ctx, "u6", -3); err != nil {
		t.Fatalf("negative cost should clamp to zero, got %v", err)
	}
	acct, _ := store.GetAccount(ctx, "u6")
	if acct.Usage != 0 {
		t.Fatalf("usage = %d, want 0", acct.Usage)
	}
}
