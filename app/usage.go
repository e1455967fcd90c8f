package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Howie774/onprompted/app/models"
)

// QuotaError reports a denied consume attempt with the plan context the
// client needs to act on it.
type QuotaError struct {
	Plan  models.Plan
	Limit int
	Used  int
}

func (e QuotaError) Error() string {
	return fmt.Sprintf("plan %s quota exceeded (%d/%d used)", e.Plan, e.Used, e.Limit)
}

// Ledger is the transactional usage accountant. All usage mutation goes
// through its store's UpdateAccount, so two concurrent requests for the same
// identity serialize at the store and neither can act on a stale read.
type Ledger struct {
	store AccountStore
	now   func() time.Time
}

func NewLedger(store AccountStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Check evaluates the quota without consuming. It lazily creates the account
// on first contact. Used as the pre-flight gate before the model call and by
// the /me endpoint.
func (l *Ledger) Check(ctx context.Context, identity, email string) (models.Account, QuotaDecision, error) {
	acct, err := l.store.EnsureAccount(ctx, identity, email)
	if err != nil {
		return models.Account{}, QuotaDecision{}, err
	}
	return acct, EvaluateQuota(acct, l.now()), nil
}

// TryConsume atomically reads the account, evaluates the quota, and either
// records cost units of usage or denies with a QuotaError and no mutation.
// The cycle rollover is applied inside the same transaction when due.
func (l *Ledger) TryConsume(ctx context.Context, identity string, cost int) (models.Account, error) {
	return l.consume(ctx, identity, cost, false)
}

// Commit records cost units after a billable action has fully completed. It
// never denies: the pre-flight Check already gated the request, and a
// concurrent consumer exhausting the quota while the model call was in
// flight is an accepted bounded overrun rather than a reason to drop the
// charge for work already done.
func (l *Ledger) Commit(ctx context.Context, identity string, cost int) (models.Account, error) {
	return l.consume(ctx, identity, cost, true)
}

func (l *Ledger) consume(ctx context.Context, identity string, cost int, force bool) (models.Account, error) {
	if cost < 0 {
		cost = 0
	}
	now := l.now()

	return l.store.UpdateAccount(ctx, identity, func(acct *models.Account) error {
		dec := EvaluateQuota(*acct, now)
		if dec.NeedsReset || acct.CycleStart.IsZero() {
			acct.Usage = 0
			acct.CycleStart = now
		}
		if !force && acct.Usage+cost > dec.Quota {
			return QuotaError{Plan: dec.Plan, Limit: dec.Quota, Used: acct.Usage}
		}
		acct.Usage += cost
		return nil
	})
}
