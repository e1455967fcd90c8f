package app

import (
	"time"

	"github.com/Howie774/onprompted/app/models"
)

// QuotaDecision is the outcome of evaluating an account against its quota at
// a point in time.
type QuotaDecision struct {
	Allowed    bool
	Plan       models.Plan
	Quota      int
	Usage      int
	NeedsReset bool
}

// EvaluateQuota decides whether one more prompt is allowed for the account.
// It is a pure function: no side effects, deterministic for a given account
// and clock reading. The stored quota wins for enforcement; the plan table is
// only the fallback when no quota has been stored yet. Once the cycle window
// has elapsed the decision treats usage as zero and reports NeedsReset so the
// caller can persist the rollover.
func EvaluateQuota(acct models.Account, now time.Time) QuotaDecision {
	plan := acct.Plan
	if plan == "" {
		plan = models.PlanFree
	}

	quota := acct.Quota
	if quota <= 0 {
		quota = models.PlanQuota(plan)
	}

	usage := acct.Usage
	needsReset := false
	if !acct.CycleStart.IsZero() && now.Sub(acct.CycleStart) > models.CycleWindow {
		needsReset = true
		usage = 0
	}

	return QuotaDecision{
		Allowed:    usage < quota,
		Plan:       plan,
		Quota:      quota,
		Usage:      usage,
		NeedsReset: needsReset,
	}
}
