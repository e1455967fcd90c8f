// Package models defines plan, account, and usage tracking fields.
package models

import "time"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanAgency  Plan = "agency"
)

// CycleWindow is the rolling usage-accounting window. Usage resets lazily
// once the current time passes CycleStart by more than this.
const CycleWindow = 30 * 24 * time.Hour

// planQuotas maps each plan to its default per-cycle prompt allowance.
// The stored Account.Quota wins for enforcement; this table only seeds new
// accounts and backfills rows with no stored quota.
var planQuotas = map[Plan]int{
	PlanFree:    10,
	PlanStarter: 50,
	PlanPro:     500,
	PlanAgency:  5000,
}

// PlanQuota returns the default quota for a plan. Unknown plans fall back to
// the free allowance.
func PlanQuota(p Plan) int {
	if q, ok := planQuotas[p]; ok {
		return q
	}
	return planQuotas[PlanFree]
}

// Paid reports whether the plan is purchasable through checkout.
func (p Plan) Paid() bool {
	return p == PlanStarter || p == PlanPro || p == PlanAgency
}

// Account is the per-identity usage and billing record.
type Account struct {
	ID               string    `db:"id"`
	Email            string    `db:"email"`
	Plan             Plan      `db:"plan"`
	Usage            int       `db:"usage_count"`
	CycleStart       time.Time `db:"cycle_start"`
	Quota            int       `db:"quota"`
	StripeCustomerID string    `db:"stripe_customer_id"`
	SubscriptionID   string    `db:"subscription_id"`
}

// Transcript is one completed prompt-optimization run kept for history display.
type Transcript struct {
	Identity             string    `json:"-"`
	Goal                 string    `json:"goal"`
	ClarificationAnswers string    `json:"clarificationAnswers,omitempty"`
	FinalPrompt          string    `json:"finalPrompt"`
	CreatedAt            time.Time `json:"createdAt"`
}
