package entitlements

import "strings"

// Plan is the internal entitlement plan a subscriber ledger resolves to.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanTrial    Plan = "trial"
	PlanStarter  Plan = "starter"
	PlanBusiness Plan = "business"
)

// BillingCycle values stored on the ledger.
const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
	CycleUnknown = "unknown"
)

// Normalize maps arbitrary plan strings to a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanTrial):
		return PlanTrial
	case string(PlanStarter):
		return PlanStarter
	case string(PlanBusiness):
		return PlanBusiness
	default:
		return PlanFree
	}
}

// Rank orders plans so reconciliation can pick the best entitlement.
func Rank(plan Plan) int {
	switch plan {
	case PlanBusiness:
		return 3
	case PlanStarter:
		return 2
	case PlanTrial:
		return 1
	default:
		return 0
	}
}

// IsPaid reports whether a plan is billing-backed (trial is time-boxed, not paid).
func IsPaid(plan Plan) bool {
	return plan == PlanStarter || plan == PlanBusiness
}

func NormalizeCycle(cycle string) string {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case CycleMonthly, CycleYearly:
		return strings.ToLower(strings.TrimSpace(cycle))
	default:
		return CycleUnknown
	}
}
