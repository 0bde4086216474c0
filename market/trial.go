package market

import (
	"time"

	"hivecore/ledger"
)

// TrialCriteria parameterizes the pure trial-evaluation function: the
// minimum number of successful receipts and the maximum tolerated failure
// rate within the trial window, both contract-specific (spec.md §9: not
// core constants).
type TrialCriteria struct {
	MinSuccessCount int
	MaxFailureRate  float64 // in [0,1]
}

// SuccessPredicate reports whether r represents a successful execution, a
// caller-supplied projection since the Result map's keys are schema/action
// specific rather than fixed by this package.
type SuccessPredicate func(r ledger.Receipt) bool

// EvaluateTrial is spec.md §4.9's "pure function over the Receipt Ledger
// producing a Pass/Fail": given the receipts issued within [windowStart,
// windowEnd] for issuer, and criteria, it returns the TrialOutcome. It
// performs no I/O; callers supply the already-fetched receipt slice.
func EvaluateTrial(receipts []ledger.Receipt, issuer string, windowStart, windowEnd time.Time, isSuccess SuccessPredicate, criteria TrialCriteria) TrialOutcome {
	var total, successes int
	for _, r := range receipts {
		if r.Issuer != issuer {
			continue
		}
		if r.Timestamp.Before(windowStart) || r.Timestamp.After(windowEnd) {
			continue
		}
		total++
		if isSuccess(r) {
			successes++
		}
	}
	if total == 0 {
		return TrialFail
	}
	failureRate := float64(total-successes) / float64(total)
	if successes >= criteria.MinSuccessCount && failureRate <= criteria.MaxFailureRate {
		return TrialPass
	}
	return TrialFail
}
