package escrow

import (
	"fmt"
	"math/big"
	"time"
)

// BatchPlan describes one ticket to be issued as part of a batch, milestone
// or performance set (spec.md §4.5 "Batch, milestone, performance
// variants").
type BatchPlan struct {
	TicketID string
	Amount   *big.Int
	Timelock time.Time
}

// BuildBatch returns amounts/timelocks for a batch ticket: N tokens sharing
// the same (payee, t) with distinct secrets (one per plan entry, generated
// independently by Store.Issue).
func BuildBatch(batchID string, n int, amountEach *big.Int, sharedTimelock time.Time) []BatchPlan {
	out := make([]BatchPlan, n)
	for i := 0; i < n; i++ {
		out[i] = BatchPlan{
			TicketID: fmt.Sprintf("%s/batch/%d", batchID, i),
			Amount:   new(big.Int).Set(amountEach),
			Timelock: sharedTimelock,
		}
	}
	return out
}

// BuildMilestone returns amounts/timelocks for a milestone ticket: N tokens
// of (possibly increasing) value with independent secrets revealed on
// independent checkpoints, each with its own timelock.
func BuildMilestone(batchID string, amounts []*big.Int, timelocks []time.Time) ([]BatchPlan, error) {
	if len(amounts) != len(timelocks) {
		return nil, fmt.Errorf("escrow: milestone amounts/timelocks length mismatch")
	}
	out := make([]BatchPlan, len(amounts))
	for i := range amounts {
		out[i] = BatchPlan{
			TicketID: fmt.Sprintf("%s/milestone/%d", batchID, i),
			Amount:   new(big.Int).Set(amounts[i]),
			Timelock: timelocks[i],
		}
	}
	return out, nil
}

// PerformancePlan pairs a base ticket (unconditional on delivery) with a
// bonus ticket whose secret is revealed only if an observable metric
// crosses a threshold in a declared measurement window (spec.md §4.5).
// Thresholds are per-contract parameters, never core constants (spec.md §9
// open question).
type PerformancePlan struct {
	Base  BatchPlan
	Bonus BatchPlan

	Threshold         float64
	MeasurementWindow time.Time
}

// BuildPerformance constructs a PerformancePlan. threshold and
// measurementWindow come from the contract, not from this package.
func BuildPerformance(batchID string, baseAmount, bonusAmount *big.Int, timelock, measurementWindow time.Time, threshold float64) PerformancePlan {
	return PerformancePlan{
		Base:  BatchPlan{TicketID: batchID + "/perf/base", Amount: new(big.Int).Set(baseAmount), Timelock: timelock},
		Bonus: BatchPlan{TicketID: batchID + "/perf/bonus", Amount: new(big.Int).Set(bonusAmount), Timelock: timelock},

		Threshold:         threshold,
		MeasurementWindow: measurementWindow,
	}
}

// PerformanceMetricFn computes the observable metric from receipt log
// evidence plus a baseline commitment, as a pure function of its inputs
// (spec.md §4.5: "a pure function of receipt log evidence + baseline
// commitment"). Callers in the orchestrator supply the concrete evidence
// extraction; this package only defines the contract.
type PerformanceMetricFn func(baseline, evidence float64) float64

// EvaluateBonusEligible reports whether the performance bonus's secret
// should be revealed: the metric, computed from baseline and evidence via
// metricFn, crosses threshold.
func EvaluateBonusEligible(metricFn PerformanceMetricFn, baseline, evidence, threshold float64) bool {
	if metricFn == nil {
		return false
	}
	return metricFn(baseline, evidence) >= threshold
}

// RevenueDeltaPct is the default PerformanceMetricFn: percentage change of
// evidence over baseline, matching the spec's own example ("+10% revenue").
func RevenueDeltaPct(baseline, evidence float64) float64 {
	if baseline == 0 {
		if evidence > 0 {
			return 100
		}
		return 0
	}
	return (evidence - baseline) / baseline * 100
}
