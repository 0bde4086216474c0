// Package dispute implements C10: evidence comparison, deterministic panel
// selection, voting and the slashing trigger (spec.md §4.7).
package dispute

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"hivecore/crypto"
)

// Candidate is one eligible arbitration panelist (spec.md §4.7 step 2's
// eligibility filter is applied by the caller before building this slice:
// "not a party, tenure >= threshold, reputation >= threshold, bond >=
// threshold").
type Candidate struct {
	ID         string
	Bond       float64
	TenureDays int
}

// Weight implements spec.md §4.7: "Weight = bond * sqrt(tenure_days)".
func (c Candidate) Weight() float64 {
	if c.TenureDays <= 0 {
		return 0
	}
	return c.Bond * math.Sqrt(float64(c.TenureDays))
}

// Size is the panel size/majority rule spec.md §4.7 step 2 selects based on
// the eligible-candidate count.
type Size struct {
	Members   int
	Majority  int // minimum votes required for an outcome
	Bilateral bool
}

// SelectSize implements spec.md §4.7's panel sizing ladder: 7 (5-of-7) if
// >=15 eligible, else 5 (3-of-5), else 3 (2-of-3), else bilateral with a
// 7-day cooling period.
func SelectSize(eligibleCount int) Size {
	switch {
	case eligibleCount >= 15:
		return Size{Members: 7, Majority: 5}
	case eligibleCount >= 5:
		return Size{Members: 5, Majority: 3}
	case eligibleCount >= 3:
		return Size{Members: 3, Majority: 2}
	default:
		return Size{Bilateral: true}
	}
}

// PanelSeed implements spec.md §6: seed = H(dispute_id || block_hash_at_filing_height).
func PanelSeed(disputeID string, blockHashAtFiling []byte) [32]byte {
	return crypto.Keccak256([]byte(disputeID), blockHashAtFiling)
}

// SelectPanel deterministically samples k members from eligible without
// replacement, weighted by Candidate.Weight, using the Efraimidis-Spirakis
// weighted reservoir algorithm keyed off PanelSeed so that any honest
// implementation given the same (dispute_id, block_hash, eligible_set)
// derives the same panel (spec.md §8 property 7).
func SelectPanel(seed [32]byte, eligible []Candidate) (panel []string, size Size, err error) {
	size = SelectSize(len(eligible))
	if size.Bilateral {
		return nil, size, nil
	}
	type scored struct {
		id  string
		key float64
	}
	scoredList := make([]scored, 0, len(eligible))
	for _, c := range eligible {
		w := c.Weight()
		if w <= 0 {
			continue
		}
		u := deterministicUniform(seed, c.ID)
		// Efraimidis-Spirakis key: u^(1/w). Larger key wins.
		key := math.Pow(u, 1/w)
		scoredList = append(scoredList, scored{id: c.ID, key: key})
	}
	if len(scoredList) == 0 {
		return nil, size, ErrNoEligibleCandidates
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].key != scoredList[j].key {
			return scoredList[i].key > scoredList[j].key
		}
		return scoredList[i].id < scoredList[j].id
	})
	n := size.Members
	if n > len(scoredList) {
		n = len(scoredList)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = scoredList[i].id
	}
	return out, size, nil
}

// deterministicUniform derives a reproducible pseudo-uniform value in (0,1]
// for id under seed, used only as sampling randomness, never as a security
// primitive.
func deterministicUniform(seed [32]byte, id string) float64 {
	h := crypto.Keccak256(seed[:], []byte(id))
	v := binary.BigEndian.Uint64(h[:8])
	if v == 0 {
		v = 1
	}
	return float64(v) / float64(math.MaxUint64)
}

// ErrNoEligibleCandidates guards against a zero-weight eligible set.
var ErrNoEligibleCandidates = fmt.Errorf("dispute: no eligible candidates with positive weight")
