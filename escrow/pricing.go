package escrow

import (
	"math/big"
	"time"

	"hivecore/bond"
)

// tierDiscount maps a reputation tier to its discount factor against the
// base per-danger-point pricing unit (spec.md §4.5: "pure function...
// inversely monotonic in reputation"). Values are this implementation's
// decision (spec.md does not enumerate them).
var tierDiscount = map[bond.Tier]float64{
	bond.TierNewcomer:   1.00,
	bond.TierRecognized: 0.85,
	bond.TierTrusted:    0.70,
	bond.TierSenior:     0.55,
	bond.TierFounding:   0.40,
}

// baseUnitPerDanger is the base escrow amount (in sats) charged per danger
// point at TierNewcomer before the reputation discount.
var baseUnitPerDanger = big.NewInt(1000)

// baseWindowPerDanger is the escrow window granted per danger point.
const baseWindowPerDanger = 10 * time.Minute

// Price implements spec.md §4.5's pure pricing function: given (danger,
// issuer reputation tier), returns (base_amount, escrow_window). It is
// monotonic in danger (linear scaling) and inversely monotonic in
// reputation (the tier discount table above).
func Price(danger int, tier bond.Tier) (amount *big.Int, window time.Duration) {
	if danger < 1 {
		danger = 1
	}
	if danger > 10 {
		danger = 10
	}
	discount, ok := tierDiscount[tier]
	if !ok {
		discount = 1.0
	}
	base := new(big.Int).Mul(baseUnitPerDanger, big.NewInt(int64(danger)))
	scaled := new(big.Float).Mul(new(big.Float).SetInt(base), big.NewFloat(discount))
	out, _ := scaled.Int(nil)
	return out, time.Duration(danger) * baseWindowPerDanger
}
