package dispute

import (
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of a filed dispute.
type Status string

const (
	StatusFiled    Status = "filed"
	StatusVoting   Status = "voting"
	StatusResolved Status = "resolved"
	StatusCooling  Status = "cooling" // bilateral fallback, 7-day cooling period
)

// BondForfeitWindow is how long a panel member has to vote before their
// temporary posted bond is forfeit (spec.md §4.7 step 3).
const BondForfeitWindow = 72 * time.Hour

// CoolingPeriod is the bilateral-fallback cooling period (spec.md §4.7
// step 2) used when fewer than 3 eligible candidates exist.
const CoolingPeriod = 7 * 24 * time.Hour

// Vote is one panel member's signed judgement (spec.md §4.7 step 3).
type Vote struct {
	Member           string
	Amount           float64
	SlashRecommended bool
	CastAt           time.Time
}

// Dispute tracks one arbitration round over a disputed obligation or
// netting disagreement.
type Dispute struct {
	ID          string
	ClaimAmount float64
	FiledAt     time.Time
	Panel       []string
	Size        Size
	Status      Status
	Votes       map[string]Vote
}

// New opens a dispute and immediately selects its panel.
func New(id string, claimAmount float64, filedAt time.Time, blockHashAtFiling []byte, eligible []Candidate) (*Dispute, error) {
	seed := PanelSeed(id, blockHashAtFiling)
	panel, size, err := SelectPanel(seed, eligible)
	if err != nil && !size.Bilateral {
		return nil, fmt.Errorf("dispute: select panel: %w", err)
	}
	d := &Dispute{
		ID:          id,
		ClaimAmount: claimAmount,
		FiledAt:     filedAt,
		Panel:       panel,
		Size:        size,
		Votes:       make(map[string]Vote),
	}
	if size.Bilateral {
		d.Status = StatusCooling
	} else {
		d.Status = StatusVoting
	}
	return d, nil
}

var (
	// ErrNotOnPanel rejects a vote from a non-member.
	ErrNotOnPanel = fmt.Errorf("dispute: signer is not a panel member")
	// ErrAlreadyVoted makes a double vote from the same member a no-op error.
	ErrAlreadyVoted = fmt.Errorf("dispute: member already voted")
	// ErrNotVoting rejects votes cast outside the Voting state.
	ErrNotVoting = fmt.Errorf("dispute: dispute is not accepting votes")
)

// CastVote records member's vote.
func (d *Dispute) CastVote(v Vote) error {
	if d.Status != StatusVoting {
		return ErrNotVoting
	}
	onPanel := false
	for _, m := range d.Panel {
		if m == v.Member {
			onPanel = true
			break
		}
	}
	if !onPanel {
		return ErrNotOnPanel
	}
	if _, already := d.Votes[v.Member]; already {
		return ErrAlreadyVoted
	}
	d.Votes[v.Member] = v
	return nil
}

// NonVoters returns panel members who have not cast a vote by deadline,
// for bond-forfeiture (spec.md §4.7 step 3).
func (d *Dispute) NonVoters(now time.Time) []string {
	if now.Sub(d.FiledAt) < BondForfeitWindow {
		return nil
	}
	var out []string
	for _, m := range d.Panel {
		if _, voted := d.Votes[m]; !voted {
			out = append(out, m)
		}
	}
	return out
}

// Outcome is the resolved result of a dispute (spec.md §4.7 step 4).
type Outcome struct {
	Amount           float64
	SlashRecommended bool
	Deviation        float64 // |claim - outcome| / claim, feeds the reputation signal
}

// ErrQuorumNotReached is returned by Resolve when fewer than Size.Majority
// votes have been cast.
var ErrQuorumNotReached = fmt.Errorf("dispute: quorum not reached")

// Resolve computes the outcome once quorum is met: the median vote amount,
// and a slashing recommendation requiring supermajority (more than half of
// cast votes) per spec.md §4.7 step 4.
func (d *Dispute) Resolve() (Outcome, error) {
	if len(d.Votes) < d.Size.Majority {
		return Outcome{}, ErrQuorumNotReached
	}
	amounts := make([]float64, 0, len(d.Votes))
	slashVotes := 0
	for _, v := range d.Votes {
		amounts = append(amounts, v.Amount)
		if v.SlashRecommended {
			slashVotes++
		}
	}
	sort.Float64s(amounts)
	median := medianOf(amounts)

	supermajority := slashVotes*2 > len(d.Votes)

	d.Status = StatusResolved
	deviation := 0.0
	if d.ClaimAmount != 0 {
		deviation = (d.ClaimAmount - median) / d.ClaimAmount
		if deviation < 0 {
			deviation = -deviation
		}
	}
	return Outcome{Amount: median, SlashRecommended: supermajority, Deviation: deviation}, nil
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
