package netting

import (
	"fmt"
	"sync"
	"time"
)

// AckState is one counterparty's response to a netting proposal.
type AckState int

const (
	AckPending AckState = iota
	AckAgree
	AckDisagree
	AckExcluded // non-responder, excluded at quorum deadline (spec.md §4.6 step 4)
)

// Proposal tracks one in-flight window-close netting round (spec.md §4.6
// steps 1-4).
type Proposal struct {
	WindowID        string
	ObligationHash  [32]byte
	Counterparties  []string
	Deadline        time.Time
	Committed       bool

	mu   sync.Mutex
	acks map[string]AckState
}

// NewProposal opens a round for windowID against the given set of
// counterparties, broadcasting obligationHash (spec.md §4.6 step 1).
func NewProposal(windowID string, obligationHash [32]byte, counterparties []string, wait time.Duration) *Proposal {
	if wait <= 0 {
		wait = 2 * time.Hour // default bounded wait, spec.md §4.6 step 3
	}
	acks := make(map[string]AckState, len(counterparties))
	for _, c := range counterparties {
		acks[c] = AckPending
	}
	return &Proposal{
		WindowID:       windowID,
		ObligationHash: obligationHash,
		Counterparties: counterparties,
		Deadline:       time.Now().Add(wait),
		acks:           acks,
	}
}

// ErrAlreadyCommitted is returned by Ack once the proposal has been
// committed; a repeated Commit instead returns (true, nil).
var ErrAlreadyCommitted = fmt.Errorf("netting: proposal already committed")

// Ack records a counterparty's response. hash must match ObligationHash for
// an agreement; a mismatched hash is recorded as a disagreement regardless
// of the caller's claimed agree/disagree intent.
func (p *Proposal) Ack(counterparty string, hash [32]byte, diffs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Committed {
		return ErrAlreadyCommitted
	}
	if _, known := p.acks[counterparty]; !known {
		return fmt.Errorf("netting: %q is not a party to window %q", counterparty, p.WindowID)
	}
	if hash == p.ObligationHash && len(diffs) == 0 {
		p.acks[counterparty] = AckAgree
	} else {
		p.acks[counterparty] = AckDisagree
	}
	return nil
}

// Quorum reports whether every counterparty has responded (agree or
// disagree); non-responders are resolved by ExcludeNonResponders once the
// deadline passes.
func (p *Proposal) Quorum() (full bool, agreed, disagreed, pending []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.Counterparties {
		switch p.acks[c] {
		case AckAgree:
			agreed = append(agreed, c)
		case AckDisagree:
			disagreed = append(disagreed, c)
		case AckExcluded:
			// excluded parties fall back to bilateral settlement, tracked
			// separately by the caller.
		default:
			pending = append(pending, c)
		}
	}
	full = len(pending) == 0
	return full, agreed, disagreed, pending
}

// ExcludeNonResponders marks every still-pending counterparty Excluded once
// Deadline has passed (spec.md §4.6 step 4: "the non-responders are
// excluded; their obligations fall back to bilateral settlement").
func (p *Proposal) ExcludeNonResponders(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Before(p.Deadline) {
		return nil
	}
	var excluded []string
	for c, state := range p.acks {
		if state == AckPending {
			p.acks[c] = AckExcluded
			excluded = append(excluded, c)
		}
	}
	return excluded
}

// ErrDisagreement is returned by Commit when any counterparty disagreed;
// the caller (orchestrator) must fall back to per-counterparty bilateral
// settlement for the disagreeing parties and raise a dispute if repeated
// (spec.md §4.6 step 4, §7 NettingDisagreement).
var ErrDisagreement = fmt.Errorf("netting: quorum disagreement")

// Commit finalises the round if every non-excluded counterparty agreed.
// Calling Commit again after success is a no-op returning the same result
// (spec.md §8 idempotence law).
func (p *Proposal) Commit() (committed bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Committed {
		return true, nil
	}
	for _, c := range p.Counterparties {
		if p.acks[c] == AckDisagree {
			return false, ErrDisagreement
		}
		if p.acks[c] == AckPending {
			return false, fmt.Errorf("netting: counterparty %q has not responded", c)
		}
	}
	p.Committed = true
	return true, nil
}

// Disagreeing returns the counterparties currently in AckDisagree state.
func (p *Proposal) Disagreeing() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.Counterparties {
		if p.acks[c] == AckDisagree {
			out = append(out, c)
		}
	}
	return out
}
