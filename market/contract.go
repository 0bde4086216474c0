package market

import (
	"fmt"
	"time"
)

// ContractStatus is a Contract's lifecycle state (spec.md §3/§4.9:
// "Proposed → Accepted → Trial → Active → (Renewed ∥ Terminated)").
type ContractStatus string

const (
	ContractProposed   ContractStatus = "proposed"
	ContractAccepted   ContractStatus = "accepted"
	ContractTrial      ContractStatus = "trial"
	ContractActive     ContractStatus = "active"
	ContractRenewed    ContractStatus = "renewed"
	ContractTerminated ContractStatus = "terminated"
)

// TerminationReason distinguishes a no-fault trial failure from a for-cause
// termination (spec.md §4.9: "Fail transitions to Terminated(reasonable)
// with no reputation penalty; detected bad faith transitions to
// Terminated(forcause) with reputation revoke").
type TerminationReason string

const (
	TerminationNone       TerminationReason = ""
	TerminationReasonable TerminationReason = "reasonable"
	TerminationForCause   TerminationReason = "forcause"
)

// Windows holds a Contract's trial/main period boundaries (spec.md §4.9).
type Windows struct {
	TrialStart time.Time
	TrialEnd   time.Time
	MainStart  time.Time
	MainEnd    time.Time
	Notice     time.Duration
	AutoRenew  bool
}

// maxCounterRounds bounds the Offer->Proposal->Counter negotiation (spec.md
// §6: "optional Counter rounds (≤5, each with per-round expiry default
// 72h)").
const maxCounterRounds = 5

// defaultCounterExpiry is the per-round expiry default.
const defaultCounterExpiry = 72 * time.Hour

// Contract is one marketplace contract-formation state machine instance.
type Contract struct {
	ID          string
	Parties     [2]string
	Windows     Windows
	Status      ContractStatus
	CounterRound int

	ManagementCredentialHash [32]byte
	InitialEscrowID          string

	Termination TerminationReason
}

// ErrTooManyCounterRounds is returned when a negotiation exceeds the
// bounded round count.
var ErrTooManyCounterRounds = fmt.Errorf("market: exceeded maximum counter-offer rounds")

// ErrExpiredRound is returned when Counter is called after the round's
// expiry has elapsed.
var ErrExpiredRound = fmt.Errorf("market: counter-offer round expired")

// NewContract opens a contract in Proposed state from an accepted Offer.
func NewContract(id string, parties [2]string, windows Windows) Contract {
	return Contract{ID: id, Parties: parties, Windows: windows, Status: ContractProposed}
}

// Counter advances the negotiation by one round, failing once
// maxCounterRounds is exceeded or the round has expired relative to
// openedAt+defaultCounterExpiry.
func (c *Contract) Counter(now, openedAt time.Time) error {
	if c.Status != ContractProposed {
		return fmt.Errorf("market: cannot counter-offer contract in status %q", c.Status)
	}
	if now.After(openedAt.Add(defaultCounterExpiry)) {
		return ErrExpiredRound
	}
	if c.CounterRound >= maxCounterRounds {
		return ErrTooManyCounterRounds
	}
	c.CounterRound++
	return nil
}

// Accept performs the atomic Management-Credential + initial-EscrowTicket
// activation spec.md §4.9 requires ("either both persist or neither"):
// commit is the caller-supplied two-phase persistence closure; on any
// error Accept leaves c untouched and returns the error.
func (c *Contract) Accept(credentialHash [32]byte, escrowID string, commit func() error) error {
	if c.Status != ContractProposed {
		return fmt.Errorf("market: cannot accept contract in status %q", c.Status)
	}
	if err := commit(); err != nil {
		return fmt.Errorf("market: atomic credential+escrow activation failed: %w", err)
	}
	c.Status = ContractAccepted
	c.ManagementCredentialHash = credentialHash
	c.InitialEscrowID = escrowID
	return nil
}

// BeginTrial transitions Accepted -> Trial once now reaches the contract's
// trial window start.
func (c *Contract) BeginTrial(now time.Time) error {
	if c.Status != ContractAccepted {
		return fmt.Errorf("market: cannot begin trial on contract in status %q", c.Status)
	}
	if now.Before(c.Windows.TrialStart) {
		return fmt.Errorf("market: trial window has not started")
	}
	c.Status = ContractTrial
	return nil
}

// TrialOutcome is the result of a pure Pass/Fail evaluation over the
// Receipt Ledger (spec.md §4.9).
type TrialOutcome int

const (
	TrialPass TrialOutcome = iota
	TrialFail
	TrialBadFaith
)

// ResolveTrial applies outcome to a Trial-status contract, matching the
// transitions spec.md §4.9 names: Pass -> Active; Fail -> Terminated
// (reasonable); bad faith -> Terminated (forcause).
func (c *Contract) ResolveTrial(outcome TrialOutcome) error {
	if c.Status != ContractTrial {
		return fmt.Errorf("market: cannot resolve trial on contract in status %q", c.Status)
	}
	switch outcome {
	case TrialPass:
		c.Status = ContractActive
	case TrialFail:
		c.Status = ContractTerminated
		c.Termination = TerminationReasonable
	case TrialBadFaith:
		c.Status = ContractTerminated
		c.Termination = TerminationForCause
	default:
		return fmt.Errorf("market: unknown trial outcome %d", outcome)
	}
	return nil
}

// Renew transitions an Active contract forward at period end, rolling its
// main window if AutoRenew is set; otherwise it terminates without cause.
func (c *Contract) Renew(now time.Time, nextWindow Windows) error {
	if c.Status != ContractActive {
		return fmt.Errorf("market: cannot renew contract in status %q", c.Status)
	}
	if !c.Windows.AutoRenew {
		c.Status = ContractTerminated
		c.Termination = TerminationReasonable
		return nil
	}
	c.Windows = nextWindow
	c.Status = ContractRenewed
	return nil
}
