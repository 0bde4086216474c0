package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hivecore/netting"
	"hivecore/obligation"
	"hivecore/observability"
	"hivecore/orchestrator"
)

var _ orchestrator.SettlementCloser = (*SettlementAdapter)(nil)

// SettlementAdapter implements orchestrator.SettlementCloser (spec.md
// §4.10/§4.6): at each tick it closes every settlement window the Engine
// has accumulated pending obligations for, netting them multilaterally,
// persisting the resulting payment plan to the obligation ledger's
// settlement record, and marking the underlying obligations Netted. It
// does not itself move funds — escrow issuance against a persisted
// settlement record is a follow-on step the Escrow module performs once a
// netting round's counterparties ack the proposal (netting.Proposal),
// which is out of this adapter's scope.
type SettlementAdapter struct {
	Engine      *Engine
	Obligations *obligation.Ledger
	NowFn       func() time.Time
}

func (a *SettlementAdapter) now() time.Time {
	if a.NowFn != nil {
		return a.NowFn()
	}
	return time.Now()
}

// SettlementGroups returns every open window ID.
func (a *SettlementAdapter) SettlementGroups(_ context.Context) ([]string, error) {
	return a.Engine.OpenWindows(), nil
}

// CloseWindow nets every pending obligation in windowID and marks them
// Netted. Obligations already netted or settled are left untouched so a
// second close of the same window (e.g. a retried tick) is idempotent.
func (a *SettlementAdapter) CloseWindow(_ context.Context, windowID string) error {
	entries, err := a.Obligations.Window(windowID)
	if err != nil {
		return fmt.Errorf("engine: load window %q: %w", windowID, err)
	}
	var pending []obligation.Obligation
	items := make([]netting.Item, 0, len(entries))
	for _, o := range entries {
		if o.Status != obligation.StatusPending {
			continue
		}
		pending = append(pending, o)
		items = append(items, netting.Item{From: o.From, To: o.To, Kind: string(o.Kind), Amount: o.Amount, ReceiptID: o.ReceiptID})
	}
	if len(pending) == 0 {
		a.Engine.untrackWindow(windowID)
		return nil
	}

	// Multilateral netting is pure (spec.md §9); persisting its plan here,
	// before any obligation is marked Netted, is the I/O step that
	// completes it and gives §8 invariants 5/6 something to verify against
	// in the running system.
	payments := netting.Multilateral(items)
	if err := a.Obligations.RecordSettlement(windowID, payments, a.now()); err != nil {
		return fmt.Errorf("engine: record settlement %q: %w", windowID, err)
	}

	var errs []error
	for _, o := range pending {
		if err := a.Obligations.SetStatus(o.ID, obligation.StatusNetted); err != nil {
			errs = append(errs, fmt.Errorf("obligation %d: %w", o.ID, err))
		}
	}
	a.Engine.untrackWindow(windowID)
	observability.Pipeline().RecordNettingWindow(len(errs) > 0)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
