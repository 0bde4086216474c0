package obligation

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"hivecore/netting"
)

// SettlementRecord is the persisted artifact of a settlement window's
// netting computation (spec.md §4.6's data-flow: "Netting Engine → Escrow
// Manager → settlement"). Persisting it before the window's obligations are
// marked Netted is the orchestrator-side I/O step spec.md §9 requires for a
// pure netting function's returned plan ("pure netting/dispute/tier
// functions take snapshots and return plans; I/O is performed by the
// orchestrator").
type SettlementRecord struct {
	WindowID string
	Payments []netting.Payment
	ClosedAt time.Time
}

var bucketSettlements = []byte("settlements")

// RecordSettlement persists rec, overwriting any prior record for the same
// window (a retried close of an already-recorded window is idempotent).
func (l *Ledger) RecordSettlement(windowID string, payments []netting.Payment, closedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := SettlementRecord{WindowID: windowID, Payments: payments, ClosedAt: closedAt}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("obligation: encode settlement %q: %w", windowID, err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettlements).Put([]byte(windowID), encoded)
	})
}

// Settlement returns the persisted settlement record for windowID.
func (l *Ledger) Settlement(windowID string) (SettlementRecord, error) {
	var rec SettlementRecord
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSettlements).Get([]byte(windowID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return SettlementRecord{}, err
	}
	if !found {
		return SettlementRecord{}, ErrNotFound
	}
	return rec, nil
}
