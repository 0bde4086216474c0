// Package obligation implements C8: the append-only obligation log that
// feeds the netting engine at settlement-window close (spec.md §4.6).
package obligation

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Kind identifies the compensation category an obligation represents.
type Kind string

const (
	KindPerAction        Kind = "per_action"
	KindPerformanceBonus Kind = "performance_bonus"
	KindPenalty          Kind = "penalty"
)

// Status is the lifecycle state of an obligation entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusNetted   Status = "netted"
	StatusSettled  Status = "settled"
	StatusDisputed Status = "disputed"
)

// Obligation is one append-only ledger entry (spec.md §3: "Every pending
// obligation references an extant Receipt").
type Obligation struct {
	ID        uint64
	WindowID  string
	From      string
	To        string
	Kind      Kind
	Amount    float64
	ReceiptID uint64
	Status    Status
	CreatedAt time.Time
}

var (
	bucketObligations = []byte("obligations")
	bucketByWindow    = []byte("by_window")
	keyNextID         = []byte("next_id")

	// ErrNotFound is returned when a requested obligation ID does not exist.
	ErrNotFound = errors.New("obligation: not found")
)

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// Ledger is the bbolt-backed append-only obligation store.
type Ledger struct {
	mu sync.Mutex
	db *bolt.DB

	// readModel, when set via WithReadModel, is refreshed best-effort on
	// every Append/SetStatus. bbolt remains the source of truth; a failed
	// read-model refresh does not fail the call.
	readModel *ReadModel
}

// Open opens (creating if absent) the obligation ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("obligation: open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketObligations); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketByWindow); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSettlements)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("obligation: init buckets: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append records a new Pending obligation and returns it with its assigned ID.
func (l *Ledger) Append(o Obligation) (Obligation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out Obligation
	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketObligations)
		windowBucket := tx.Bucket(bucketByWindow)

		next := uint64(0)
		if raw := bucket.Get(keyNextID); raw != nil {
			next = binary.BigEndian.Uint64(raw)
		}
		o.ID = next
		if o.Status == "" {
			o.Status = StatusPending
		}
		encoded, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if err := bucket.Put(idKey(o.ID), encoded); err != nil {
			return err
		}
		if err := bucket.Put(keyNextID, idKey(o.ID+1)); err != nil {
			return err
		}

		windowKey := []byte(o.WindowID)
		var ids []uint64
		if raw := windowBucket.Get(windowKey); raw != nil {
			if err := json.Unmarshal(raw, &ids); err != nil {
				return err
			}
		}
		ids = append(ids, o.ID)
		idxRaw, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		if err := windowBucket.Put(windowKey, idxRaw); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return Obligation{}, fmt.Errorf("obligation: append: %w", err)
	}
	if l.readModel != nil {
		_ = l.readModel.Upsert(out)
	}
	return out, nil
}

// Get returns the obligation with the given ID.
func (l *Ledger) Get(id uint64) (Obligation, error) {
	var out Obligation
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketObligations).Get(idKey(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return Obligation{}, err
	}
	if !found {
		return Obligation{}, ErrNotFound
	}
	return out, nil
}

// Window returns every obligation recorded under windowID, in append order.
func (l *Ledger) Window(windowID string) ([]Obligation, error) {
	var ids []uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketByWindow).Get([]byte(windowID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &ids)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Obligation, 0, len(ids))
	for _, id := range ids {
		o, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// SetStatus transitions the obligation at id to status. Callers are
// responsible for only issuing legal transitions (Pending → Netted →
// Settled ∥ Disputed); the ledger itself does not enforce the state machine
// since the Netting Engine and Dispute module own that decision.
func (l *Ledger) SetStatus(id uint64, status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var updated Obligation
	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketObligations)
		raw := bucket.Get(idKey(id))
		if raw == nil {
			return ErrNotFound
		}
		var o Obligation
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		o.Status = status
		encoded, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if err := bucket.Put(idKey(id), encoded); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return err
	}
	if l.readModel != nil {
		_ = l.readModel.Upsert(updated)
	}
	return nil
}
