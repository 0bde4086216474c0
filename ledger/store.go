package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"hivecore/canonical"
	"hivecore/crypto"
)

var (
	bucketReceipts = []byte("receipts")
	bucketMeta     = []byte("meta")

	keyNextSeq = []byte("next_seq")

	// ErrNotFound is returned when a requested sequence number has no entry.
	ErrNotFound = errors.New("ledger: receipt not found")
	// ErrChainBroken is returned by VerifyChain when a prev-hash link fails
	// to match.
	ErrChainBroken = errors.New("ledger: hash chain broken")
)

// wireReceipt is the JSON-on-disk form; Receipt's [32]byte fields marshal
// poorly without an explicit wrapper.
type wireReceipt struct {
	Seq             uint64                      `json:"seq"`
	Prev            []byte                      `json:"prev"`
	BeforeState     []byte                      `json:"before_state"`
	AfterState      []byte                      `json:"after_state"`
	Issuer          string                      `json:"issuer"`
	Schema          string                      `json:"schema"`
	Action          string                      `json:"action"`
	Nonce           uint64                      `json:"nonce"`
	Timestamp       time.Time                   `json:"timestamp"`
	Result          map[string]canonicalValue   `json:"result"`
	IssuerSig       []byte                      `json:"issuer_sig"`
	NodeOperatorSig []byte                      `json:"node_operator_sig"`
}

// canonicalValue is an alias used only to keep json tags local to this file.
type canonicalValue = canonical.Value

func toWire(r Receipt) wireReceipt {
	return wireReceipt{
		Seq: r.Seq, Prev: r.Prev[:], BeforeState: r.BeforeState[:], AfterState: r.AfterState[:],
		Issuer: r.Issuer, Schema: r.Schema, Action: r.Action, Nonce: r.Nonce,
		Timestamp: r.Timestamp, Result: r.Result, IssuerSig: r.IssuerSig, NodeOperatorSig: r.NodeOperatorSig,
	}
}

func fromWire(w wireReceipt) Receipt {
	var prev, before, after [32]byte
	copy(prev[:], w.Prev)
	copy(before[:], w.BeforeState)
	copy(after[:], w.AfterState)
	return Receipt{
		Seq: w.Seq, Prev: prev, BeforeState: before, AfterState: after,
		Issuer: w.Issuer, Schema: w.Schema, Action: w.Action, Nonce: w.Nonce,
		Timestamp: w.Timestamp, Result: w.Result, IssuerSig: w.IssuerSig, NodeOperatorSig: w.NodeOperatorSig,
	}
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// Store is the bbolt-backed append-only receipt ledger.
type Store struct {
	mu sync.Mutex
	db *bolt.DB
}

// Open opens (creating if absent) the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketReceipts); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append is the ledger's only mutator. It assigns the next sequence number,
// links Prev to the previous entry's self-hash, and persists atomically.
func (s *Store) Append(r Receipt) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Receipt
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		receipts := tx.Bucket(bucketReceipts)

		next := uint64(0)
		if raw := meta.Get(keyNextSeq); raw != nil {
			next = binary.BigEndian.Uint64(raw)
		}

		var prev [32]byte
		if next > 0 {
			prevRaw := receipts.Get(seqKey(next - 1))
			if prevRaw == nil {
				return fmt.Errorf("ledger: missing predecessor seq %d", next-1)
			}
			var w wireReceipt
			if err := json.Unmarshal(prevRaw, &w); err != nil {
				return err
			}
			h, err := fromWire(w).SelfHash(hashReceipt)
			if err != nil {
				return err
			}
			prev = h
		}

		r.Seq = next
		r.Prev = prev
		encoded, err := json.Marshal(toWire(r))
		if err != nil {
			return err
		}
		if err := receipts.Put(seqKey(next), encoded); err != nil {
			return err
		}
		if err := meta.Put(keyNextSeq, seqKey(next+1)); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: append: %w", err)
	}
	return out, nil
}

// Get returns the receipt at seq.
func (s *Store) Get(seq uint64) (Receipt, error) {
	var out Receipt
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketReceipts).Get(seqKey(seq))
		if raw == nil {
			return nil
		}
		var w wireReceipt
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		out = fromWire(w)
		found = true
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	if !found {
		return Receipt{}, ErrNotFound
	}
	return out, nil
}

// Range returns receipts [lo, hi] inclusive.
func (s *Store) Range(lo, hi uint64) ([]Receipt, error) {
	var out []Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReceipts).Cursor()
		for k, v := c.Seek(seqKey(lo)); k != nil; k, v = c.Next() {
			seq := binary.BigEndian.Uint64(k)
			if seq > hi {
				break
			}
			var w wireReceipt
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			out = append(out, fromWire(w))
		}
		return nil
	})
	return out, err
}

// NextSeq reports the sequence number the next Append will assign.
func (s *Store) NextSeq() (uint64, error) {
	var next uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyNextSeq)
		if raw != nil {
			next = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	return next, err
}

// MerkleRoot computes the Merkle root over self-hashes of receipts [lo, hi].
func (s *Store) MerkleRoot(lo, hi uint64) ([32]byte, error) {
	receipts, err := s.Range(lo, hi)
	if err != nil {
		return [32]byte{}, err
	}
	if len(receipts) == 0 {
		return [32]byte{}, fmt.Errorf("ledger: empty range [%d,%d]", lo, hi)
	}
	leaves := make([][32]byte, len(receipts))
	for i, r := range receipts {
		h, err := r.SelfHash(hashReceipt)
		if err != nil {
			return [32]byte{}, err
		}
		leaves[i] = h
	}
	return merkleRoot(leaves), nil
}

func merkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 1 {
		return leaves[0]
	}
	var next [][32]byte
	for i := 0; i < len(leaves); i += 2 {
		if i+1 == len(leaves) {
			next = append(next, crypto.Keccak256(leaves[i][:], leaves[i][:]))
			continue
		}
		next = append(next, crypto.Keccak256(leaves[i][:], leaves[i+1][:]))
	}
	return merkleRoot(next)
}

// VerifyChain checks that every receipt in [lo, hi] correctly links to its
// predecessor's self-hash.
func (s *Store) VerifyChain(lo, hi uint64) error {
	receipts, err := s.Range(lo, hi)
	if err != nil {
		return err
	}
	var prevHash [32]byte
	if lo > 0 {
		prevReceipt, err := s.Get(lo - 1)
		if err != nil {
			return err
		}
		prevHash, err = prevReceipt.SelfHash(hashReceipt)
		if err != nil {
			return err
		}
	}
	for _, r := range receipts {
		if r.Prev != prevHash {
			return fmt.Errorf("%w: seq %d", ErrChainBroken, r.Seq)
		}
		h, err := r.SelfHash(hashReceipt)
		if err != nil {
			return err
		}
		prevHash = h
	}
	return nil
}
