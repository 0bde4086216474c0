package replay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
)

const lastNonceKeyPrefix = "lastnonce:"

// LevelDBPersistence is a goleveldb-backed Persistence implementation,
// adapted from the gateway's HMAC nonce cache persistence.
type LevelDBPersistence struct {
	db *leveldb.DB
}

// NewLevelDBPersistence opens (or creates) a LevelDB database at path.
func NewLevelDBPersistence(path string) (*LevelDBPersistence, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("replay: leveldb path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("replay: resolve leveldb path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("replay: open leveldb: %w", err)
	}
	return &LevelDBPersistence{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (p *LevelDBPersistence) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// LoadLastNonce implements Persistence.
func (p *LevelDBPersistence) LoadLastNonce(_ context.Context, issuer string) (uint64, bool, error) {
	val, err := p.db.Get(lastNonceKey(issuer), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("replay: load nonce: %w", err)
	}
	if len(val) != 8 {
		return 0, false, fmt.Errorf("replay: corrupt nonce record for %q", issuer)
	}
	return binary.BigEndian.Uint64(val), true, nil
}

// StoreLastNonce implements Persistence.
func (p *LevelDBPersistence) StoreLastNonce(_ context.Context, issuer string, nonce uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	if err := p.db.Put(lastNonceKey(issuer), buf, nil); err != nil {
		return fmt.Errorf("replay: store nonce: %w", err)
	}
	return nil
}

func lastNonceKey(issuer string) []byte {
	return []byte(lastNonceKeyPrefix + issuer)
}
