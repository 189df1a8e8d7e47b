package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"pricechain/storage"
)

// ErrTxClosed is returned when a committed or discarded transaction is used.
var ErrTxClosed = errors.New("state: transaction closed")

var kvPrefix = []byte("state/kv/")

func kvKey(key []byte) []byte {
	hashed := ethcrypto.Keccak256(key)
	buf := make([]byte, len(kvPrefix)+len(hashed))
	copy(buf, kvPrefix)
	copy(buf[len(kvPrefix):], hashed)
	return buf
}

// Store persists ledger state as RLP-encoded values keyed by the Keccak hash
// of the logical key. Mutations go through Begin so that a state transition is
// observed either completely or not at all.
type Store struct {
	db storage.Database
	mu sync.Mutex
	// view is held exclusively while a commit lands so readers never see a
	// partial transition.
	view sync.RWMutex
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// KVGet decodes the committed value stored under key into out. The boolean
// reports whether the key existed.
func (s *Store) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	s.view.RLock()
	data, err := s.db.Get(kvKey(key))
	s.view.RUnlock()
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return decodeInto(data, out)
}

// Begin opens a buffered transaction. Only one transaction may be open at a
// time; Commit or Discard releases it.
func (s *Store) Begin() *Tx {
	s.mu.Lock()
	return &Tx{store: s, writes: make(map[string][]byte)}
}

// Tx buffers writes until Commit. Reads observe the transaction's own writes.
type Tx struct {
	store  *Store
	writes map[string][]byte
	order  []string
	closed bool
}

// KVGet reads through the write buffer.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if tx.closed {
		return false, ErrTxClosed
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	if data, ok := tx.writes[string(kvKey(key))]; ok {
		return decodeInto(data, out)
	}
	return tx.store.KVGet(key, out)
}

// KVPut stages the RLP encoding of value under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := string(kvKey(key))
	if _, exists := tx.writes[hashed]; !exists {
		tx.order = append(tx.order, hashed)
	}
	tx.writes[hashed] = encoded
	return nil
}

// Savepoint returns a copy of the staged writes so a caller can roll back a
// single nested operation with Restore.
func (tx *Tx) Savepoint() Savepoint {
	sp := Savepoint{writes: make(map[string][]byte, len(tx.writes)), order: append([]string(nil), tx.order...)}
	for k, v := range tx.writes {
		sp.writes[k] = v
	}
	return sp
}

// Restore rewinds the staged writes to a previous savepoint.
func (tx *Tx) Restore(sp Savepoint) {
	tx.writes = sp.writes
	tx.order = sp.order
}

// Commit writes the staged values in one batch and releases the store.
func (tx *Tx) Commit() error {
	return tx.CommitWith(nil)
}

// CommitWith writes the staged values together with the operations already
// queued in batch. Either all of them land or none do.
func (tx *Tx) CommitWith(batch *storage.Batch) error {
	if tx.closed {
		return ErrTxClosed
	}
	defer tx.release()
	if batch == nil {
		batch = storage.NewBatch()
	}
	for _, key := range tx.order {
		batch.Put([]byte(key), tx.writes[key])
	}
	tx.store.view.Lock()
	defer tx.store.view.Unlock()
	if err := tx.store.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops staged writes and releases the store.
func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.release()
}

func (tx *Tx) release() {
	tx.closed = true
	tx.writes = nil
	tx.order = nil
	tx.store.mu.Unlock()
}

// Savepoint captures staged writes inside a Tx.
type Savepoint struct {
	writes map[string][]byte
	order  []string
}

func decodeInto(data []byte, out interface{}) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
