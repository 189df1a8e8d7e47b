package storage

import (
	"bytes"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the node to run on any database backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Write applies every operation in batch or none of them.
	Write(batch *Batch) error
	Close() // A way to gracefully shut down the database connection.
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes that must land together.
type Batch struct {
	ops []batchOp
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Put queues a write of value under key.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

// Delete queues removal of key.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

// Len reports the number of queued operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

// LocalStore is node-local persistent storage that never leaves the node. On
// top of Database it offers an atomic compare-and-set so that concurrent
// off-chain worker runs can coordinate through it.
type LocalStore interface {
	Database
	// CompareAndSet writes next under key only if the current value equals
	// expected. A nil expected value means "key absent". The boolean reports
	// whether the write happened.
	CompareAndSet(key, expected, next []byte) (bool, error)
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

// Write applies the batch under a single lock acquisition.
func (db *MemDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range batch.ops {
		if op.delete {
			delete(db.data, string(op.key))
			continue
		}
		db.data[string(op.key)] = op.value
	}
	return nil
}

// CompareAndSet implements LocalStore.
func (db *MemDB) CompareAndSet(key, expected, next []byte) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	current, ok := db.data[string(key)]
	if !matches(current, ok, expected) {
		return false, nil
	}
	db.data[string(key)] = append([]byte(nil), next...)
	return true, nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB (for mainnet) ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
	// casMu serialises compare-and-set against other writers in this process.
	casMu sync.Mutex
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	ldb.casMu.Lock()
	defer ldb.casMu.Unlock()
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes the key if present.
func (ldb *LevelDB) Delete(key []byte) error {
	ldb.casMu.Lock()
	defer ldb.casMu.Unlock()
	return ldb.db.Delete(key, nil)
}

// Write commits the batch atomically through leveldb.Batch.
func (ldb *LevelDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	lb := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.delete {
			lb.Delete(op.key)
			continue
		}
		lb.Put(op.key, op.value)
	}
	ldb.casMu.Lock()
	defer ldb.casMu.Unlock()
	return ldb.db.Write(lb, nil)
}

// CompareAndSet implements LocalStore.
func (ldb *LevelDB) CompareAndSet(key, expected, next []byte) (bool, error) {
	ldb.casMu.Lock()
	defer ldb.casMu.Unlock()
	current, err := ldb.db.Get(key, nil)
	ok := true
	if errors.Is(err, leveldb.ErrNotFound) {
		ok = false
	} else if err != nil {
		return false, err
	}
	if !matches(current, ok, expected) {
		return false, nil
	}
	if err := ldb.db.Put(key, next, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}

func matches(current []byte, present bool, expected []byte) bool {
	if expected == nil {
		return !present
	}
	return present && bytes.Equal(current, expected)
}
