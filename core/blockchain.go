package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"pricechain/core/types"
	"pricechain/storage"
)

var (
	tipKey          = []byte("chain/tip")
	blockPrefix     = []byte("chain/block/")
	heightIdxPrefix = []byte("chain/height/")
)

// ErrBlockNotFound is returned for unknown heights or hashes.
var ErrBlockNotFound = errors.New("chain: block not found")

// Blockchain persists blocks and tracks the tip.
type Blockchain struct {
	db      storage.Database
	tip     *types.BlockHeader
	tipHash []byte
	mu      sync.RWMutex
}

func blockKey(hash []byte) []byte {
	return append(append([]byte(nil), blockPrefix...), hash...)
}

func heightKey(height uint64) []byte {
	key := append([]byte(nil), heightIdxPrefix...)
	return binary.BigEndian.AppendUint64(key, height)
}

// NewBlockchain opens the chain stored in db, writing a genesis block when
// the database is empty.
func NewBlockchain(db storage.Database) (*Blockchain, error) {
	bc := &Blockchain{db: db}
	tipHash, err := db.Get(tipKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		genesis := types.NewBlock(&types.BlockHeader{Height: 0}, nil)
		if err := bc.store(genesis, db.Write); err != nil {
			return nil, fmt.Errorf("chain: write genesis: %w", err)
		}
		return bc, nil
	case err != nil:
		return nil, err
	}
	block, err := bc.GetBlockByHash(tipHash)
	if err != nil {
		return nil, fmt.Errorf("chain: load tip: %w", err)
	}
	bc.tip = block.Header
	bc.tipHash = tipHash
	return bc, nil
}

// AddBlock appends b on top of the current tip.
func (bc *Blockchain) AddBlock(b *types.Block) error {
	return bc.AddBlockWith(b, bc.db.Write)
}

// AddBlockWith appends b and hands the block, height and tip writes to commit,
// which must write them atomically alongside anything else that belongs to the
// same transition. The tip only moves once commit succeeds.
func (bc *Blockchain) AddBlockWith(b *types.Block, commit func(*storage.Batch) error) error {
	if b == nil || b.Header == nil {
		return fmt.Errorf("chain: block header required")
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if string(b.Header.PrevHash) != string(bc.tipHash) {
		return fmt.Errorf("chain: block prevhash mismatch")
	}
	if b.Header.Height != bc.tip.Height+1 {
		return fmt.Errorf("chain: expected height %d, got %d", bc.tip.Height+1, b.Header.Height)
	}
	return bc.store(b, commit)
}

func (bc *Blockchain) store(b *types.Block, commit func(*storage.Batch) error) error {
	hash, err := b.Header.Hash()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(b)
	if err != nil {
		return err
	}
	batch := storage.NewBatch()
	batch.Put(blockKey(hash), encoded)
	batch.Put(heightKey(b.Header.Height), hash)
	batch.Put(tipKey, hash)
	if err := commit(batch); err != nil {
		return err
	}
	bc.tip = b.Header
	bc.tipHash = hash
	return nil
}

// GetBlockByHash retrieves a stored block.
func (bc *Blockchain) GetBlockByHash(hash []byte) (*types.Block, error) {
	raw, err := bc.db.Get(blockKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	var block types.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetBlockByHeight retrieves the block at height.
func (bc *Blockchain) GetBlockByHeight(height uint64) (*types.Block, error) {
	hash, err := bc.db.Get(heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	return bc.GetBlockByHash(hash)
}

// CurrentHeader returns the tip header.
func (bc *Blockchain) CurrentHeader() *types.BlockHeader {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// TipHash returns the hash of the tip header.
func (bc *Blockchain) TipHash() []byte {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return append([]byte(nil), bc.tipHash...)
}

// GetHeight returns the tip height.
func (bc *Blockchain) GetHeight() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip.Height
}
