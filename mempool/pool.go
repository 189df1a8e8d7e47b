package mempool

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"pricechain/core/types"
)

var (
	// ErrTagTaken is returned when an unsigned candidate does not outrank the
	// entry already holding its tag.
	ErrTagTaken = errors.New("mempool: provides tag already taken by a higher priority entry")
	// ErrDuplicate is returned for a signed transaction already pending.
	ErrDuplicate = errors.New("mempool: duplicate transaction")
	// ErrPoolFull is returned when the signed lane is at capacity.
	ErrPoolFull = errors.New("mempool: pool is full")
)

// Admission is the validator's verdict for an unsigned transaction.
type Admission struct {
	Priority  uint64
	Provides  []byte
	Longevity uint64
	Propagate bool
}

// Entry is a pending unsigned transaction with its admission record.
type Entry struct {
	Tx         *types.Transaction
	Admission  Admission
	AdmittedAt uint64
}

// Expired reports whether the entry outlived its longevity at height.
func (e *Entry) Expired(height uint64) bool {
	return height >= e.AdmittedAt+e.Admission.Longevity
}

// Pool holds pending submissions. Unsigned entries are unique per provides
// tag; signed entries are unique per hash and kept in arrival order.
type Pool struct {
	mu        sync.Mutex
	unsigned  map[string]*Entry
	signed    []*types.Transaction
	signedIdx map[string]struct{}
	maxSigned int
}

// NewPool builds a pool. maxSigned <= 0 disables the signed lane bound.
func NewPool(maxSigned int) *Pool {
	return &Pool{
		unsigned:  make(map[string]*Entry),
		signedIdx: make(map[string]struct{}),
		maxSigned: maxSigned,
	}
}

// AddUnsigned inserts tx under its provides tag. An existing entry is
// replaced only by a strictly higher priority. The replaced transaction, if
// any, is returned.
func (p *Pool) AddUnsigned(tx *types.Transaction, admission Admission, height uint64) (*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tag := string(admission.Provides)
	entry := &Entry{Tx: tx, Admission: admission, AdmittedAt: height}
	current, ok := p.unsigned[tag]
	if !ok || current.Expired(height) {
		p.unsigned[tag] = entry
		if ok {
			return current.Tx, nil
		}
		return nil, nil
	}
	if admission.Priority <= current.Admission.Priority {
		return nil, ErrTagTaken
	}
	p.unsigned[tag] = entry
	return current.Tx, nil
}

// AddSigned appends a signed transaction.
func (p *Pool) AddSigned(tx *types.Transaction) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.signedIdx[string(hash)]; ok {
		return ErrDuplicate
	}
	if p.maxSigned > 0 && len(p.signed) >= p.maxSigned {
		return ErrPoolFull
	}
	p.signed = append(p.signed, tx)
	p.signedIdx[string(hash)] = struct{}{}
	return nil
}

// Pending returns the lanes for block building. Unsigned entries are ordered
// by descending priority, ties broken by tag.
func (p *Pool) Pending() Lanes {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]*Entry, 0, len(p.unsigned))
	for _, e := range p.unsigned {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Admission.Priority != entries[j].Admission.Priority {
			return entries[i].Admission.Priority > entries[j].Admission.Priority
		}
		return bytes.Compare(entries[i].Admission.Provides, entries[j].Admission.Provides) < 0
	})
	txs := append(make([]*types.Transaction, 0, len(p.signed)+len(entries)), p.signed...)
	for _, e := range entries {
		txs = append(txs, e.Tx)
	}
	return Classify(txs)
}

// Remove drops the given transactions from both lanes.
func (p *Pool) Remove(txs []*types.Transaction) {
	if len(txs) == 0 {
		return
	}
	drop := make(map[*types.Transaction]struct{}, len(txs))
	for _, tx := range txs {
		drop[tx] = struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for tag, e := range p.unsigned {
		if _, ok := drop[e.Tx]; ok {
			delete(p.unsigned, tag)
		}
	}
	kept := p.signed[:0]
	for _, tx := range p.signed {
		if _, ok := drop[tx]; ok {
			if hash, err := tx.Hash(); err == nil {
				delete(p.signedIdx, string(hash))
			}
			continue
		}
		kept = append(kept, tx)
	}
	p.signed = kept
}

// Prune evicts unsigned entries whose longevity has elapsed at height and
// returns how many were removed.
func (p *Pool) Prune(height uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for tag, e := range p.unsigned {
		if e.Expired(height) {
			delete(p.unsigned, tag)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending transactions across both lanes.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.unsigned) + len(p.signed)
}
