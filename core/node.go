package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pricechain/core/state"
	"pricechain/core/types"
	"pricechain/mempool"
	"pricechain/native/symbolprice"
	"pricechain/observability"
	"pricechain/storage"
)

// Node drives the ledger: it admits submissions into the pool, applies them
// in blocks and notifies head subscribers.
type Node struct {
	chain  *Blockchain
	state  *state.Store
	engine *symbolprice.Engine
	pool   *mempool.Pool
	logger *slog.Logger
	now    func() time.Time

	proposer       []byte
	maxTxs         int
	reservedSigned int
	onEvent        func(*types.Event)

	produceMu sync.Mutex
	subsMu    sync.Mutex
	subs      map[int]chan *types.BlockHeader
	nextSub   int
}

// NodeOption customises a Node.
type NodeOption func(*Node)

// WithNodeLogger overrides the node logger.
func WithNodeLogger(logger *slog.Logger) NodeOption {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithBlockLimits bounds the number of transactions per block and reserves
// part of it for signed submissions.
func WithBlockLimits(maxTxs, reservedSigned int) NodeOption {
	return func(n *Node) {
		n.maxTxs = maxTxs
		n.reservedSigned = reservedSigned
	}
}

// WithProposer stamps produced blocks with the given address.
func WithProposer(addr []byte) NodeOption {
	return func(n *Node) { n.proposer = append([]byte(nil), addr...) }
}

// WithEventHandler receives every event of every committed block.
func WithEventHandler(fn func(*types.Event)) NodeOption {
	return func(n *Node) { n.onEvent = fn }
}

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) NodeOption {
	return func(n *Node) {
		if now != nil {
			n.now = now
		}
	}
}

// NewNode opens the chain and state stored in db.
func NewNode(db storage.Database, engine *symbolprice.Engine, pool *mempool.Pool, opts ...NodeOption) (*Node, error) {
	if engine == nil {
		return nil, errors.New("core: symbol price engine required")
	}
	if pool == nil {
		pool = mempool.NewPool(0)
	}
	chain, err := NewBlockchain(db)
	if err != nil {
		return nil, err
	}
	n := &Node{
		chain:  chain,
		state:  state.NewStore(db),
		engine: engine,
		pool:   pool,
		logger: slog.Default(),
		now:    time.Now,
		subs:   make(map[int]chan *types.BlockHeader),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n, nil
}

// GetHeight returns the height of the last committed block.
func (n *Node) GetHeight() uint64 { return n.chain.GetHeight() }

// Chain exposes the block store.
func (n *Node) Chain() *Blockchain { return n.chain }

// Engine exposes the symbol price engine.
func (n *Node) Engine() *symbolprice.Engine { return n.engine }

// State exposes committed ledger state for reads.
func (n *Node) State() symbolprice.StateReader { return n.state }

// Pool exposes the transaction pool.
func (n *Node) Pool() *mempool.Pool { return n.pool }

// SubmitTransaction validates tx against committed state and places it in
// the pool.
func (n *Node) SubmitTransaction(tx *types.Transaction) error {
	if tx == nil {
		return errors.New("core: nil transaction")
	}
	height := n.GetHeight()
	if tx.IsSigned() {
		from, err := tx.From()
		if err != nil {
			return err
		}
		if !n.engine.IsAuthority(from) {
			return symbolprice.ErrUnauthorized
		}
		return n.pool.AddSigned(tx)
	}
	valid, err := n.engine.ValidateUnsigned(n.state, tx, height)
	if err != nil {
		return err
	}
	replaced, err := n.pool.AddUnsigned(tx, mempool.Admission{
		Priority:  valid.Priority,
		Provides:  valid.Provides,
		Longevity: valid.Longevity,
		Propagate: valid.Propagate,
	}, height)
	if err != nil {
		return err
	}
	if replaced != nil {
		n.logger.Debug("unsigned submission replaced lower priority entry",
			slog.Uint64("priority", valid.Priority),
			slog.Uint64("submitted_at", tx.SubmittedAt()))
	}
	return nil
}

// ProduceBlock applies pending submissions on top of the tip, commits the
// result and notifies subscribers. Rejected submissions are dropped from the
// pool and leave no trace in state.
func (n *Node) ProduceBlock() (*types.Block, error) {
	n.produceMu.Lock()
	defer n.produceMu.Unlock()

	parent := n.chain.CurrentHeader()
	height := parent.Height + 1
	if pruned := n.pool.Prune(height); pruned > 0 {
		n.logger.Debug("pruned expired submissions", slog.Int("count", pruned))
	}
	ordered, usage := mempool.Schedule(n.pool.Pending(), n.maxTxs, n.reservedSigned)
	if n.maxTxs > 0 && len(ordered) > n.maxTxs {
		ordered = ordered[:n.maxTxs]
	}
	if len(ordered) > 0 {
		n.logger.Debug("block scheduled",
			slog.Int("reserved_signed", usage.Target),
			slog.Int("signed", usage.Used),
			slog.Int("txs", len(ordered)))
	}

	stx := n.state.Begin()
	included := make([]*types.Transaction, 0, len(ordered))
	var events []*types.Event
	for _, tx := range ordered {
		sp := stx.Savepoint()
		evs, err := n.engine.Apply(stx, tx, height)
		if err != nil {
			stx.Restore(sp)
			n.logger.Info("submission rejected",
				slog.String("call", tx.Call.String()),
				slog.Uint64("height", height),
				slog.Any("error", err))
			continue
		}
		included = append(included, tx)
		events = append(events, evs...)
	}

	txRoot, err := ComputeTxRoot(included)
	if err != nil {
		stx.Discard()
		return nil, fmt.Errorf("core: tx root: %w", err)
	}
	header := &types.BlockHeader{
		Height:    height,
		Timestamp: n.now().Unix(),
		PrevHash:  n.chain.TipHash(),
		TxRoot:    txRoot,
		Proposer:  n.proposer,
	}
	block := types.NewBlock(header, included)
	block.Events = events
	// State and block land in one batch so a failed write leaves neither.
	if err := n.chain.AddBlockWith(block, stx.CommitWith); err != nil {
		stx.Discard()
		return nil, err
	}
	n.pool.Remove(ordered)

	interval := time.Duration(header.Timestamp-parent.Timestamp) * time.Second
	if parent.Height == 0 || header.Timestamp < parent.Timestamp {
		interval = 0
	}
	observability.Chain().RecordBlock(height, len(included), len(ordered)-len(included), interval)
	observability.Chain().RecordSchedule(usage.Used, usage.ByLane)

	n.logger.Info("block committed",
		slog.Uint64("height", height),
		slog.Int("txs", len(included)),
		slog.Int("rejected", len(ordered)-len(included)))
	if n.onEvent != nil {
		for _, evt := range events {
			n.onEvent(evt)
		}
	}
	n.notify(header)
	return block, nil
}

// SubscribeHeads delivers every committed header. Slow subscribers miss
// headers rather than stall block production.
func (n *Node) SubscribeHeads(buffer int) (<-chan *types.BlockHeader, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *types.BlockHeader, buffer)
	n.subsMu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = ch
	n.subsMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.subsMu.Lock()
			delete(n.subs, id)
			n.subsMu.Unlock()
			close(ch)
		})
	}
}

func (n *Node) notify(header *types.BlockHeader) {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- header:
		default:
		}
	}
}

// Run produces a block every interval until ctx is cancelled.
func (n *Node) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.ProduceBlock(); err != nil {
				n.logger.Error("block production failed", slog.Any("error", err))
			}
		}
	}
}
