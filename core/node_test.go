package core

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pricechain/core/types"
	"pricechain/mempool"
	"pricechain/native/symbolprice"
	"pricechain/storage"
)

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	params := symbolprice.DefaultParams()
	params.UnsignedInterval = 2
	engine, err := symbolprice.NewEngine(params)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	node, err := NewNode(db, engine, mempool.NewPool(0), WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	return node
}

// advanceToSlot produces empty blocks until an unsigned submission at the
// current height would be fresh.
func advanceToSlot(t *testing.T, node *Node) {
	t.Helper()
	next, err := node.Engine().NextUnsignedAt(node.State())
	if err != nil {
		t.Fatalf("next slot: %v", err)
	}
	for node.GetHeight() < next {
		if _, err := node.ProduceBlock(); err != nil {
			t.Fatalf("produce: %v", err)
		}
	}
}

func submitAndProduce(t *testing.T, node *Node, price uint64) *types.Block {
	t.Helper()
	advanceToSlot(t, node)
	if err := node.SubmitTransaction(types.NewUnsignedPrice(node.GetHeight(), price)); err != nil {
		t.Fatalf("submit %d: %v", price, err)
	}
	block, err := node.ProduceBlock()
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	return block
}

func TestNodeAcceptsOneSubmissionPerSlot(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())

	// Two samples seed a prediction of 100 so candidates get distinct priorities.
	submitAndProduce(t, node, 100)
	submitAndProduce(t, node, 100)
	advanceToSlot(t, node)

	height := node.GetHeight()
	near := types.NewUnsignedPrice(height, 101)
	far := types.NewUnsignedPrice(height, 150)
	if err := node.SubmitTransaction(near); err != nil {
		t.Fatalf("submit near: %v", err)
	}
	if err := node.SubmitTransaction(far); err != nil {
		t.Fatalf("submit far: %v", err)
	}
	if err := node.SubmitTransaction(types.NewUnsignedPrice(height, 100)); !errors.Is(err, mempool.ErrTagTaken) {
		t.Fatalf("expected ErrTagTaken, got %v", err)
	}
	block, err := node.ProduceBlock()
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if len(block.Transactions) != 1 || block.Transactions[0] != far {
		t.Fatalf("expected only the higher priority candidate, got %d txs", len(block.Transactions))
	}
	history, err := node.Engine().History(node.State())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || history[2] != 150 {
		t.Fatalf("unexpected history %v", history)
	}
	if node.Pool().Len() != 0 {
		t.Fatalf("pool should be drained")
	}
	if len(block.Events) != 1 || block.Events[0].Type != symbolprice.EventTypeNewPrice {
		t.Fatalf("unexpected events %+v", block.Events)
	}
}

func TestNodeRejectsFutureAndStaleSubmissions(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	if err := node.SubmitTransaction(types.NewUnsignedPrice(5, 1)); !errors.Is(err, symbolprice.ErrFuture) {
		t.Fatalf("expected ErrFuture, got %v", err)
	}
	submitAndProduce(t, node, 100)
	if err := node.SubmitTransaction(types.NewUnsignedPrice(0, 1)); !errors.Is(err, symbolprice.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

type faultyDB struct {
	*storage.MemDB
	failWrites bool
}

var errInjected = errors.New("write failed")

func (db *faultyDB) Write(batch *storage.Batch) error {
	if db.failWrites {
		return errInjected
	}
	return db.MemDB.Write(batch)
}

func TestNodeFailedCommitLeavesNoPartialBlock(t *testing.T) {
	db := &faultyDB{MemDB: storage.NewMemDB()}
	node := newTestNode(t, db)
	if err := node.SubmitTransaction(types.NewUnsignedPrice(0, 100)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	db.failWrites = true
	if _, err := node.ProduceBlock(); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected write error, got %v", err)
	}
	if node.GetHeight() != 0 {
		t.Fatalf("tip moved after failed commit: %d", node.GetHeight())
	}
	history, err := node.Engine().History(node.State())
	if err != nil || len(history) != 0 {
		t.Fatalf("failed commit leaked history %v (%v)", history, err)
	}
	if next, err := node.Engine().NextUnsignedAt(node.State()); err != nil || next != 0 {
		t.Fatalf("failed commit moved next slot to %d (%v)", next, err)
	}
	if node.Pool().Len() != 1 {
		t.Fatalf("submission must stay pending, pool has %d", node.Pool().Len())
	}

	db.failWrites = false
	block, err := node.ProduceBlock()
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if block.Header.Height != 1 || len(block.Transactions) != 1 {
		t.Fatalf("unexpected retried block height=%d txs=%d", block.Header.Height, len(block.Transactions))
	}
	if _, err := node.ProduceBlock(); err != nil {
		t.Fatalf("produce: %v", err)
	}
	history, err = node.Engine().History(node.State())
	if err != nil || len(history) != 1 || history[0] != 100 {
		t.Fatalf("expected the submission to land exactly once, got %v (%v)", history, err)
	}
	if next, err := node.Engine().NextUnsignedAt(node.State()); err != nil || next != 3 {
		t.Fatalf("expected next slot 3, got %d (%v)", next, err)
	}
}

func TestNodeHeadSubscription(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	heads, cancel := node.SubscribeHeads(4)
	defer cancel()
	for i := 0; i < 3; i++ {
		if _, err := node.ProduceBlock(); err != nil {
			t.Fatalf("produce: %v", err)
		}
	}
	for want := uint64(1); want <= 3; want++ {
		select {
		case header := <-heads:
			if header.Height != want {
				t.Fatalf("got head %d want %d", header.Height, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for head %d", want)
		}
	}
	cancel()
	if _, ok := <-heads; ok {
		t.Fatalf("channel should be closed after cancel")
	}
}

func TestNodeReopensLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	node := newTestNode(t, db)
	first := submitAndProduce(t, node, 4200)
	db.Close()

	db, err = storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	node = newTestNode(t, db)
	if node.GetHeight() != 1 {
		t.Fatalf("expected height 1 after reopen, got %d", node.GetHeight())
	}
	stored, err := node.Chain().GetBlockByHeight(1)
	if err != nil {
		t.Fatalf("block by height: %v", err)
	}
	if string(stored.Header.TxRoot) != string(first.Header.TxRoot) {
		t.Fatalf("tx root mismatch after reopen")
	}
	history, err := node.Engine().History(node.State())
	if err != nil || len(history) != 1 || history[0] != 4200 {
		t.Fatalf("unexpected history %v (%v)", history, err)
	}
}

func TestComputeTxRootDeterministic(t *testing.T) {
	txs := []*types.Transaction{types.NewUnsignedPrice(1, 2), types.NewUnsignedPrice(3, 4)}
	a, err := ComputeTxRoot(txs)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	b, err := ComputeTxRoot(txs)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("tx root not deterministic")
	}
	empty, err := ComputeTxRoot(nil)
	if err != nil {
		t.Fatalf("empty root: %v", err)
	}
	if string(empty) == string(a) {
		t.Fatalf("empty root must differ")
	}
}
