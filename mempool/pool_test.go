package mempool

import (
	"errors"
	"testing"

	"pricechain/core/types"
	"pricechain/crypto"
)

func admission(tag string, priority uint64) Admission {
	return Admission{Priority: priority, Provides: []byte(tag), Longevity: 5, Propagate: true}
}

func TestAddUnsignedReplacesOnlyOnHigherPriority(t *testing.T) {
	pool := NewPool(0)
	low := types.NewUnsignedPrice(10, 100)
	high := types.NewUnsignedPrice(10, 200)
	equal := types.NewUnsignedPrice(10, 300)

	if _, err := pool.AddUnsigned(low, admission("slot", 10), 10); err != nil {
		t.Fatalf("add low: %v", err)
	}
	replaced, err := pool.AddUnsigned(high, admission("slot", 20), 10)
	if err != nil {
		t.Fatalf("add high: %v", err)
	}
	if replaced != low {
		t.Fatalf("expected low to be replaced")
	}
	if _, err := pool.AddUnsigned(equal, admission("slot", 20), 10); !errors.Is(err, ErrTagTaken) {
		t.Fatalf("expected ErrTagTaken, got %v", err)
	}
	lanes := pool.Pending()
	if len(lanes.Unsigned) != 1 || lanes.Unsigned[0] != high {
		t.Fatalf("unexpected pending set %+v", lanes.Unsigned)
	}
}

func TestPendingOrdersByPriority(t *testing.T) {
	pool := NewPool(0)
	a := types.NewUnsignedPrice(1, 1)
	b := types.NewUnsignedPrice(1, 2)
	c := types.NewUnsignedPrice(1, 3)
	pool.AddUnsigned(a, admission("a", 5), 1)
	pool.AddUnsigned(b, admission("b", 50), 1)
	pool.AddUnsigned(c, admission("c", 5), 1)
	got := pool.Pending().Unsigned
	if len(got) != 3 || got[0] != b || got[1] != a || got[2] != c {
		t.Fatalf("unexpected order")
	}
}

func TestPruneAndExpiredReplacement(t *testing.T) {
	pool := NewPool(0)
	old := types.NewUnsignedPrice(1, 1)
	pool.AddUnsigned(old, admission("slot", 100), 1)
	if n := pool.Prune(5); n != 0 {
		t.Fatalf("pruned %d entries before expiry", n)
	}
	fresh := types.NewUnsignedPrice(6, 2)
	replaced, err := pool.AddUnsigned(fresh, admission("slot", 1), 6)
	if err != nil {
		t.Fatalf("expired entry should yield its tag: %v", err)
	}
	if replaced != old {
		t.Fatalf("expected expired entry to be returned")
	}
	if n := pool.Prune(11); n != 1 {
		t.Fatalf("expected one pruned entry, got %d", n)
	}
	if pool.Len() != 0 {
		t.Fatalf("pool not empty after prune")
	}
}

func TestSignedLane(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pool := NewPool(1)
	first, _ := types.NewSignedPrice(key, 0, 100)
	second, _ := types.NewSignedPrice(key, 1, 100)
	if err := pool.AddSigned(first); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := pool.AddSigned(first); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := pool.AddSigned(second); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
	pool.Remove([]*types.Transaction{first})
	if err := pool.AddSigned(second); err != nil {
		t.Fatalf("add after remove: %v", err)
	}
}

func TestSchedule(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	s1, _ := types.NewSignedPrice(key, 0, 1)
	s2, _ := types.NewSignedPrice(key, 1, 1)
	u1 := types.NewUnsignedPrice(1, 1)
	u2 := types.NewUnsignedPrice(1, 2)

	lanes := Classify([]*types.Transaction{u1, s1, nil, u2, s2})
	if len(lanes.Signed) != 2 || len(lanes.Unsigned) != 2 {
		t.Fatalf("unexpected classification %+v", lanes)
	}
	ordered, usage := Schedule(lanes, 3, 1)
	if len(ordered) != 4 {
		t.Fatalf("expected all transactions returned, got %d", len(ordered))
	}
	if ordered[0] != s1 || ordered[1] != u1 || ordered[2] != u2 || ordered[3] != s2 {
		t.Fatalf("unexpected schedule order")
	}
	if usage.Target != 1 || usage.Used != 1 || usage.ByLane["signed"] != 1 || usage.ByLane["unsigned"] != 2 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	ordered, usage = Schedule(Lanes{Signed: []*types.Transaction{s1, s2}}, 2, 0)
	if usage.Used != 2 || ordered[0] != s1 {
		t.Fatalf("unused capacity must flow back to the signed lane: %+v", usage)
	}
	if out, _ := Schedule(Lanes{}, 5, 1); out != nil {
		t.Fatalf("expected nil schedule for empty lanes")
	}
}
