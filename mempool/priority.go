package mempool

import (
	"math"

	"pricechain/core/types"
)

// Lanes groups transactions into the fee-paying signed queue and the
// priority-ordered unsigned queue.
type Lanes struct {
	Signed   []*types.Transaction
	Unsigned []*types.Transaction
}

const (
	laneLabelSigned   = "signed"
	laneLabelUnsigned = "unsigned"
)

func laneLabel(tx *types.Transaction) string {
	if tx.IsSigned() {
		return laneLabelSigned
	}
	return laneLabelUnsigned
}

// Classify separates transactions into signed and unsigned lanes, keeping
// their relative order.
func Classify(txs []*types.Transaction) Lanes {
	lanes := Lanes{Signed: make([]*types.Transaction, 0, len(txs)), Unsigned: make([]*types.Transaction, 0, len(txs))}
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if tx.IsSigned() {
			lanes.Signed = append(lanes.Signed, tx)
			continue
		}
		lanes.Unsigned = append(lanes.Unsigned, tx)
	}
	return lanes
}

// Usage captures how much of the reserved signed capacity a block consumed.
type Usage struct {
	// Target is the number of slots reserved for signed submissions.
	Target int
	// Used is the number of signed submissions scheduled inside the block.
	Used int
	// ByLane counts the transactions scheduled into the block by lane label.
	ByLane map[string]int
}

// Schedule orders the lanes so that the first maxTxs entries give signed
// submissions up to reservedSigned slots, fill the remainder with unsigned
// ones and hand unused capacity back to whichever lane still has work.
func Schedule(lanes Lanes, maxTxs int, reservedSigned int) ([]*types.Transaction, Usage) {
	total := len(lanes.Signed) + len(lanes.Unsigned)
	if total == 0 {
		return nil, Usage{}
	}
	if maxTxs <= 0 || maxTxs > total {
		maxTxs = total
	}
	target := reservedSigned
	if target < 0 {
		target = 0
	}
	if target > maxTxs {
		target = maxTxs
	}

	signedTake := int(math.Min(float64(target), float64(len(lanes.Signed))))
	unsignedTake := maxTxs - signedTake
	if unsignedTake > len(lanes.Unsigned) {
		unsignedTake = len(lanes.Unsigned)
	}
	if remaining := maxTxs - (signedTake + unsignedTake); remaining > 0 {
		if extra := len(lanes.Signed) - signedTake; extra > 0 {
			if remaining < extra {
				extra = remaining
			}
			signedTake += extra
		}
	}

	ordered := make([]*types.Transaction, 0, total)
	ordered = append(ordered, lanes.Signed[:signedTake]...)
	ordered = append(ordered, lanes.Unsigned[:unsignedTake]...)
	ordered = append(ordered, lanes.Signed[signedTake:]...)
	ordered = append(ordered, lanes.Unsigned[unsignedTake:]...)

	byLane := make(map[string]int, 2)
	for _, tx := range ordered[:maxTxs] {
		byLane[laneLabel(tx)]++
	}
	return ordered, Usage{Target: target, Used: signedTake, ByLane: byLane}
}
