package symbolprice

import (
	"math"

	"github.com/holiman/uint256"

	"pricechain/core/types"
)

var maxPriority = uint256.NewInt(math.MaxUint64)

// ValidateUnsigned decides whether an unsigned submission may enter the pool
// at currentHeight. It reads state but never writes it.
func (e *Engine) ValidateUnsigned(state StateReader, tx *types.Transaction, currentHeight uint64) (ValidTransaction, error) {
	if tx == nil {
		return ValidTransaction{}, invalid(InvalidCall, "nil transaction")
	}
	switch tx.Call {
	case types.CallSubmitPriceUnsigned:
	case types.CallSubmitPriceUnsignedWithPayload:
		if err := e.verifyPayload(tx); err != nil {
			return ValidTransaction{}, err
		}
	default:
		return ValidTransaction{}, invalid(InvalidCall, "%s is not an unsigned call", tx.Call)
	}

	next, err := e.NextUnsignedAt(state)
	if err != nil {
		return ValidTransaction{}, err
	}
	submittedAt := tx.SubmittedAt()
	if next > submittedAt {
		return ValidTransaction{}, invalid(InvalidStale, "next accepted slot %d, submitted at %d", next, submittedAt)
	}
	if currentHeight < submittedAt {
		return ValidTransaction{}, invalid(InvalidFuture, "current height %d, submitted at %d", currentHeight, submittedAt)
	}

	predicted, ok, err := e.Predicted(state)
	if err != nil {
		return ValidTransaction{}, err
	}
	var reference Price
	if ok {
		reference = predicted.Value
	}
	return ValidTransaction{
		Priority:  Priority(e.params.UnsignedPriority, Price(tx.SubmittedPrice()), reference),
		Provides:  providesTag(next),
		Longevity: e.params.Longevity,
		Propagate: true,
	}, nil
}

func (e *Engine) verifyPayload(tx *types.Transaction) error {
	if tx.Payload == nil {
		return invalid(InvalidCall, "missing payload")
	}
	signer, err := tx.Payload.Signer(tx.Signature)
	if err != nil {
		return invalid(InvalidBadProof, "%v", err)
	}
	if string(signer.Bytes()) != string(tx.Payload.Public) {
		return invalid(InvalidBadProof, "payload signed by %s", signer)
	}
	if len(e.authorities) > 0 {
		if _, ok := e.authorities[string(signer.Bytes())]; !ok {
			return invalid(InvalidBadProof, "payload signer %s is not an authority", signer)
		}
	}
	return nil
}

// Priority scores a candidate price by its distance from the reference
// prediction: base + |price-reference|*100/reference*1000, saturating. A zero
// reference yields the base priority.
func Priority(base uint64, price, reference Price) uint64 {
	if reference == 0 {
		return base
	}
	var delta uint64
	if price >= reference {
		delta = uint64(price - reference)
	} else {
		delta = uint64(reference - price)
	}
	pct := new(uint256.Int).Mul(uint256.NewInt(delta), uint256.NewInt(100))
	pct.Div(pct, uint256.NewInt(uint64(reference)))
	score, overflow := new(uint256.Int).MulOverflow(pct, uint256.NewInt(1000))
	if !overflow {
		score, overflow = score.AddOverflow(score, uint256.NewInt(base))
	}
	if overflow || score.Gt(maxPriority) {
		return math.MaxUint64
	}
	return score.Uint64()
}
