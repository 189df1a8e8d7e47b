package symbolprice

import (
	"math"
	"math/big"
)

// Predictor computes an exponential moving average over a History.
type Predictor struct {
	// Smoothing is the weight of each new sample, expected in [0, 1].
	Smoothing *big.Rat
	// IncludeLatest feeds the final sample into the update loop. When false
	// the newest sample is ignored and the estimate trails by one.
	IncludeLatest bool
}

// SmoothingForPeriod returns the exact rational 2/(period+1).
func SmoothingForPeriod(period uint32) *big.Rat {
	return big.NewRat(2, int64(period)+1)
}

// TruncatedSmoothing returns 2/(period+1) computed in integer arithmetic,
// reproducing the legacy factor that is zero for every period above one.
func TruncatedSmoothing(period uint32) *big.Rat {
	return new(big.Rat).SetInt64(2 / (int64(period) + 1))
}

// Predict returns the EMA of h, or false when fewer than two samples exist.
func (p Predictor) Predict(h History) (Price, bool) {
	if len(h) < 2 {
		return 0, false
	}
	smoothing := p.Smoothing
	if smoothing == nil {
		smoothing = new(big.Rat)
	}
	end := len(h) - 1
	if p.IncludeLatest {
		end = len(h)
	}
	ema := new(big.Int).SetUint64(uint64(h[0]))
	diff := new(big.Int)
	step := new(big.Rat)
	for i := 1; i < end; i++ {
		diff.SetUint64(uint64(h[i]))
		diff.Sub(diff, ema)
		step.SetInt(diff)
		step.Mul(step, smoothing)
		ema.Add(ema, roundHalfAway(step))
	}
	switch {
	case ema.Sign() < 0:
		return 0, true
	case !ema.IsUint64():
		return Price(math.MaxUint64), true
	}
	return Price(ema.Uint64()), true
}

// roundHalfAway rounds r to the nearest integer, ties away from zero.
func roundHalfAway(r *big.Rat) *big.Int {
	num := new(big.Int).Abs(r.Num())
	den := r.Denom()
	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Lsh(rem, 1).Cmp(den) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	if r.Sign() < 0 {
		q.Neg(q)
	}
	return q
}
