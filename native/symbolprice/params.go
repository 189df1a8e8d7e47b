package symbolprice

import (
	"fmt"
	"math/big"
	"strings"

	"pricechain/crypto"
)

// Params holds the module constants.
type Params struct {
	// GracePeriod is the minimum number of blocks between two local worker claims.
	GracePeriod uint64
	// UnsignedInterval is the cooldown, in blocks, after an unsigned submission is accepted.
	UnsignedInterval uint64
	// UnsignedPriority is the base pool priority of unsigned submissions.
	UnsignedPriority uint64
	// MaxPrices bounds the on-chain price history.
	MaxPrices uint32
	// Longevity is the number of blocks an admitted unsigned submission stays valid in the pool.
	Longevity uint64

	SmoothingPeriod uint32
	// EMAIncludeLatest feeds the newest sample into the EMA update loop.
	EMAIncludeLatest bool
	// LegacyTruncatedSmoothing selects the integer-truncated smoothing factor
	// 2/(period+1), which is zero for any period above one.
	LegacyTruncatedSmoothing bool

	// Authorities lists bech32 addresses allowed to send signed submissions.
	Authorities []string
}

// DefaultParams mirrors the reference runtime configuration.
func DefaultParams() Params {
	return Params{
		GracePeriod:      5,
		UnsignedInterval: 128,
		UnsignedPriority: 1 << 20,
		MaxPrices:        64,
		Longevity:        5,
		SmoothingPeriod:  2,
		EMAIncludeLatest: true,
	}
}

// Validate checks parameter bounds.
func (p Params) Validate() error {
	if p.MaxPrices == 0 {
		return fmt.Errorf("symbolprice: max prices must be positive")
	}
	if p.UnsignedInterval == 0 {
		return fmt.Errorf("symbolprice: unsigned interval must be at least one block")
	}
	if p.Longevity == 0 {
		return fmt.Errorf("symbolprice: longevity must be at least one block")
	}
	if p.SmoothingPeriod == 0 {
		return fmt.Errorf("symbolprice: smoothing period must be positive")
	}
	for _, auth := range p.Authorities {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(auth)); err != nil {
			return fmt.Errorf("symbolprice: authority %q: %w", auth, err)
		}
	}
	return nil
}

// Predictor builds the EMA predictor described by the parameters.
func (p Params) Predictor() Predictor {
	var smoothing *big.Rat
	if p.LegacyTruncatedSmoothing {
		smoothing = TruncatedSmoothing(p.SmoothingPeriod)
	} else {
		smoothing = SmoothingForPeriod(p.SmoothingPeriod)
	}
	return Predictor{Smoothing: smoothing, IncludeLatest: p.EMAIncludeLatest}
}

func (p Params) authoritySet() (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(p.Authorities))
	for _, auth := range p.Authorities {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(auth))
		if err != nil {
			return nil, err
		}
		set[string(addr.Bytes())] = struct{}{}
	}
	return set, nil
}
