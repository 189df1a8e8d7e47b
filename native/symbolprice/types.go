package symbolprice

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
)

const (
	// SupportedSymbol is the only trading pair this module serves.
	SupportedSymbol = "BTC_USDT"
	// QuoteCurrency is the JSON key the price source reports the price under.
	QuoteCurrency = "USD"
	// PriceDecimals is the implicit scale of Price (cents).
	PriceDecimals uint8 = 2
)

// Price is an unsigned fixed-point amount in minor currency units (cents).
type Price uint64

func (p Price) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// PredictedPrice is the EMA estimate together with the height it was computed at.
type PredictedPrice struct {
	Value      Price
	ComputedAt uint64
}

// SymbolPrice is the value handed to other modules. Value / 10^Decimals is
// the real price.
type SymbolPrice struct {
	Value    *uint256.Int
	Decimals uint8
}

func newSymbolPrice(p Price) SymbolPrice {
	return SymbolPrice{Value: uint256.NewInt(uint64(p)), Decimals: PriceDecimals}
}

func (s SymbolPrice) String() string {
	if s.Value == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s/10^%d", s.Value.Dec(), s.Decimals)
}

var (
	// ErrUnsupportedSymbol is returned for any symbol other than SupportedSymbol.
	ErrUnsupportedSymbol = errors.New("symbolprice: unsupported symbol")
	// ErrNoPrice indicates neither a prediction nor a raw sample is available.
	ErrNoPrice = errors.New("symbolprice: no price available")
	// ErrNotImplemented marks historical lookups, which are not backed by state.
	ErrNotImplemented = errors.New("symbolprice: price lookup by timestamp not implemented")
	// ErrUnauthorized is returned when a signed submission comes from a non-authority account.
	ErrUnauthorized = errors.New("symbolprice: sender is not an oracle authority")
	// ErrLiveFetchUnavailable is returned when no fetcher is configured or the limiter refuses.
	ErrLiveFetchUnavailable = errors.New("symbolprice: live fetch unavailable")
)

// InvalidReason enumerates why a candidate transaction is refused.
type InvalidReason string

const (
	InvalidStale    InvalidReason = "stale"
	InvalidFuture   InvalidReason = "future"
	InvalidBadProof InvalidReason = "bad_proof"
	InvalidCall     InvalidReason = "call"
)

// Sentinel rejections; InvalidTransactionError matches them through errors.Is.
var (
	ErrStale    = &InvalidTransactionError{Reason: InvalidStale}
	ErrFuture   = &InvalidTransactionError{Reason: InvalidFuture}
	ErrBadProof = &InvalidTransactionError{Reason: InvalidBadProof}
	ErrCall     = &InvalidTransactionError{Reason: InvalidCall}
)

// InvalidTransactionError reports a pool-level rejection of a candidate.
type InvalidTransactionError struct {
	Reason InvalidReason
	Detail string
}

func (e *InvalidTransactionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("symbolprice: invalid transaction: %s", e.Reason)
	}
	return fmt.Sprintf("symbolprice: invalid transaction: %s: %s", e.Reason, e.Detail)
}

// Is matches on Reason so wrapped rejections with details still compare equal
// to the sentinels.
func (e *InvalidTransactionError) Is(target error) bool {
	var other *InvalidTransactionError
	if !errors.As(target, &other) {
		return false
	}
	return other.Reason == e.Reason
}

func invalid(reason InvalidReason, format string, args ...interface{}) error {
	return &InvalidTransactionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ValidTransaction is the pool-facing admission record for an unsigned
// submission.
type ValidTransaction struct {
	Priority uint64
	// Provides deduplicates candidates: one pool entry per tag.
	Provides  []byte
	Longevity uint64
	Propagate bool
}
