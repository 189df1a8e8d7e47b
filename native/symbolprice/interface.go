package symbolprice

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// SymbolPriceReader is the read surface other modules consume.
type SymbolPriceReader interface {
	GetPrice(symbol string, currentHeight uint64) (SymbolPrice, error)
	GetPriceAt(symbol string, at time.Time) (SymbolPrice, error)
	FetchLivePrice(ctx context.Context, symbol string) (SymbolPrice, error)
}

// LiveSource fetches the current price straight from the external feed.
type LiveSource interface {
	FetchPrice(ctx context.Context) (Price, error)
}

// Reader serves SymbolPriceReader from committed ledger state.
type Reader struct {
	engine  *Engine
	state   StateReader
	live    LiveSource
	limiter *rate.Limiter
}

var _ SymbolPriceReader = (*Reader)(nil)

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithLiveSource enables FetchLivePrice.
func WithLiveSource(src LiveSource) ReaderOption {
	return func(r *Reader) { r.live = src }
}

// WithLiveLimiter bounds how often FetchLivePrice may reach the feed.
func WithLiveLimiter(l *rate.Limiter) ReaderOption {
	return func(r *Reader) { r.limiter = l }
}

// NewReader builds a reader over committed state.
func NewReader(engine *Engine, state StateReader, opts ...ReaderOption) *Reader {
	r := &Reader{engine: engine, state: state}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// GetPrice returns the prediction when it was computed at or after
// currentHeight, otherwise the latest accepted sample.
func (r *Reader) GetPrice(symbol string, currentHeight uint64) (SymbolPrice, error) {
	if symbol != SupportedSymbol {
		return SymbolPrice{}, ErrUnsupportedSymbol
	}
	predicted, ok, err := r.engine.Predicted(r.state)
	if err != nil {
		return SymbolPrice{}, err
	}
	if ok && predicted.ComputedAt >= currentHeight {
		return newSymbolPrice(predicted.Value), nil
	}
	history, err := r.engine.History(r.state)
	if err != nil {
		return SymbolPrice{}, err
	}
	if latest, ok := history.Latest(); ok {
		return newSymbolPrice(latest), nil
	}
	return SymbolPrice{}, ErrNoPrice
}

// GetPriceAt is not backed by any timestamp index.
func (r *Reader) GetPriceAt(symbol string, _ time.Time) (SymbolPrice, error) {
	if symbol != SupportedSymbol {
		return SymbolPrice{}, ErrUnsupportedSymbol
	}
	return SymbolPrice{}, ErrNotImplemented
}

// FetchLivePrice queries the feed directly. The result is not recorded.
func (r *Reader) FetchLivePrice(ctx context.Context, symbol string) (SymbolPrice, error) {
	if symbol != SupportedSymbol {
		return SymbolPrice{}, ErrUnsupportedSymbol
	}
	if r.live == nil {
		return SymbolPrice{}, ErrLiveFetchUnavailable
	}
	if r.limiter != nil && !r.limiter.Allow() {
		return SymbolPrice{}, ErrLiveFetchUnavailable
	}
	price, err := r.live.FetchPrice(ctx)
	if err != nil {
		return SymbolPrice{}, err
	}
	return newSymbolPrice(price), nil
}
