package symbolprice

import (
	"errors"
	"fmt"
	"strconv"

	"pricechain/core/types"
	"pricechain/crypto"
)

const (
	// EventTypeNewPrice is emitted whenever a price enters the history.
	EventTypeNewPrice = "symbolprice.new_price"
)

// ErrInvalidNonce is returned when a signed submission replays or skips a nonce.
var ErrInvalidNonce = errors.New("symbolprice: invalid nonce")

// StateReader is the read half of the ledger key-value state.
type StateReader interface {
	KVGet(key []byte, out interface{}) (bool, error)
}

// State is the ledger key-value state mutated inside a block transition.
type State interface {
	StateReader
	KVPut(key []byte, value interface{}) error
}

type predictedRecord struct {
	Value      uint64
	ComputedAt uint64
}

// Engine owns the price history, the prediction and the unsigned submission
// gate.
type Engine struct {
	params      Params
	predictor   Predictor
	authorities map[string]struct{}
}

// NewEngine validates params and builds an engine.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	auths, err := params.authoritySet()
	if err != nil {
		return nil, err
	}
	return &Engine{params: params, predictor: params.Predictor(), authorities: auths}, nil
}

// Params returns the engine configuration.
func (e *Engine) Params() Params { return e.params }

// History loads the stored price history.
func (e *Engine) History(state StateReader) (History, error) {
	var raw []uint64
	if _, err := state.KVGet(pricesKey, &raw); err != nil {
		return nil, fmt.Errorf("symbolprice: load history: %w", err)
	}
	return decodeHistory(raw), nil
}

// Predicted loads the stored prediction, if any.
func (e *Engine) Predicted(state StateReader) (PredictedPrice, bool, error) {
	var rec predictedRecord
	ok, err := state.KVGet(predictedPriceKey, &rec)
	if err != nil {
		return PredictedPrice{}, false, fmt.Errorf("symbolprice: load prediction: %w", err)
	}
	if !ok {
		return PredictedPrice{}, false, nil
	}
	return PredictedPrice{Value: Price(rec.Value), ComputedAt: rec.ComputedAt}, true, nil
}

// NextUnsignedAt returns the earliest submitter height accepted for an
// unsigned submission. Zero when none has been accepted yet.
func (e *Engine) NextUnsignedAt(state StateReader) (uint64, error) {
	var next uint64
	if _, err := state.KVGet(nextUnsignedAtKey, &next); err != nil {
		return 0, fmt.Errorf("symbolprice: load next unsigned slot: %w", err)
	}
	return next, nil
}

// Nonce returns the next expected nonce for a signed submitter.
func (e *Engine) Nonce(state StateReader, addr []byte) (uint64, error) {
	var nonce uint64
	if _, err := state.KVGet(signedNonceKey(addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// IsAuthority reports whether addr may send signed submissions.
func (e *Engine) IsAuthority(addr []byte) bool {
	_, ok := e.authorities[string(addr)]
	return ok
}

// Apply executes tx against state at height. Unsigned submissions are
// re-validated first so that an entry admitted earlier but overtaken by
// another acceptance cannot land twice for the same slot.
func (e *Engine) Apply(state State, tx *types.Transaction, height uint64) ([]*types.Event, error) {
	if tx == nil {
		return nil, invalid(InvalidCall, "nil transaction")
	}
	switch tx.Call {
	case types.CallSubmitPrice:
		return e.applySigned(state, tx, height)
	case types.CallSubmitPriceUnsigned, types.CallSubmitPriceUnsignedWithPayload:
		if _, err := e.ValidateUnsigned(state, tx, height); err != nil {
			return nil, err
		}
		events, err := e.addPrice(state, Price(tx.SubmittedPrice()), height, nil)
		if err != nil {
			return nil, err
		}
		next, err := e.NextUnsignedAt(state)
		if err != nil {
			return nil, err
		}
		candidate := height + e.params.UnsignedInterval
		if candidate < height {
			candidate = ^uint64(0)
		}
		if candidate > next {
			next = candidate
		}
		if err := state.KVPut(nextUnsignedAtKey, next); err != nil {
			return nil, err
		}
		return events, nil
	default:
		return nil, invalid(InvalidCall, "unknown call %s", tx.Call)
	}
}

func (e *Engine) applySigned(state State, tx *types.Transaction, height uint64) ([]*types.Event, error) {
	from, err := tx.From()
	if err != nil {
		return nil, invalid(InvalidBadProof, "%v", err)
	}
	if !e.IsAuthority(from) {
		return nil, ErrUnauthorized
	}
	expected, err := e.Nonce(state, from)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != expected {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, expected, tx.Nonce)
	}
	if err := state.KVPut(signedNonceKey(from), expected+1); err != nil {
		return nil, err
	}
	return e.addPrice(state, Price(tx.Price), height, from)
}

// addPrice is the single mutation point of the history and the prediction.
func (e *Engine) addPrice(state State, price Price, height uint64, who []byte) ([]*types.Event, error) {
	history, err := e.History(state)
	if err != nil {
		return nil, err
	}
	history = history.Accept(price, e.params.MaxPrices)
	if err := state.KVPut(pricesKey, history.encode()); err != nil {
		return nil, err
	}
	attrs := map[string]string{
		"price":  price.String(),
		"height": strconv.FormatUint(height, 10),
	}
	if who != nil {
		if addr, err := crypto.NewAddress(crypto.AuthorityPrefix, who); err == nil {
			attrs["who"] = addr.String()
		}
	}
	if predicted, ok := e.predictor.Predict(history); ok {
		rec := predictedRecord{Value: uint64(predicted), ComputedAt: height}
		if err := state.KVPut(predictedPriceKey, rec); err != nil {
			return nil, err
		}
		attrs["predicted"] = predicted.String()
	}
	return []*types.Event{{Type: EventTypeNewPrice, Attributes: attrs}}, nil
}
