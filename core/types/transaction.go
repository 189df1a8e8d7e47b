package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"pricechain/crypto"
)

// CallType identifies which symbol-price dispatchable a transaction invokes.
type CallType byte

const (
	CallSubmitPrice                    CallType = 0x01 // Signed, fee-paying submission from an authority
	CallSubmitPriceUnsigned            CallType = 0x02 // Unsigned submission carrying the submitter's block
	CallSubmitPriceUnsignedWithPayload CallType = 0x03 // Unsigned submission carrying a signed payload
)

func (c CallType) String() string {
	switch c {
	case CallSubmitPrice:
		return "submit_price"
	case CallSubmitPriceUnsigned:
		return "submit_price_unsigned"
	case CallSubmitPriceUnsignedWithPayload:
		return "submit_price_unsigned_with_signed_payload"
	default:
		return fmt.Sprintf("call(0x%02x)", byte(c))
	}
}

// ErrUnsigned is returned by From for transactions that carry no transaction signature.
var ErrUnsigned = errors.New("types: transaction is not signed")

// PricePayload is the body signed by an authority key for
// CallSubmitPriceUnsignedWithPayload.
type PricePayload struct {
	BlockNumber uint64 `json:"blockNumber"`
	Price       uint64 `json:"price"`
	Public      []byte `json:"public"`
}

// Hash returns the Keccak digest of the RLP-encoded payload.
func (p PricePayload) Hash() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(p)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// Signer recovers the address that signed the payload. It does not compare
// the result with Public; callers decide what a valid proof is.
func (p PricePayload) Signer(signature []byte) (crypto.Address, error) {
	digest, err := p.Hash()
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.RecoverAddress(digest, signature)
}

// Transaction is a price submission travelling through the pool.
type Transaction struct {
	Call        CallType      `json:"call"`
	Nonce       uint64        `json:"nonce,omitempty"`
	BlockNumber uint64        `json:"blockNumber,omitempty"`
	Price       uint64        `json:"price"`
	Payload     *PricePayload `json:"payload,omitempty"`
	// Signature is the transaction signature for CallSubmitPrice and the
	// payload signature for CallSubmitPriceUnsignedWithPayload.
	Signature []byte `json:"signature,omitempty"`

	from []byte
}

// NewUnsignedPrice builds a raw unsigned submission.
func NewUnsignedPrice(blockNumber, price uint64) *Transaction {
	return &Transaction{Call: CallSubmitPriceUnsigned, BlockNumber: blockNumber, Price: price}
}

// NewSignedPayloadPrice builds an unsigned submission whose payload is signed
// by key.
func NewSignedPayloadPrice(key *crypto.PrivateKey, blockNumber, price uint64) (*Transaction, error) {
	payload := PricePayload{BlockNumber: blockNumber, Price: price, Public: key.PubKey().Address().Bytes()}
	digest, err := payload.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := key.SignHash(digest)
	if err != nil {
		return nil, err
	}
	return &Transaction{Call: CallSubmitPriceUnsignedWithPayload, Payload: &payload, Signature: sig}, nil
}

// NewSignedPrice builds and signs a fee-paying submission.
func NewSignedPrice(key *crypto.PrivateKey, nonce, price uint64) (*Transaction, error) {
	tx := &Transaction{Call: CallSubmitPrice, Nonce: nonce, Price: price}
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return tx, nil
}

// IsSigned reports whether the transaction authenticates its sender.
func (tx *Transaction) IsSigned() bool {
	return tx != nil && tx.Call == CallSubmitPrice
}

// SubmittedAt returns the block number the submitter claims to have observed.
func (tx *Transaction) SubmittedAt() uint64 {
	if tx.Call == CallSubmitPriceUnsignedWithPayload && tx.Payload != nil {
		return tx.Payload.BlockNumber
	}
	return tx.BlockNumber
}

// SubmittedPrice returns the candidate price regardless of call shape.
func (tx *Transaction) SubmittedPrice() uint64 {
	if tx.Call == CallSubmitPriceUnsignedWithPayload && tx.Payload != nil {
		return tx.Payload.Price
	}
	return tx.Price
}

// Hash covers every field except Signature.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Call          CallType
		Nonce         uint64
		BlockNumber   uint64
		Price         uint64
		PayloadBlock  uint64
		PayloadPrice  uint64
		PayloadPublic []byte
	}{Call: tx.Call, Nonce: tx.Nonce, BlockNumber: tx.BlockNumber, Price: tx.Price}
	if tx.Payload != nil {
		txData.PayloadBlock = tx.Payload.BlockNumber
		txData.PayloadPrice = tx.Payload.Price
		txData.PayloadPublic = tx.Payload.Public
	}
	b, err := rlp.EncodeToBytes(txData)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(b), nil
}

func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := key.SignHash(hash)
	if err != nil {
		return err
	}
	tx.Signature = sig
	tx.from = nil
	return nil
}

// From recovers the sender of a signed transaction.
func (tx *Transaction) From() ([]byte, error) {
	if !tx.IsSigned() || len(tx.Signature) == 0 {
		return nil, ErrUnsigned
	}
	if tx.from != nil {
		return tx.from, nil
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	addr, err := crypto.RecoverAddress(hash, tx.Signature)
	if err != nil {
		return nil, err
	}
	tx.from = addr.Bytes()
	return tx.from, nil
}
