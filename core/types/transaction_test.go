package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"pricechain/crypto"
)

func TestSignedPriceRecoversSender(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tx, err := NewSignedPrice(key, 3, 2345678)
	if err != nil {
		t.Fatalf("new signed price: %v", err)
	}
	from, err := tx.From()
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	if !bytes.Equal(from, key.PubKey().Address().Bytes()) {
		t.Fatalf("unexpected sender %x", from)
	}

	// Round trip through the JSON wire shape and tamper with the price.
	raw, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Transaction
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded.Price++
	tampered, err := decoded.From()
	if err == nil && bytes.Equal(tampered, from) {
		t.Fatalf("tampered transaction still recovers the original sender")
	}
}

func TestUnsignedTransactionHasNoSender(t *testing.T) {
	tx := NewUnsignedPrice(10, 100)
	if _, err := tx.From(); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}
	if tx.SubmittedAt() != 10 || tx.SubmittedPrice() != 100 {
		t.Fatalf("unexpected accessors: %d %d", tx.SubmittedAt(), tx.SubmittedPrice())
	}
}

func TestSignedPayloadSigner(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tx, err := NewSignedPayloadPrice(key, 12, 4200)
	if err != nil {
		t.Fatalf("new payload price: %v", err)
	}
	if tx.SubmittedAt() != 12 || tx.SubmittedPrice() != 4200 {
		t.Fatalf("payload accessors: %d %d", tx.SubmittedAt(), tx.SubmittedPrice())
	}
	signer, err := tx.Payload.Signer(tx.Signature)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if !bytes.Equal(signer.Bytes(), tx.Payload.Public) {
		t.Fatalf("payload signer mismatch")
	}
	if tx.Call.String() != "submit_price_unsigned_with_signed_payload" {
		t.Fatalf("unexpected call name %s", tx.Call)
	}
}
