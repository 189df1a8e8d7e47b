package offchain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"pricechain/storage"
)

// ClaimOutcome is the result of a TryClaim call.
type ClaimOutcome int

const (
	// Claimed means this run holds the right to submit for the current height.
	Claimed ClaimOutcome = iota
	// RecentlySent means a claim was made less than the grace period ago.
	RecentlySent
	// LostRace means another local run updated the lock between read and write.
	LostRace
)

func (o ClaimOutcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case RecentlySent:
		return "recently_sent"
	case LostRace:
		return "lost_race"
	default:
		return fmt.Sprintf("claim(%d)", int(o))
	}
}

// lastSendKey holds the height of the last successful claim in node-local
// storage. It never reaches the ledger.
var lastSendKey = []byte("symbol-price::last-send")

// Coordinator throttles local worker runs through a compare-and-set lock.
type Coordinator struct {
	store storage.LocalStore
}

// NewCoordinator wraps the node-local store.
func NewCoordinator(store storage.LocalStore) *Coordinator {
	return &Coordinator{store: store}
}

// LastClaim returns the height of the last successful claim.
func (c *Coordinator) LastClaim() (uint64, bool, error) {
	raw, present, err := c.read()
	if err != nil || !present {
		return 0, false, err
	}
	height, err := decodeHeight(raw)
	return height, err == nil, err
}

// TryClaim attempts to take the submission lock at currentHeight. At most one
// write happens per call.
func (c *Coordinator) TryClaim(currentHeight, gracePeriod uint64) (ClaimOutcome, error) {
	raw, present, err := c.read()
	if err != nil {
		return LostRace, err
	}
	if present {
		previous, err := decodeHeight(raw)
		if err != nil {
			return LostRace, err
		}
		until := previous + gracePeriod
		if until < previous {
			until = ^uint64(0)
		}
		if currentHeight < until {
			return RecentlySent, nil
		}
	}
	var expected []byte
	if present {
		expected = raw
	}
	ok, err := c.store.CompareAndSet(lastSendKey, expected, encodeHeight(currentHeight))
	if err != nil {
		return LostRace, err
	}
	if !ok {
		return LostRace, nil
	}
	return Claimed, nil
}

func (c *Coordinator) read() ([]byte, bool, error) {
	raw, err := c.store.Get(lastSendKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func encodeHeight(h uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, h)
}

func decodeHeight(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("offchain: corrupt last-send value of %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
