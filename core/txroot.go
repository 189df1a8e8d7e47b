package core

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"pricechain/core/types"
)

// ComputeTxRoot commits the block's submissions to a Merkle-Patricia trie
// keyed by the RLP-encoded index and returns the root hash. An empty block
// yields the empty trie root.
func ComputeTxRoot(txs []*types.Transaction) ([]byte, error) {
	trieDB := triedb.NewDatabase(rawdb.NewDatabase(memorydb.New()), triedb.HashDefaults)
	trie, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	for i, tx := range txs {
		payload, err := rlp.EncodeToBytes(tx)
		if err != nil {
			return nil, err
		}
		if err := trie.Update(rlp.AppendUint64(nil, uint64(i)), payload); err != nil {
			return nil, err
		}
	}
	return trie.Hash().Bytes(), nil
}
