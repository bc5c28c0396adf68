package blockchain

import "strconv"

// VerifyBlocks checks a chain given in index order. Genesis must carry
// previous_hash "0"; every block must reproduce its own header hash, link to its
// predecessor, and reproduce its Merkle root from transactions whose content hashes
// are themselves recomputed. Difficulty is not checked: it is a sealing parameter and
// may change between runs.
func VerifyBlocks(blocks []Block) error {
	for i := range blocks {
		cur := &blocks[i]

		if cur.Index != int64(i) {
			return &ChainError{Index: cur.Index, Field: FieldIndex, Expected: strconv.Itoa(i), Actual: strconv.FormatInt(cur.Index, 10)}
		}

		if expected := cur.CalculateHash(); cur.Hash != expected {
			return &ChainError{Index: cur.Index, Field: FieldHash, Expected: expected, Actual: cur.Hash}
		}

		expectedPrev := GenesisPrevHash
		if i > 0 {
			expectedPrev = blocks[i-1].Hash
		}
		if cur.PrevHash != expectedPrev {
			return &ChainError{Index: cur.Index, Field: FieldPrevHash, Expected: expectedPrev, Actual: cur.PrevHash}
		}

		for j := range cur.Transactions {
			tx := &cur.Transactions[j]
			if expected := tx.CalculateHash(); tx.Hash != expected {
				return &ChainError{Index: cur.Index, Field: FieldTransactionHash, Expected: expected, Actual: tx.Hash}
			}
		}

		if expected := MerkleRootOf(cur.Transactions); cur.MerkleRoot != expected {
			return &ChainError{Index: cur.Index, Field: FieldMerkleRoot, Expected: expected, Actual: cur.MerkleRoot}
		}
	}
	return nil
}
