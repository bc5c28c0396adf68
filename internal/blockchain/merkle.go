package blockchain

import "wagerledger/internal/crypto"

// EmptyMerkleRoot 是没有交易的区块使用的 Merkle 根
const EmptyMerkleRoot = "0"

// MerkleRoot reduces the hashes pairwise until one remains. An odd level pairs its
// last element with itself. At least one reduction always happens, so a single
// hash h yields hash(h||h).
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return EmptyMerkleRoot
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, crypto.HashPair(level[i], right))
		}
		level = next
		if len(level) == 1 {
			return level[0]
		}
	}
}

// MerkleRootOf 按给定顺序计算交易列表的 Merkle 根
func MerkleRootOf(transactions []Transaction) string {
	hashes := make([]string, len(transactions))
	for i := range transactions {
		hashes[i] = transactions[i].Hash
	}
	return MerkleRoot(hashes)
}
