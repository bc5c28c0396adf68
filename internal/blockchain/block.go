package blockchain

import (
	"strconv"
	"strings"

	"wagerledger/internal/crypto"
)

// GenesisPrevHash 是创世块的 previous_hash
const GenesisPrevHash = "0"

type Block struct {
	ID           int64         `json:"-"`
	Index        int64         `json:"index"`
	Timestamp    float64       `json:"timestamp"`
	PrevHash     string        `json:"previous_hash"`
	Hash         string        `json:"hash"`
	Nonce        int64         `json:"nonce"`
	MerkleRoot   string        `json:"merkle_root"`
	Transactions []Transaction `json:"transactions"`
}

// NewBlock builds an unsealed block over transactions, in the given order. The hash
// is provisional until Mine runs.
func NewBlock(index int64, timestamp float64, prevHash string, transactions []Transaction) *Block {
	block := &Block{
		Index:        index,
		Timestamp:    timestamp,
		PrevHash:     prevHash,
		Transactions: transactions,
		MerkleRoot:   MerkleRootOf(transactions),
	}
	block.Hash = block.CalculateHash()
	return block
}

// NewGenesisBlock 创建创世块; 创世块只计算一次哈希, 不参与工作量证明
func NewGenesisBlock(timestamp float64) *Block {
	return NewBlock(0, timestamp, GenesisPrevHash, nil)
}

// CalculateHash 计算区块头哈希
func (b *Block) CalculateHash() string {
	return b.hashWithPrefix(b.headerPrefix())
}

func (b *Block) headerPrefix() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(b.Index, 10))
	sb.WriteString(FormatTimestamp(b.Timestamp))
	sb.WriteString(b.PrevHash)
	sb.WriteString(b.MerkleRoot)
	return sb.String()
}

func (b *Block) hashWithPrefix(prefix string) string {
	return crypto.HashString(prefix + strconv.FormatInt(b.Nonce, 10))
}

// IsGenesis reports whether b is the first block of the chain.
func (b *Block) IsGenesis() bool {
	return b.Index == 0
}
