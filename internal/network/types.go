package network

import (
	"encoding/json"

	"wagerledger/internal/blockchain"
)

// TransactionRequest 是 POST /transactions/new 的请求体
type TransactionRequest struct {
	Type   string          `json:"transaction_type"`
	UserID *int64          `json:"user_id,omitempty"`
	BetID  *int64          `json:"bet_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type ValidationResponse struct {
	Valid bool                   `json:"valid"`
	Error *blockchain.ChainError `json:"error,omitempty"`
}

// BlockHeader is a block without its transactions, as listed by GET /blocks.
type BlockHeader struct {
	Index        int64   `json:"index"`
	Timestamp    float64 `json:"timestamp"`
	PreviousHash string  `json:"previous_hash"`
	Hash         string  `json:"hash"`
	Nonce        int64   `json:"nonce"`
	MerkleRoot   string  `json:"merkle_root"`
	TxCount      int     `json:"tx_count"`
}

func headerOf(b *blockchain.Block) BlockHeader {
	return BlockHeader{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		PreviousHash: b.PrevHash,
		Hash:         b.Hash,
		Nonce:        b.Nonce,
		MerkleRoot:   b.MerkleRoot,
		TxCount:      len(b.Transactions),
	}
}
