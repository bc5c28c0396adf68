package blockchain

import "wagerledger/internal/storage"

// 转换为存储格式
func toBlockData(b *Block) *storage.BlockData {
	data := &storage.BlockData{
		ID:           b.ID,
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		PrevHash:     b.PrevHash,
		Hash:         b.Hash,
		Nonce:        b.Nonce,
		MerkleRoot:   b.MerkleRoot,
		Transactions: make([]storage.TransactionData, len(b.Transactions)),
	}
	for i, tx := range b.Transactions {
		data.Transactions[i] = storage.TransactionData{
			ID:        tx.ID,
			Type:      tx.Type,
			UserID:    tx.UserID,
			BetID:     tx.BetID,
			Data:      tx.Data,
			Timestamp: tx.Timestamp,
			Hash:      tx.Hash,
		}
	}
	return data
}

func fromBlockData(data *storage.BlockData) *Block {
	b := &Block{
		ID:           data.ID,
		Index:        data.Index,
		Timestamp:    data.Timestamp,
		PrevHash:     data.PrevHash,
		Hash:         data.Hash,
		Nonce:        data.Nonce,
		MerkleRoot:   data.MerkleRoot,
		Transactions: fromTransactionData(data.Transactions),
	}
	return b
}

func fromTransactionData(txs []storage.TransactionData) []Transaction {
	out := make([]Transaction, len(txs))
	for i, t := range txs {
		out[i] = Transaction{
			ID:        t.ID,
			Type:      t.Type,
			UserID:    t.UserID,
			BetID:     t.BetID,
			Data:      t.Data,
			Timestamp: t.Timestamp,
			Hash:      t.Hash,
		}
	}
	return out
}
