package blockchain

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ChainExport is the machine-readable form of the whole chain consumed by the
// explorer and by external auditors.
type ChainExport struct {
	Blockchain []ExportedBlock `json:"blockchain"`
	Valid      bool            `json:"valid"`
	Length     int             `json:"length"`
}

type ExportedBlock struct {
	Index        int64                 `json:"index"`
	Timestamp    float64               `json:"timestamp"`
	PreviousHash string                `json:"previous_hash"`
	Hash         string                `json:"hash"`
	Nonce        int64                 `json:"nonce"`
	MerkleRoot   string                `json:"merkle_root"`
	Transactions []ExportedTransaction `json:"transactions"`
}

// ExportedTransaction carries the payload decoded, not as an escaped string.
type ExportedTransaction struct {
	Hash      string          `json:"hash"`
	Type      string          `json:"type"`
	UserID    *int64          `json:"user_id"`
	BetID     *int64          `json:"bet_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// NewChainExport builds an export of blocks (index order) and validates them.
func NewChainExport(blocks []Block) *ChainExport {
	export := &ChainExport{
		Blockchain: make([]ExportedBlock, len(blocks)),
		Valid:      VerifyBlocks(blocks) == nil,
		Length:     len(blocks),
	}
	for i := range blocks {
		export.Blockchain[i] = ExportBlock(&blocks[i])
	}
	return export
}

func ExportBlock(b *Block) ExportedBlock {
	eb := ExportedBlock{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		PreviousHash: b.PrevHash,
		Hash:         b.Hash,
		Nonce:        b.Nonce,
		MerkleRoot:   b.MerkleRoot,
		Transactions: make([]ExportedTransaction, len(b.Transactions)),
	}
	for i, tx := range b.Transactions {
		eb.Transactions[i] = ExportTransaction(tx)
	}
	return eb
}

func ExportTransaction(tx Transaction) ExportedTransaction {
	data := json.RawMessage(tx.Data)
	if !json.Valid(data) {
		// keep tampered or legacy rows visible instead of failing the whole export
		data, _ = json.Marshal(tx.Data)
	}
	return ExportedTransaction{
		Hash:      tx.Hash,
		Type:      tx.Type,
		UserID:    tx.UserID,
		BetID:     tx.BetID,
		Data:      data,
		Timestamp: tx.Timestamp,
	}
}

// Blocks converts the export back into blocks. Payloads are re-canonicalized, so an
// export that went through a pretty-printer still verifies.
func (e *ChainExport) Blocks() ([]Block, error) {
	blocks := make([]Block, len(e.Blockchain))
	for i, eb := range e.Blockchain {
		b := Block{
			Index:        eb.Index,
			Timestamp:    eb.Timestamp,
			PrevHash:     eb.PreviousHash,
			Hash:         eb.Hash,
			Nonce:        eb.Nonce,
			MerkleRoot:   eb.MerkleRoot,
			Transactions: make([]Transaction, len(eb.Transactions)),
		}
		for j, et := range eb.Transactions {
			data, err := CanonicalJSON(et.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "block %d transaction %d", eb.Index, j)
			}
			b.Transactions[j] = Transaction{
				Type:      et.Type,
				UserID:    et.UserID,
				BetID:     et.BetID,
				Data:      data,
				Timestamp: et.Timestamp,
				Hash:      et.Hash,
			}
		}
		blocks[i] = b
	}
	return blocks, nil
}

// VerifyExport re-validates an export offline, ignoring its own valid flag.
func VerifyExport(e *ChainExport) error {
	if e.Length != len(e.Blockchain) {
		return errors.Errorf("export claims length %d but carries %d blocks", e.Length, len(e.Blockchain))
	}
	blocks, err := e.Blocks()
	if err != nil {
		return err
	}
	return VerifyBlocks(blocks)
}
