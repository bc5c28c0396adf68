package blockchain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyTransactionType is returned before any hashing or persistence happens.
	ErrEmptyTransactionType = errors.New("transaction type is required")
	ErrSerialization        = errors.New("payload cannot be serialized")
	ErrSealTimeout          = errors.New("sealing limit exceeded")
	ErrInvalidDifficulty    = errors.New("difficulty must be between 0 and 64")
	// ErrTransactionHash marks a transaction whose stored hash or payload does not match
	// its fields; such a transaction is never sealed.
	ErrTransactionHash = errors.New("transaction hash does not match its content")
)

// 链校验失败的字段
const (
	FieldIndex           = "index"
	FieldHash            = "hash"
	FieldPrevHash        = "previous_hash"
	FieldMerkleRoot      = "merkle_root"
	FieldTransactionHash = "transaction_hash"
)

// ChainError reports the first block that failed validation and why.
type ChainError struct {
	Index    int64  `json:"index"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("block %d: invalid %s: expected %q, got %q", e.Index, e.Field, e.Expected, e.Actual)
}
