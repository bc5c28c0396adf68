package storage

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrIndexConflict 区块索引或哈希已存在; 整个写入已回滚
	ErrIndexConflict = errors.New("block index or hash already exists")
)

// Order 区块遍历顺序
type Order int

const (
	Ascending Order = iota
	Descending
)

// BlockData 定义区块数据结构
type BlockData struct {
	ID           int64
	Index        int64
	Timestamp    float64
	PrevHash     string
	Hash         string
	Nonce        int64
	MerkleRoot   string
	Transactions []TransactionData
}

// TransactionData 定义交易数据结构
type TransactionData struct {
	ID         int64
	BlockID    int64
	BlockIndex int64
	Seq        int // position inside the owning block, fixes Merkle order
	Type       string
	UserID     *int64
	BetID      *int64
	Data       string
	Timestamp  float64
	Hash       string
}

// BlockStorage 定义区块链存储接口
type BlockStorage interface {
	// SaveBlock 原子地保存区块及其全部交易, 并回填 ID
	SaveBlock(ctx context.Context, block *BlockData) error

	// LatestBlock 返回索引最大的区块; 链为空时返回 ErrNotFound
	LatestBlock(ctx context.Context) (*BlockData, error)

	// GetAllBlocks 在同一快照中读取所有区块(含交易)
	GetAllBlocks(ctx context.Context, order Order) ([]*BlockData, error)

	// GetBlockByIndex 根据索引获取区块
	GetBlockByIndex(ctx context.Context, index int64) (*BlockData, error)

	// GetBlockByHash 根据哈希获取区块
	GetBlockByHash(ctx context.Context, hash string) (*BlockData, error)

	// GetTransactionsByBlockIndex 获取指定区块的所有交易, 按 Seq 排序
	GetTransactionsByBlockIndex(ctx context.Context, blockIndex int64) ([]TransactionData, error)

	GetTransactionsByUser(ctx context.Context, userID int64) ([]TransactionData, error)
	GetTransactionsByBet(ctx context.Context, betID int64) ([]TransactionData, error)

	CountBlocks(ctx context.Context) (int64, error)

	// Close 关闭存储连接
	Close() error
}

// numberTransactions assigns Seq and BlockID before a block is written.
func numberTransactions(block *BlockData) {
	for i := range block.Transactions {
		block.Transactions[i].Seq = i
		block.Transactions[i].BlockID = block.ID
		block.Transactions[i].BlockIndex = block.Index
	}
}
