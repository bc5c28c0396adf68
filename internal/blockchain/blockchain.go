package blockchain

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"wagerledger/internal/storage"
)

// Blockchain is the single writer of the ledger. All appends go through AddBlock,
// which owns the read-head, seal, commit sequence.
type Blockchain struct {
	mu          sync.Mutex // serializes appends
	storage     storage.BlockStorage
	difficulty  int
	limit       SealLimit
	now         func() time.Time
	logger      *slog.Logger
	subMu       sync.RWMutex
	subscribers []func(Block)
}

type Option func(*Blockchain)

func WithDifficulty(difficulty int) Option {
	return func(bc *Blockchain) { bc.difficulty = difficulty }
}

// WithSealLimit bounds every nonce search; see SealLimit.
func WithSealLimit(limit SealLimit) Option {
	return func(bc *Blockchain) { bc.limit = limit }
}

func WithLogger(logger *slog.Logger) Option {
	return func(bc *Blockchain) { bc.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(bc *Blockchain) { bc.now = now }
}

func NewBlockchain(store storage.BlockStorage, opts ...Option) (*Blockchain, error) {
	bc := &Blockchain{
		storage:    store,
		difficulty: DefaultDifficulty,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(bc)
	}

	if store == nil {
		return nil, errors.New("blockchain requires a store")
	}
	if err := ValidateDifficulty(bc.difficulty); err != nil {
		return nil, err
	}
	return bc, nil
}

// Difficulty returns the leading-zero target used when sealing.
func (bc *Blockchain) Difficulty() int {
	return bc.difficulty
}

// Subscribe registers fn to be called with every block committed after this call.
// Calls happen in index order while the append lock is held, so fn must not append.
func (bc *Blockchain) Subscribe(fn func(Block)) {
	bc.subMu.Lock()
	bc.subscribers = append(bc.subscribers, fn)
	bc.subMu.Unlock()
}

// EnsureGenesis 链为空时创建并保存创世块; 返回的 bool 表示是否新建
func (bc *Blockchain) EnsureGenesis(ctx context.Context) (*Block, bool, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	latest, err := bc.storage.LatestBlock(ctx)
	if err == nil {
		return fromBlockData(latest), false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, errors.Wrap(err, "failed to read chain head")
	}

	genesis, err := bc.createGenesis(ctx)
	if err != nil {
		return nil, false, err
	}
	return genesis, true, nil
}

// AddTransaction records one event in its own block and returns the sealed block.
func (bc *Blockchain) AddTransaction(ctx context.Context, txType string, userID, betID *int64, payload interface{}) (*Block, error) {
	tx, err := newTransaction(txType, userID, betID, payload, Timestamp(bc.now()))
	if err != nil {
		return nil, err
	}
	return bc.AddBlock(ctx, []*Transaction{tx})
}

// AddBlock seals the given transactions, in order, into the next block and persists
// it together with the transactions. The chain head advances by exactly one on
// success; on any error nothing from this call is visible.
func (bc *Blockchain) AddBlock(ctx context.Context, transactions []*Transaction) (*Block, error) {
	txs := make([]Transaction, len(transactions))
	for i, tx := range transactions {
		if tx == nil {
			return nil, errors.Errorf("transaction %d is nil", i)
		}
		if err := checkTransaction(tx); err != nil {
			return nil, errors.Wrapf(err, "transaction %d", i)
		}
		txs[i] = *tx
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	block, err := bc.addBlockLocked(ctx, txs)
	if err != nil {
		return nil, err
	}

	// still under the append lock, so subscribers see blocks in index order
	bc.publish(*block)
	return block, nil
}

// checkTransaction rejects records that would make the sealed block fail validation.
func checkTransaction(tx *Transaction) error {
	if strings.TrimSpace(tx.Type) == "" {
		return ErrEmptyTransactionType
	}
	if !json.Valid([]byte(tx.Data)) {
		return errors.Wrap(ErrTransactionHash, "data is not valid JSON")
	}
	if expected := tx.CalculateHash(); tx.Hash != expected {
		return errors.Wrapf(ErrTransactionHash, "expected %s, got %q", expected, tx.Hash)
	}
	return nil
}

func (bc *Blockchain) addBlockLocked(ctx context.Context, txs []Transaction) (*Block, error) {
	latest, err := bc.latestBlock(ctx)
	if err != nil {
		return nil, err
	}

	block := NewBlock(latest.Index+1, Timestamp(bc.now()), latest.Hash, txs)

	start := time.Now()
	if err := block.Mine(ctx, bc.difficulty, bc.limit); err != nil {
		bc.logger.Warn("sealing abandoned", "index", block.Index, "nonce", block.Nonce, "error", err)
		return nil, errors.Wrapf(err, "failed to seal block %d", block.Index)
	}

	data := toBlockData(block)
	if err := bc.storage.SaveBlock(ctx, data); err != nil {
		return nil, errors.Wrapf(err, "failed to save block %d", block.Index)
	}
	block.ID = data.ID
	for i := range block.Transactions {
		block.Transactions[i].ID = data.Transactions[i].ID
	}

	bc.logger.Info("block appended",
		"index", block.Index,
		"hash", block.Hash,
		"nonce", block.Nonce,
		"tx_count", len(block.Transactions),
		"elapsed", time.Since(start))
	return block, nil
}

// latestBlock returns the chain head, persisting genesis first if the chain is empty.
func (bc *Blockchain) latestBlock(ctx context.Context) (*Block, error) {
	latest, err := bc.storage.LatestBlock(ctx)
	if err == nil {
		return fromBlockData(latest), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to read chain head")
	}
	return bc.createGenesis(ctx)
}

func (bc *Blockchain) createGenesis(ctx context.Context) (*Block, error) {
	genesis := NewGenesisBlock(Timestamp(bc.now()))
	data := toBlockData(genesis)
	if err := bc.storage.SaveBlock(ctx, data); err != nil {
		return nil, errors.Wrap(err, "failed to save genesis block")
	}
	genesis.ID = data.ID

	bc.logger.Info("genesis block created", "hash", genesis.Hash)
	return genesis, nil
}

func (bc *Blockchain) publish(block Block) {
	bc.subMu.RLock()
	subs := make([]func(Block), len(bc.subscribers))
	copy(subs, bc.subscribers)
	bc.subMu.RUnlock()

	for _, fn := range subs {
		fn(block)
	}
}

// Blocks 返回整条链的一致快照
func (bc *Blockchain) Blocks(ctx context.Context, order storage.Order) ([]Block, error) {
	data, err := bc.storage.GetAllBlocks(ctx, order)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load blocks")
	}
	blocks := make([]Block, len(data))
	for i, d := range data {
		blocks[i] = *fromBlockData(d)
	}
	return blocks, nil
}

// Block 根据索引获取区块(含交易)
func (bc *Blockchain) Block(ctx context.Context, index int64) (*Block, error) {
	data, err := bc.storage.GetBlockByIndex(ctx, index)
	if err != nil {
		return nil, err
	}
	return fromBlockData(data), nil
}

func (bc *Blockchain) Length(ctx context.Context) (int64, error) {
	return bc.storage.CountBlocks(ctx)
}

func (bc *Blockchain) TransactionsByUser(ctx context.Context, userID int64) ([]Transaction, error) {
	txs, err := bc.storage.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return fromTransactionData(txs), nil
}

func (bc *Blockchain) TransactionsByBet(ctx context.Context, betID int64) ([]Transaction, error) {
	txs, err := bc.storage.GetTransactionsByBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	return fromTransactionData(txs), nil
}

// Verify 校验整条链; 返回第一个失败的 *ChainError, 存储错误则原样返回
func (bc *Blockchain) Verify(ctx context.Context) error {
	blocks, err := bc.Blocks(ctx, storage.Ascending)
	if err != nil {
		return err
	}
	return VerifyBlocks(blocks)
}

// ValidateChain reports whether the persisted chain is intact. A broken chain is
// (false, nil); err is only set when the store could not be read.
func (bc *Blockchain) ValidateChain(ctx context.Context) (bool, error) {
	err := bc.Verify(ctx)
	var chainErr *ChainError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &chainErr):
		return false, nil
	default:
		return false, err
	}
}

// Export 在同一快照上生成完整导出和有效性标记
func (bc *Blockchain) Export(ctx context.Context) (*ChainExport, error) {
	blocks, err := bc.Blocks(ctx, storage.Ascending)
	if err != nil {
		return nil, err
	}
	return NewChainExport(blocks), nil
}
