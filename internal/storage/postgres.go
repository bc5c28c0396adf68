package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PgErrUniqueViolation is the SQLSTATE for unique_violation.
const PgErrUniqueViolation = "23505"

type blockModel struct {
	ID           int64              `gorm:"column:id;primaryKey;autoIncrement"`
	Index        int64              `gorm:"column:block_index;uniqueIndex;not null"`
	Timestamp    float64            `gorm:"column:timestamp;type:double precision;not null"`
	PrevHash     string             `gorm:"column:previous_hash;type:varchar(64);not null"`
	Hash         string             `gorm:"column:hash;type:varchar(64);uniqueIndex;not null"`
	Nonce        int64              `gorm:"column:nonce;not null"`
	MerkleRoot   string             `gorm:"column:merkle_root;type:varchar(64);not null"`
	Transactions []transactionModel `gorm:"foreignKey:BlockID"`
}

func (blockModel) TableName() string { return "blocks" }

type transactionModel struct {
	ID        int64       `gorm:"column:id;primaryKey;autoIncrement"`
	BlockID   int64       `gorm:"column:block_id;not null;uniqueIndex:idx_block_seq"`
	Block     *blockModel `gorm:"foreignKey:BlockID"`
	Seq       int         `gorm:"column:seq;not null;uniqueIndex:idx_block_seq"`
	Type      string      `gorm:"column:transaction_type;type:varchar(50);not null"`
	UserID    *int64      `gorm:"column:user_id;index"`
	BetID     *int64      `gorm:"column:bet_id;index"`
	Data      string      `gorm:"column:data;type:text;not null"`
	Hash      string      `gorm:"column:hash;type:varchar(64);uniqueIndex;not null"`
	Timestamp float64     `gorm:"column:timestamp;type:double precision;not null"`
}

func (transactionModel) TableName() string { return "transactions" }

// PostgresStore keeps the chain in PostgreSQL through gorm.
type PostgresStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewPostgresStore connects, retrying a few times while the database starts up, and
// migrates the schema.
func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var db *gorm.DB
	var err error
	for i := 0; i < 5; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
		if err == nil {
			break
		}
		logger.Warn("postgres connection attempt failed", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	if err := db.AutoMigrate(&blockModel{}, &transactionModel{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	logger.Info("postgres store ready")
	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) SaveBlock(ctx context.Context, block *BlockData) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bm := toBlockModel(block)
		if err := tx.Omit("Transactions").Create(&bm).Error; err != nil {
			return err
		}
		block.ID = bm.ID
		numberTransactions(block)
		if len(block.Transactions) == 0 {
			return nil
		}

		tms := make([]transactionModel, len(block.Transactions))
		for i, t := range block.Transactions {
			tms[i] = toTransactionModel(t)
		}
		if err := tx.Omit("Block").Create(&tms).Error; err != nil {
			return err
		}
		for i := range tms {
			block.Transactions[i].ID = tms[i].ID
		}
		return nil
	})
	if err != nil {
		return translatePgError(err, "failed to save block")
	}
	return nil
}

func (s *PostgresStore) LatestBlock(ctx context.Context) (*BlockData, error) {
	var bm blockModel
	err := s.db.WithContext(ctx).Order("block_index DESC").First(&bm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query latest block")
	}
	return fromBlockModel(bm), nil
}

// GetAllBlocks reads inside one repeatable-read transaction so the result is a
// single snapshot.
func (s *PostgresStore) GetAllBlocks(ctx context.Context, order Order) ([]*BlockData, error) {
	direction := "block_index ASC"
	if order == Descending {
		direction = "block_index DESC"
	}

	var models []blockModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Preload("Transactions", orderBySeq).Order(direction).Find(&models).Error
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load blocks")
	}

	blocks := make([]*BlockData, len(models))
	for i := range models {
		blocks[i] = fromBlockModel(models[i])
	}
	return blocks, nil
}

func (s *PostgresStore) GetBlockByIndex(ctx context.Context, index int64) (*BlockData, error) {
	return s.findBlock(ctx, "block_index = ?", index)
}

func (s *PostgresStore) GetBlockByHash(ctx context.Context, hash string) (*BlockData, error) {
	return s.findBlock(ctx, "hash = ?", hash)
}

func (s *PostgresStore) GetTransactionsByBlockIndex(ctx context.Context, blockIndex int64) ([]TransactionData, error) {
	block, err := s.GetBlockByIndex(ctx, blockIndex)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block.Transactions, nil
}

func (s *PostgresStore) GetTransactionsByUser(ctx context.Context, userID int64) ([]TransactionData, error) {
	return s.findTransactions(ctx, "transactions.user_id = ?", userID)
}

func (s *PostgresStore) GetTransactionsByBet(ctx context.Context, betID int64) ([]TransactionData, error) {
	return s.findTransactions(ctx, "transactions.bet_id = ?", betID)
}

func (s *PostgresStore) CountBlocks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&blockModel{}).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count blocks")
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) findBlock(ctx context.Context, query string, arg interface{}) (*BlockData, error) {
	var bm blockModel
	err := s.db.WithContext(ctx).Preload("Transactions", orderBySeq).Where(query, arg).First(&bm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query block")
	}
	return fromBlockModel(bm), nil
}

func (s *PostgresStore) findTransactions(ctx context.Context, query string, arg interface{}) ([]TransactionData, error) {
	var tms []transactionModel
	err := s.db.WithContext(ctx).
		Joins("Block").
		Where(query, arg).
		Order(`"Block".block_index ASC, transactions.seq ASC`).
		Find(&tms).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transactions")
	}

	out := make([]TransactionData, len(tms))
	for i, tm := range tms {
		out[i] = fromTransactionModel(tm)
		if tm.Block != nil {
			out[i].BlockIndex = tm.Block.Index
		}
	}
	return out, nil
}

func orderBySeq(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

func translatePgError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation {
		return errors.Wrap(ErrIndexConflict, pgErr.Detail)
	}
	return errors.Wrap(err, msg)
}

func toBlockModel(b *BlockData) blockModel {
	return blockModel{
		Index:      b.Index,
		Timestamp:  b.Timestamp,
		PrevHash:   b.PrevHash,
		Hash:       b.Hash,
		Nonce:      b.Nonce,
		MerkleRoot: b.MerkleRoot,
	}
}

func fromBlockModel(bm blockModel) *BlockData {
	b := &BlockData{
		ID:         bm.ID,
		Index:      bm.Index,
		Timestamp:  bm.Timestamp,
		PrevHash:   bm.PrevHash,
		Hash:       bm.Hash,
		Nonce:      bm.Nonce,
		MerkleRoot: bm.MerkleRoot,
	}
	for _, tm := range bm.Transactions {
		t := fromTransactionModel(tm)
		t.BlockIndex = bm.Index
		b.Transactions = append(b.Transactions, t)
	}
	return b
}

func toTransactionModel(t TransactionData) transactionModel {
	return transactionModel{
		BlockID:   t.BlockID,
		Seq:       t.Seq,
		Type:      t.Type,
		UserID:    t.UserID,
		BetID:     t.BetID,
		Data:      t.Data,
		Hash:      t.Hash,
		Timestamp: t.Timestamp,
	}
}

func fromTransactionModel(tm transactionModel) TransactionData {
	return TransactionData{
		ID:        tm.ID,
		BlockID:   tm.BlockID,
		Seq:       tm.Seq,
		Type:      tm.Type,
		UserID:    tm.UserID,
		BetID:     tm.BetID,
		Data:      tm.Data,
		Hash:      tm.Hash,
		Timestamp: tm.Timestamp,
	}
}
