package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// sqliteParams enables foreign keys and lets concurrent readers wait on the writer.
const sqliteParams = "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

type SQLiteStore struct {
	connection *sql.DB
	logger     *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database file at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 确保数据库目录存在
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sql.Open("sqlite3", path+sqliteParams)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create tables")
	}

	logger.Info("sqlite store ready", "path", path)
	return &SQLiteStore{connection: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS blocks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            "index" INTEGER NOT NULL UNIQUE,
            timestamp REAL NOT NULL,
            previous_hash TEXT NOT NULL,
            hash TEXT NOT NULL UNIQUE,
            nonce INTEGER NOT NULL,
            merkle_root TEXT NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            block_id INTEGER NOT NULL,
            seq INTEGER NOT NULL,
            transaction_type TEXT NOT NULL,
            user_id INTEGER,
            bet_id INTEGER,
            data TEXT NOT NULL,
            hash TEXT NOT NULL UNIQUE,
            timestamp REAL NOT NULL,
            UNIQUE(block_id, seq),
            FOREIGN KEY(block_id) REFERENCES blocks(id)
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_bet ON transactions(bet_id)`)
	return err
}

func (db *SQLiteStore) Close() error {
	return db.connection.Close()
}

// SaveBlock 在一个数据库事务中写入区块和交易
func (db *SQLiteStore) SaveBlock(ctx context.Context, block *BlockData) error {
	tx, err := db.connection.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO blocks ("index", timestamp, previous_hash, hash, nonce, merkle_root)
        VALUES (?, ?, ?, ?, ?, ?)
    `, block.Index, block.Timestamp, block.PrevHash, block.Hash, block.Nonce, block.MerkleRoot)
	if err != nil {
		return translateSQLiteError(err, "failed to insert block")
	}

	blockID, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to read block id")
	}
	block.ID = blockID
	numberTransactions(block)

	for i := range block.Transactions {
		t := &block.Transactions[i]
		res, err := tx.ExecContext(ctx, `
            INSERT INTO transactions (
                block_id, seq, transaction_type, user_id, bet_id, data, hash, timestamp
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        `, t.BlockID, t.Seq, t.Type, nullInt(t.UserID), nullInt(t.BetID), t.Data, t.Hash, t.Timestamp)
		if err != nil {
			return translateSQLiteError(err, "failed to insert transaction")
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return errors.Wrap(err, "failed to read transaction id")
		}
	}

	if err := tx.Commit(); err != nil {
		return translateSQLiteError(err, "failed to commit block")
	}
	return nil
}

const blockColumns = `id, "index", timestamp, previous_hash, hash, nonce, merkle_root`

const transactionColumns = `t.id, t.block_id, b."index", t.seq, t.transaction_type, t.user_id, t.bet_id, t.data, t.timestamp, t.hash`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row rowScanner) (*BlockData, error) {
	var b BlockData
	if err := row.Scan(&b.ID, &b.Index, &b.Timestamp, &b.PrevHash, &b.Hash, &b.Nonce, &b.MerkleRoot); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanTransaction(row rowScanner) (TransactionData, error) {
	var t TransactionData
	var userID, betID sql.NullInt64
	err := row.Scan(&t.ID, &t.BlockID, &t.BlockIndex, &t.Seq, &t.Type, &userID, &betID, &t.Data, &t.Timestamp, &t.Hash)
	if err != nil {
		return t, err
	}
	t.UserID = fromNullInt(userID)
	t.BetID = fromNullInt(betID)
	return t, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (db *SQLiteStore) LatestBlock(ctx context.Context) (*BlockData, error) {
	return db.queryBlock(ctx, db.connection, `SELECT `+blockColumns+` FROM blocks ORDER BY "index" DESC LIMIT 1`)
}

// GetAllBlocks 在一个只读事务内读取区块和交易, 保证读到一致的快照
func (db *SQLiteStore) GetAllBlocks(ctx context.Context, order Order) ([]*BlockData, error) {
	tx, err := db.connection.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin read transaction")
	}
	defer tx.Rollback()

	direction := "ASC"
	if order == Descending {
		direction = "DESC"
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY "index" `+direction)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query blocks")
	}
	defer rows.Close()

	var blocks []*BlockData
	byID := make(map[int64]*BlockData)
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan block")
		}
		blocks = append(blocks, block)
		byID[block.ID] = block
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate blocks")
	}

	txs, err := db.queryTransactions(ctx, tx, `
        SELECT `+transactionColumns+`
        FROM transactions t JOIN blocks b ON b.id = t.block_id
        ORDER BY t.block_id, t.seq
    `)
	if err != nil {
		return nil, err
	}
	for _, t := range txs {
		if block, ok := byID[t.BlockID]; ok {
			block.Transactions = append(block.Transactions, t)
		}
	}

	return blocks, tx.Commit()
}

func (db *SQLiteStore) GetBlockByIndex(ctx context.Context, index int64) (*BlockData, error) {
	return db.blockWithTransactions(ctx, `SELECT `+blockColumns+` FROM blocks WHERE "index" = ?`, index)
}

func (db *SQLiteStore) GetBlockByHash(ctx context.Context, hash string) (*BlockData, error) {
	return db.blockWithTransactions(ctx, `SELECT `+blockColumns+` FROM blocks WHERE hash = ?`, hash)
}

func (db *SQLiteStore) GetTransactionsByBlockIndex(ctx context.Context, blockIndex int64) ([]TransactionData, error) {
	return db.queryTransactions(ctx, db.connection, `
        SELECT `+transactionColumns+`
        FROM transactions t JOIN blocks b ON b.id = t.block_id
        WHERE b."index" = ?
        ORDER BY t.seq
    `, blockIndex)
}

func (db *SQLiteStore) GetTransactionsByUser(ctx context.Context, userID int64) ([]TransactionData, error) {
	return db.queryTransactions(ctx, db.connection, `
        SELECT `+transactionColumns+`
        FROM transactions t JOIN blocks b ON b.id = t.block_id
        WHERE t.user_id = ?
        ORDER BY b."index", t.seq
    `, userID)
}

func (db *SQLiteStore) GetTransactionsByBet(ctx context.Context, betID int64) ([]TransactionData, error) {
	return db.queryTransactions(ctx, db.connection, `
        SELECT `+transactionColumns+`
        FROM transactions t JOIN blocks b ON b.id = t.block_id
        WHERE t.bet_id = ?
        ORDER BY b."index", t.seq
    `, betID)
}

func (db *SQLiteStore) CountBlocks(ctx context.Context) (int64, error) {
	var n int64
	if err := db.connection.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count blocks")
	}
	return n, nil
}

func (db *SQLiteStore) blockWithTransactions(ctx context.Context, query string, arg interface{}) (*BlockData, error) {
	tx, err := db.connection.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin read transaction")
	}
	defer tx.Rollback()

	block, err := db.queryBlock(ctx, tx, query, arg)
	if err != nil {
		return nil, err
	}

	block.Transactions, err = db.queryTransactions(ctx, tx, `
        SELECT `+transactionColumns+`
        FROM transactions t JOIN blocks b ON b.id = t.block_id
        WHERE t.block_id = ?
        ORDER BY t.seq
    `, block.ID)
	if err != nil {
		return nil, err
	}
	return block, tx.Commit()
}

func (db *SQLiteStore) queryBlock(ctx context.Context, q querier, query string, args ...interface{}) (*BlockData, error) {
	block, err := scanBlock(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query block")
	}
	return block, nil
}

func (db *SQLiteStore) queryTransactions(ctx context.Context, q querier, query string, args ...interface{}) ([]TransactionData, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transactions")
	}
	defer rows.Close()

	var transactions []TransactionData
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan transaction")
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate transactions")
	}
	return transactions, nil
}

func translateSQLiteError(err error, msg string) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errors.Wrap(ErrIndexConflict, se.Error())
		}
	}
	return errors.Wrap(err, msg)
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
