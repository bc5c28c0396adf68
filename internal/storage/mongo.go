package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const (
	blocksCollection   = "blocks"
	countersCollection = "counters"
	ledgerCounterID    = "ledger"
)

// blockDocument embeds its transactions, so a block and its transactions are
// written by a single atomic insert.
type blockDocument struct {
	ID           int64                 `bson:"_id"`
	Index        int64                 `bson:"index"`
	Timestamp    float64               `bson:"timestamp"`
	PrevHash     string                `bson:"previous_hash"`
	Hash         string                `bson:"hash"`
	Nonce        int64                 `bson:"nonce"`
	MerkleRoot   string                `bson:"merkle_root"`
	Transactions []transactionDocument `bson:"transactions"`
}

type transactionDocument struct {
	ID        int64   `bson:"id"`
	Seq       int     `bson:"seq"`
	Type      string  `bson:"transaction_type"`
	UserID    *int64  `bson:"user_id"`
	BetID     *int64  `bson:"bet_id"`
	Data      string  `bson:"data"`
	Hash      string  `bson:"hash"`
	Timestamp float64 `bson:"timestamp"`
}

type ledgerCounters struct {
	Blocks       int64 `bson:"blocks"`
	Transactions int64 `bson:"transactions"`
}

// MongoStore keeps one document per block.
type MongoStore struct {
	db     *mongo.Database
	logger *slog.Logger
}

// InitMongoConn connects to uri and returns the named database.
func InitMongoConn(uri, database string) (*mongo.Database, error) {
	ctx, c := context.WithTimeout(context.Background(), 10*time.Second)
	defer c()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongo")
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping mongo")
	}

	return client.Database(database), nil
}

// NewMongoStore creates the blocks collection and its indexes if they are missing.
func NewMongoStore(db *mongo.Database, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	colls, err := db.ListCollectionNames(context.Background(), bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list collection names")
	}

	if !slices.Contains(colls, blocksCollection) {
		unique := options.Index().SetUnique(true)
		idx := []mongo.IndexModel{
			{Keys: bson.D{{Key: "index", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "hash", Value: 1}}, Options: unique},
			{
				Keys: bson.D{{Key: "transactions.hash", Value: 1}},
				// blocks without transactions stay out of the unique index
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"transactions.hash": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "transactions.user_id", Value: 1}}},
			{Keys: bson.D{{Key: "transactions.bet_id", Value: 1}}},
		}
		logger.Info("creating indexes", "collection", blocksCollection, "count", len(idx))
		if _, err := db.Collection(blocksCollection).Indexes().CreateMany(context.Background(), idx); err != nil {
			return nil, errors.Wrap(err, "failed to create indexes")
		}
	}

	return &MongoStore{db: db, logger: logger}, nil
}

// SaveBlock reserves ids from the counters document, then inserts the block document.
// A failed insert only leaves a gap in the id sequence.
func (s *MongoStore) SaveBlock(ctx context.Context, block *BlockData) error {
	var counters ledgerCounters
	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": ledgerCounterID},
		bson.M{"$inc": bson.M{"blocks": 1, "transactions": len(block.Transactions)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counters)
	if err != nil {
		return errors.Wrap(err, "failed to reserve ids")
	}

	block.ID = counters.Blocks
	numberTransactions(block)
	firstTxID := counters.Transactions - int64(len(block.Transactions)) + 1
	for i := range block.Transactions {
		block.Transactions[i].ID = firstTxID + int64(i)
	}

	if _, err := s.db.Collection(blocksCollection).InsertOne(ctx, toBlockDocument(block)); err != nil {
		return translateMongoError(err, "failed to insert block")
	}
	return nil
}

func translateMongoError(err error, msg string) error {
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrap(ErrIndexConflict, err.Error())
	}
	return errors.Wrap(err, msg)
}

func (s *MongoStore) LatestBlock(ctx context.Context) (*BlockData, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "index", Value: -1}})
	return s.findOne(ctx, bson.M{}, opts)
}

func (s *MongoStore) GetAllBlocks(ctx context.Context, order Order) ([]*BlockData, error) {
	dir := 1
	if order == Descending {
		dir = -1
	}

	cur, err := s.db.Collection(blocksCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "index", Value: dir}}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query blocks")
	}
	defer cur.Close(ctx)

	var docs []blockDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode blocks")
	}

	blocks := make([]*BlockData, len(docs))
	for i := range docs {
		blocks[i] = fromBlockDocument(docs[i])
	}
	return blocks, nil
}

func (s *MongoStore) GetBlockByIndex(ctx context.Context, index int64) (*BlockData, error) {
	return s.findOne(ctx, bson.M{"index": index})
}

func (s *MongoStore) GetBlockByHash(ctx context.Context, hash string) (*BlockData, error) {
	return s.findOne(ctx, bson.M{"hash": hash})
}

func (s *MongoStore) GetTransactionsByBlockIndex(ctx context.Context, blockIndex int64) ([]TransactionData, error) {
	block, err := s.GetBlockByIndex(ctx, blockIndex)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block.Transactions, nil
}

func (s *MongoStore) GetTransactionsByUser(ctx context.Context, userID int64) ([]TransactionData, error) {
	return s.unwindTransactions(ctx, "transactions.user_id", userID)
}

func (s *MongoStore) GetTransactionsByBet(ctx context.Context, betID int64) ([]TransactionData, error) {
	return s.unwindTransactions(ctx, "transactions.bet_id", betID)
}

func (s *MongoStore) CountBlocks(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(blocksCollection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, errors.Wrap(err, "failed to count blocks")
	}
	return n, nil
}

func (s *MongoStore) Close() error {
	return s.db.Client().Disconnect(context.Background())
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*BlockData, error) {
	var doc blockDocument
	err := s.db.Collection(blocksCollection).FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query block")
	}
	return fromBlockDocument(doc), nil
}

func (s *MongoStore) unwindTransactions(ctx context.Context, field string, value int64) ([]TransactionData, error) {
	agg := []bson.M{
		{"$match": bson.M{field: value}},
		{"$unwind": "$transactions"},
		{"$match": bson.M{field: value}},
		{"$sort": bson.D{{Key: "index", Value: 1}, {Key: "transactions.seq", Value: 1}}},
		{"$project": bson.M{"_id": 1, "index": 1, "transactions": 1}},
	}

	cur, err := s.db.Collection(blocksCollection).Aggregate(ctx, agg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate transactions")
	}
	defer cur.Close(ctx)

	var out []TransactionData
	for cur.Next(ctx) {
		var row struct {
			BlockID     int64               `bson:"_id"`
			Index       int64               `bson:"index"`
			Transaction transactionDocument `bson:"transactions"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, errors.Wrap(err, "failed to decode transaction")
		}
		out = append(out, fromTransactionDocument(row.Transaction, row.BlockID, row.Index))
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate transactions")
	}
	return out, nil
}

func toBlockDocument(b *BlockData) blockDocument {
	doc := blockDocument{
		ID:           b.ID,
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		PrevHash:     b.PrevHash,
		Hash:         b.Hash,
		Nonce:        b.Nonce,
		MerkleRoot:   b.MerkleRoot,
		Transactions: make([]transactionDocument, len(b.Transactions)),
	}
	for i, t := range b.Transactions {
		doc.Transactions[i] = transactionDocument{
			ID:        t.ID,
			Seq:       t.Seq,
			Type:      t.Type,
			UserID:    t.UserID,
			BetID:     t.BetID,
			Data:      t.Data,
			Hash:      t.Hash,
			Timestamp: t.Timestamp,
		}
	}
	return doc
}

func fromBlockDocument(doc blockDocument) *BlockData {
	b := &BlockData{
		ID:         doc.ID,
		Index:      doc.Index,
		Timestamp:  doc.Timestamp,
		PrevHash:   doc.PrevHash,
		Hash:       doc.Hash,
		Nonce:      doc.Nonce,
		MerkleRoot: doc.MerkleRoot,
	}
	for _, td := range doc.Transactions {
		b.Transactions = append(b.Transactions, fromTransactionDocument(td, doc.ID, doc.Index))
	}
	// documents keep array order, but seq is the ordering key
	slices.SortFunc(b.Transactions, func(a, c TransactionData) int { return a.Seq - c.Seq })
	return b
}

func fromTransactionDocument(td transactionDocument, blockID, blockIndex int64) TransactionData {
	return TransactionData{
		ID:         td.ID,
		BlockID:    blockID,
		BlockIndex: blockIndex,
		Seq:        td.Seq,
		Type:       td.Type,
		UserID:     td.UserID,
		BetID:      td.BetID,
		Data:       td.Data,
		Hash:       td.Hash,
		Timestamp:  td.Timestamp,
	}
}
