package storage

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestTranslateMongoErrorDuplicateKey(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error collection: ledger.blocks index: index_1"}}}

	err := translateMongoError(dup, "failed to insert block")
	assert.True(t, errors.Is(err, ErrIndexConflict))

	err = translateMongoError(errors.New("no reachable servers"), "failed to insert block")
	assert.False(t, errors.Is(err, ErrIndexConflict))
	assert.Contains(t, err.Error(), "failed to insert block")
}

func TestBlockDocumentRoundTrip(t *testing.T) {
	block := numberedBlock()
	assert.Equal(t, block, fromBlockDocument(toBlockDocument(block)))
}

func TestFromBlockDocumentOrdersBySeq(t *testing.T) {
	doc := blockDocument{
		ID:    3,
		Index: 2,
		Hash:  "h",
		Transactions: []transactionDocument{
			{ID: 12, Seq: 2, Hash: "c"},
			{ID: 10, Seq: 0, Hash: "a"},
			{ID: 11, Seq: 1, Hash: "b"},
		},
	}

	block := fromBlockDocument(doc)
	require.Len(t, block.Transactions, 3)
	for i, tx := range block.Transactions {
		assert.Equal(t, i, tx.Seq)
		assert.Equal(t, int64(3), tx.BlockID)
		assert.Equal(t, int64(2), tx.BlockIndex)
	}
	assert.Equal(t, "a", block.Transactions[0].Hash)
	assert.Equal(t, "c", block.Transactions[2].Hash)
}

func TestInitMongoConnUnreachable(t *testing.T) {
	start := time.Now()
	_, err := InitMongoConn("mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200", "ledger")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping mongo")
	assert.Less(t, time.Since(start), 10*time.Second)
}
