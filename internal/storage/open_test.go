package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDefaultsToSQLite(t *testing.T) {
	store, err := Open(Options{Path: filepath.Join(t.TempDir(), "nested", "ledger.db")}, nil)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*SQLiteStore)
	assert.True(t, ok)

	n, err := store.CountBlocks(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "badger"}, nil)
	assert.Error(t, err)
}

func TestNumberTransactions(t *testing.T) {
	block := sampleBlock(3, "h", "a", "b")
	block.ID = 11
	numberTransactions(block)

	for i, tx := range block.Transactions {
		assert.Equal(t, i, tx.Seq)
		assert.Equal(t, int64(11), tx.BlockID)
		assert.Equal(t, int64(3), tx.BlockIndex)
	}
}
