package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"wagerledger/internal/blockchain"
	"wagerledger/internal/config"
	"wagerledger/internal/network"
	"wagerledger/internal/storage"
)

func newNode(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)

	bc, err := blockchain.NewBlockchain(store, blockchain.WithDifficulty(1), blockchain.WithLogger(logger))
	require.NoError(t, err)

	s := network.NewServer(bc, config.ServerConfig{}, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		store.Close()
	})
	return ts
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(newNode(t).URL+"/", 5*time.Second)

	block, err := c.AddTransaction(ctx, network.TransactionRequest{
		Type:   blockchain.TypeUserRegistration,
		UserID: blockchain.ID(1),
		Data:   json.RawMessage(`{"name":"Alice"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Index)

	fetched, err := c.Block(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, fetched.Hash)

	export, err := c.Chain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, export.Length)
	assert.True(t, export.Valid)
	assert.NoError(t, blockchain.VerifyExport(export))

	validation, err := c.Validate(ctx)
	require.NoError(t, err)
	assert.True(t, validation.Valid)
}

func TestClientReportsStatus(t *testing.T) {
	ctx := context.Background()
	c := New(newNode(t).URL, time.Second)

	_, err := c.AddTransaction(ctx, network.TransactionRequest{Type: ""})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)

	_, err = c.Block(ctx, 42)
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
}
