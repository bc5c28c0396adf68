package blockchain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagerledger/internal/crypto"
)

func TestTransactionHashIsDeterministic(t *testing.T) {
	payload := map[string]interface{}{"name": "Alice", "email": "alice@example.com"}

	a, err := newTransaction(TypeUserRegistration, ID(1), nil, payload, 1700000000.123456)
	require.NoError(t, err)
	b, err := newTransaction(TypeUserRegistration, ID(1), nil, payload, 1700000000.123456)
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.Hash, a.CalculateHash())

	expected := crypto.HashString(`user_registration1{"email":"alice@example.com","name":"Alice"}1700000000.123456`)
	assert.Equal(t, expected, a.Hash)
}

func TestTransactionHashCoversEveryField(t *testing.T) {
	base, err := newTransaction(TypeBetPlacement, ID(1), ID(2), map[string]string{"outcome": "yes"}, 10.5)
	require.NoError(t, err)

	variants := []struct {
		name   string
		mutate func(tx *Transaction)
	}{
		{"type", func(tx *Transaction) { tx.Type = TypeBetResolution }},
		{"user", func(tx *Transaction) { tx.UserID = ID(3) }},
		{"missing bet", func(tx *Transaction) { tx.BetID = nil }},
		{"data", func(tx *Transaction) { tx.Data = `{"outcome":"no"}` }},
		{"timestamp", func(tx *Transaction) { tx.Timestamp = 10.6 }},
	}
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			tx := *base
			v.mutate(&tx)
			assert.NotEqual(t, base.Hash, tx.CalculateHash())
		})
	}
}

func TestNewTransactionCopiesOptionalIDs(t *testing.T) {
	user := int64(5)
	tx, err := newTransaction(TypeBlockReward, &user, nil, nil, 1)
	require.NoError(t, err)

	user = 6
	assert.Equal(t, int64(5), *tx.UserID)
	assert.Nil(t, tx.BetID)
	assert.Equal(t, "{}", tx.Data)
}

func TestNewTransactionRejectsEmptyType(t *testing.T) {
	_, err := NewTransaction("  ", nil, nil, map[string]string{})
	assert.ErrorIs(t, err, ErrEmptyTransactionType)
}

func TestNewTransactionRejectsUnserializablePayload(t *testing.T) {
	_, err := NewTransaction(TypeBetCreation, nil, nil, map[string]interface{}{"ch": make(chan int)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerialization))
}

func TestCanonicalJSON(t *testing.T) {
	type wager struct {
		Outcome string `json:"outcome"`
		Amount  int    `json:"amount"`
	}

	cases := []struct {
		name    string
		payload interface{}
		want    string
	}{
		{"nil", nil, `{}`},
		{"empty map", map[string]interface{}{}, `{}`},
		{"sorted keys", map[string]interface{}{"b": 1, "a": map[string]int{"z": 1, "y": 2}}, `{"a":{"y":2,"z":1},"b":1}`},
		{"struct sorted like a map", wager{Outcome: "yes", Amount: 3}, `{"amount":3,"outcome":"yes"}`},
		{"big integer kept exact", map[string]int64{"n": 9007199254740993}, `{"n":9007199254740993}`},
		{"list order kept", []string{"b", "a"}, `["b","a"]`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := CanonicalJSON(c.payload)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestDecodeDataRoundTrip(t *testing.T) {
	payload := map[string]interface{}{
		"title":    "Will it rain?",
		"outcomes": []interface{}{"yes", "no"},
		"migrated": true,
	}
	tx, err := NewTransaction(TypeBetCreation, ID(1), ID(9), payload)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, tx.DecodeData(&decoded))
	assert.Equal(t, payload, decoded)
}
