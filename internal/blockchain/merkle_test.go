package blockchain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wagerledger/internal/crypto"
)

func TestMerkleRootEmpty(t *testing.T) {
	assert.Equal(t, "0", MerkleRoot(nil))
	assert.Equal(t, "0", MerkleRootOf([]Transaction{}))
}

func TestMerkleRootSingleHashIsPairedWithItself(t *testing.T) {
	a := crypto.HashString("a")
	assert.Equal(t, crypto.HashPair(a, a), MerkleRoot([]string{a}))
}

func TestMerkleRootTwo(t *testing.T) {
	a, b := crypto.HashString("a"), crypto.HashString("b")
	assert.Equal(t, crypto.HashPair(a, b), MerkleRoot([]string{a, b}))
}

func TestMerkleRootDuplicatesOddLast(t *testing.T) {
	a, b, c := crypto.HashString("a"), crypto.HashString("b"), crypto.HashString("c")
	want := crypto.HashString(crypto.HashString(a+b) + crypto.HashString(c+c))
	assert.Equal(t, want, MerkleRoot([]string{a, b, c}))
}

func TestMerkleRootFiveLevels(t *testing.T) {
	h := []string{"1", "2", "3", "4", "5"}
	l1 := []string{crypto.HashPair("1", "2"), crypto.HashPair("3", "4"), crypto.HashPair("5", "5")}
	l2 := []string{crypto.HashPair(l1[0], l1[1]), crypto.HashPair(l1[2], l1[2])}
	assert.Equal(t, crypto.HashPair(l2[0], l2[1]), MerkleRoot(h))
}

func TestMerkleRootIsOrderSensitive(t *testing.T) {
	a, b := crypto.HashString("a"), crypto.HashString("b")
	assert.NotEqual(t, MerkleRoot([]string{a, b}), MerkleRoot([]string{b, a}))
}

func TestMerkleRootDoesNotMutateInput(t *testing.T) {
	in := []string{"x", "y", "z"}
	MerkleRoot(in)
	assert.Equal(t, []string{"x", "y", "z"}, in)
}
