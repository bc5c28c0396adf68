package blockchain

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultDifficulty is the number of leading hex zeros required of a sealed block.
const DefaultDifficulty = 4

// MaxDifficulty is the length of a hex SHA-256 digest.
const MaxDifficulty = 64

// checkEvery is how many nonces are tried between cancellation/deadline checks.
const checkEvery = 4096

// SealLimit bounds the nonce search. Zero values mean unbounded.
type SealLimit struct {
	MaxNonce int64
	Timeout  time.Duration
}

// Mine 工作量证明: 递增 nonce 直到区块哈希以 difficulty 个 '0' 开头.
// Cancelling ctx abandons the whole block; exceeding limit returns ErrSealTimeout.
func (b *Block) Mine(ctx context.Context, difficulty int, limit SealLimit) error {
	if err := ValidateDifficulty(difficulty); err != nil {
		return err
	}

	var deadline time.Time
	if limit.Timeout > 0 {
		deadline = time.Now().Add(limit.Timeout)
	}

	prefix := b.headerPrefix()
	b.Hash = b.hashWithPrefix(prefix)
	for !MeetsDifficulty(b.Hash, difficulty) {
		if limit.MaxNonce > 0 && b.Nonce >= limit.MaxNonce {
			return errors.Wrapf(ErrSealTimeout, "no valid nonce up to %d", limit.MaxNonce)
		}
		b.Nonce++
		if b.Nonce%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return errors.Wrapf(ErrSealTimeout, "gave up after %s at nonce %d", limit.Timeout, b.Nonce)
			}
		}
		b.Hash = b.hashWithPrefix(prefix)
	}
	return nil
}

// MeetsDifficulty 检查哈希是否以 difficulty 个 '0' 开头
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty > len(hash) {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

func ValidateDifficulty(difficulty int) error {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return errors.Wrapf(ErrInvalidDifficulty, "got %d", difficulty)
	}
	return nil
}
