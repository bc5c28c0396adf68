package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash 计算数据的 SHA-256 哈希值, 返回小写十六进制字符串
func Hash(data []byte) string {
	hash := sha256.New()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

// HashString is Hash over the UTF-8 bytes of s.
func HashString(s string) string {
	return Hash([]byte(s))
}

// HashPair hashes the concatenation left||right of two hex digests.
func HashPair(left, right string) string {
	return HashString(left + right)
}
