package blockchain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"wagerledger/internal/crypto"
)

// 已知的交易类型; 类型集合是开放的, 引擎不校验具体取值
const (
	TypeUserRegistration    = "user_registration"
	TypeBetCreation         = "bet_creation"
	TypeBetPlacement        = "bet_placement"
	TypeBetResolution       = "bet_resolution"
	TypeBlockReward         = "block_reward"
	TypeServiceCreation     = "service_creation"
	TypeServicePurchase     = "service_purchase"
	TypeServiceCompletion   = "service_completion"
	TypeServiceCancellation = "service_cancellation"
)

// emptyPayload is what a nil or JSON-null payload serializes to.
const emptyPayload = "{}"

// Transaction 代表账本中的一条记录(注册/下注/结算/服务交易)
type Transaction struct {
	ID        int64   `json:"-"`
	Type      string  `json:"type"`
	UserID    *int64  `json:"user_id"`
	BetID     *int64  `json:"bet_id"`
	Data      string  `json:"data"` // canonical JSON of the payload
	Timestamp float64 `json:"timestamp"`
	Hash      string  `json:"hash"`
}

// NewTransaction 创建新交易, 时间戳取当前时间
func NewTransaction(txType string, userID, betID *int64, payload interface{}) (*Transaction, error) {
	return newTransaction(txType, userID, betID, payload, Timestamp(time.Now()))
}

func newTransaction(txType string, userID, betID *int64, payload interface{}, timestamp float64) (*Transaction, error) {
	if strings.TrimSpace(txType) == "" {
		return nil, ErrEmptyTransactionType
	}

	data, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Type:      txType,
		UserID:    copyID(userID),
		BetID:     copyID(betID),
		Data:      data,
		Timestamp: timestamp,
	}
	// the timestamp is final at this point; the hash is never recomputed afterwards
	tx.Hash = tx.CalculateHash()
	return tx, nil
}

// CalculateHash 计算交易的内容哈希
func (tx *Transaction) CalculateHash() string {
	var sb strings.Builder
	sb.WriteString(tx.Type)
	sb.WriteString(formatID(tx.UserID))
	sb.WriteString(formatID(tx.BetID))
	sb.WriteString(tx.Data)
	sb.WriteString(FormatTimestamp(tx.Timestamp))
	return crypto.HashString(sb.String())
}

// DecodeData unmarshals the stored payload into v.
func (tx *Transaction) DecodeData(v interface{}) error {
	if err := json.Unmarshal([]byte(tx.Data), v); err != nil {
		return errors.Wrap(err, "failed to decode transaction data")
	}
	return nil
}

// CanonicalJSON serializes a payload so that logically equal payloads always produce
// the same string: object keys are sorted at every depth and numbers keep their
// literal form.
func CanonicalJSON(payload interface{}) (string, error) {
	if payload == nil {
		return emptyPayload, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrapf(ErrSerialization, "%v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return "", errors.Wrapf(ErrSerialization, "%v", err)
	}
	if generic == nil {
		return emptyPayload, nil
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return "", errors.Wrapf(ErrSerialization, "%v", err)
	}
	return string(out), nil
}

// Timestamp 把时间转换为秒级浮点时间戳(微秒精度)
func Timestamp(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FormatTimestamp renders a timestamp the way it enters every hash input.
func FormatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

func formatID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// ID is a convenience for building optional user/bet ids.
func ID(v int64) *int64 {
	return &v
}
