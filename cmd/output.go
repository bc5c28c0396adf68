package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"wagerledger/internal/blockchain"
)

const shortHash = 16

func blockTable(blocks []blockchain.Block) [][]string {
	rows := [][]string{{"Index", "Time", "Hash", "Previous", "Nonce", "Txs", "Types"}}
	for _, b := range blocks {
		types := ""
		for i, tx := range b.Transactions {
			if i > 0 {
				types += ","
			}
			types += tx.Type
		}
		rows = append(rows, []string{
			strconv.FormatInt(b.Index, 10),
			formatTime(b.Timestamp),
			abbreviate(b.Hash),
			abbreviate(b.PrevHash),
			strconv.FormatInt(b.Nonce, 10),
			strconv.Itoa(len(b.Transactions)),
			types,
		})
	}
	return rows
}

func formatTime(ts float64) string {
	return time.UnixMicro(int64(ts * 1e6)).UTC().Format(time.RFC3339)
}

func abbreviate(hash string) string {
	if len(hash) <= shortHash {
		return hash
	}
	return hash[:shortHash] + "…"
}

type yamlExport struct {
	Valid      bool        `yaml:"valid"`
	Length     int         `yaml:"length"`
	Blockchain []yamlBlock `yaml:"blockchain"`
}

type yamlBlock struct {
	Index        int64             `yaml:"index"`
	Timestamp    string            `yaml:"timestamp"`
	PreviousHash string            `yaml:"previous_hash"`
	Hash         string            `yaml:"hash"`
	Nonce        int64             `yaml:"nonce"`
	MerkleRoot   string            `yaml:"merkle_root"`
	Transactions []yamlTransaction `yaml:"transactions"`
}

type yamlTransaction struct {
	Hash      string      `yaml:"hash"`
	Type      string      `yaml:"type"`
	UserID    *int64      `yaml:"user_id"`
	BetID     *int64      `yaml:"bet_id"`
	Data      interface{} `yaml:"data"`
	Timestamp string      `yaml:"timestamp"`
}

// toYAML reshapes an export for yaml.v2. Timestamps are kept as their exact hash
// input strings so the YAML view can be checked by hand.
func toYAML(e *blockchain.ChainExport) (*yamlExport, error) {
	out := &yamlExport{Valid: e.Valid, Length: e.Length, Blockchain: make([]yamlBlock, len(e.Blockchain))}
	for i, b := range e.Blockchain {
		yb := yamlBlock{
			Index:        b.Index,
			Timestamp:    blockchain.FormatTimestamp(b.Timestamp),
			PreviousHash: b.PreviousHash,
			Hash:         b.Hash,
			Nonce:        b.Nonce,
			MerkleRoot:   b.MerkleRoot,
			Transactions: make([]yamlTransaction, len(b.Transactions)),
		}
		for j, tx := range b.Transactions {
			data, err := decodeForYAML(tx.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "block %d transaction %d", b.Index, j)
			}
			yb.Transactions[j] = yamlTransaction{
				Hash:      tx.Hash,
				Type:      tx.Type,
				UserID:    tx.UserID,
				BetID:     tx.BetID,
				Data:      data,
				Timestamp: blockchain.FormatTimestamp(tx.Timestamp),
			}
		}
		out.Blockchain[i] = yb
	}
	return out, nil
}

func decodeForYAML(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return plainNumbers(v), nil
}

// plainNumbers turns json.Number into int64 or float64 so yaml.v2 does not quote them.
func plainNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = plainNumbers(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = plainNumbers(val)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func printYAML(w io.Writer, e *blockchain.ChainExport) error {
	doc, err := toYAML(e)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to encode yaml")
	}
	_, err = w.Write(out)
	return err
}
