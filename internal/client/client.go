package client

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"wagerledger/internal/blockchain"
	"wagerledger/internal/network"
)

// Client talks to a running ledger node over its HTTP API.
type Client struct {
	http *resty.Client
}

// New creates a client for the node at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c}
}

// StatusError is returned when the node answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return "ledger node returned " + strconv.Itoa(e.Status) + ": " + strings.TrimSpace(e.Body)
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(result).Get(path)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	if resp.IsError() {
		return &StatusError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// Chain 获取节点的完整导出
func (c *Client) Chain(ctx context.Context) (*blockchain.ChainExport, error) {
	var export blockchain.ChainExport
	if err := c.get(ctx, "/chain", &export); err != nil {
		return nil, err
	}
	return &export, nil
}

func (c *Client) Validate(ctx context.Context) (*network.ValidationResponse, error) {
	var resp network.ValidationResponse
	if err := c.get(ctx, "/chain/validate", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Block(ctx context.Context, index int64) (*blockchain.ExportedBlock, error) {
	var block blockchain.ExportedBlock
	if err := c.get(ctx, "/blocks/"+strconv.FormatInt(index, 10), &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// AddTransaction submits one transaction and returns the block that sealed it.
func (c *Client) AddTransaction(ctx context.Context, req network.TransactionRequest) (*blockchain.ExportedBlock, error) {
	var block blockchain.ExportedBlock
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&block).
		Post("/transactions/new")
	if err != nil {
		return nil, errors.Wrap(err, "POST /transactions/new")
	}
	if resp.IsError() {
		return nil, &StatusError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return &block, nil
}
