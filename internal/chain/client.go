// Package chain reads transactions from an EVM JSON-RPC endpoint.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// Transaction is the subset of an on-chain transaction the deposit check needs.
type Transaction struct {
	Hash  string
	From  string
	To    string // empty for contract creation
	Value *big.Int
	// BlockNumber is nil while the transaction is pending.
	BlockNumber *big.Int
}

type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type Client struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

func NewClient(rpcURL string, timeout time.Duration) *Client {
	return &Client{
		url:        rpcURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// TransactionByHash returns nil, nil when the node does not know the hash.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	result, err := c.call(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, err
	}
	if !result.Exists() || result.Type == gjson.Null {
		return nil, nil
	}

	value, err := parseQuantity(result.Get("value").String())
	if err != nil {
		return nil, fmt.Errorf("parsing value: %w", err)
	}

	tx := &Transaction{
		Hash:  result.Get("hash").String(),
		From:  result.Get("from").String(),
		To:    result.Get("to").String(),
		Value: value,
	}
	if bn := result.Get("blockNumber"); bn.Exists() && bn.Type != gjson.Null {
		if tx.BlockNumber, err = parseQuantity(bn.String()); err != nil {
			return nil, fmt.Errorf("parsing block number: %w", err)
		}
	}
	return tx, nil
}

func (c *Client) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshaling %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%s: invalid JSON response", method)
	}

	parsed := gjson.ParseBytes(raw)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return gjson.Result{}, &RPCError{Code: rpcErr.Get("code").Int(), Message: rpcErr.Get("message").String()}
	}
	return parsed.Get("result"), nil
}

func parseQuantity(s string) (*big.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return nil, fmt.Errorf("empty quantity %q", s)
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return v, nil
}
