// Package solanarpc is a minimal JSON-RPC client used by the recovery
// subsystem to backfill gaps the live stream misses. It is intentionally
// thin: a JSON-RPC HTTP wrapper standing in for a full validator client,
// the same shape as the teacher's blockchain.SolanaClient.
package solanarpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client makes JSON-RPC calls against a Solana RPC endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New builds a Client against the given RPC endpoint.
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (*rpcResponse, error) {
	req := rpcRequest{Jsonrpc: "2.0", ID: 1, Method: method, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error: %s (code %d)", rpcResp.Error.Message, rpcResp.Error.Code)
	}

	return &rpcResp, nil
}

// GetSlot returns the current highest confirmed slot. The recovery subsystem
// does not call it; its gap windows come from the stream's last observed slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	resp, err := c.call(ctx, "getSlot", []interface{}{
		map[string]string{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, err
	}

	var slot uint64
	if err := json.Unmarshal(resp.Result, &slot); err != nil {
		return 0, fmt.Errorf("parse slot: %w", err)
	}
	return slot, nil
}

// SignatureInfo is one entry from getSignaturesForAddress, used to enumerate
// the transactions that fall inside a detected gap.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Err       interface{} `json:"err"`
}

// GetSignaturesForAddress lists signatures involving an account (typically a
// program ID) up to limit, optionally before a given signature (for paging
// backwards through history during gap replay).
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int, before string) ([]SignatureInfo, error) {
	opts := map[string]interface{}{
		"limit":      limit,
		"commitment": "confirmed",
	}
	if before != "" {
		opts["before"] = before
	}

	resp, err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, opts})
	if err != nil {
		return nil, err
	}

	var sigs []SignatureInfo
	if err := json.Unmarshal(resp.Result, &sigs); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	return sigs, nil
}

// RawTransaction is the minimal subset of getTransaction's response the wire
// decoder needs: the slot, block time, and the raw instruction/log payload.
type RawTransaction struct {
	Slot      uint64          `json:"slot"`
	BlockTime *int64          `json:"blockTime"`
	Meta      json.RawMessage `json:"meta"`
	Tx        json.RawMessage `json:"transaction"`
}

// GetTransaction fetches one transaction by signature for gap replay.
// A nil result (transaction not yet finalized, or pruned) is reported via
// the bool return rather than an error, mirroring the teacher's
// GetTransactionStatus not-found handling.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*RawTransaction, bool, error) {
	resp, err := c.call(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, false, err
	}

	if resp.Result == nil || string(resp.Result) == "null" {
		return nil, false, nil
	}

	var tx RawTransaction
	if err := json.Unmarshal(resp.Result, &tx); err != nil {
		return nil, false, fmt.Errorf("parse transaction: %w", err)
	}
	return &tx, true, nil
}
