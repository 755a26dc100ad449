// Package rpcclient implements auction.ChainClient against a Soroban
// JSON-RPC endpoint.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client is a thin JSON-RPC 2.0 client for the chain's Soroban RPC
// surface (spec.md §6: getLatestLedger, getEvents, getLedgerEntries,
// simulateTransaction, sendTransaction, getTransaction).
type Client struct {
	baseURL string
	http    *http.Client
	nextID  atomic.Int64
}

// New constructs a Client against the given RPC base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// RPCError wraps a failing JSON-RPC response so callers can
// distinguish transient network failures from contract-level errors
// per spec.md §7's error taxonomy.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s failed: code=%d message=%s", e.Method, e.Code, e.Message)
}

// IsTransient reports whether the node's error message marks the
// failure as transient (it contains TRY_AGAIN_LATER or TIMEOUT) rather
// than a structural/contract error.
func (e *RPCError) IsTransient() bool {
	upper := strings.ToUpper(e.Message)
	return strings.Contains(upper, "TRY_AGAIN_LATER") || strings.Contains(upper, "TIMEOUT")
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	body := jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rpc %s: marshal request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("rpc %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rpc %s: status=%d body=%s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("rpc %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return &RPCError{Method: method, Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("rpc %s: empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

type getLatestLedgerResult struct {
	Sequence uint32 `json:"sequence"`
}

// GetLatestLedger returns the chain's current ledger sequence.
func (c *Client) GetLatestLedger(ctx context.Context) (uint32, error) {
	var result getLatestLedgerResult
	if err := c.call(ctx, "getLatestLedger", nil, &result); err != nil {
		return 0, err
	}
	return result.Sequence, nil
}

// GetEvents streams contract events starting at startLedger, subject
// to filters and paginated via cursor/limit.
func (c *Client) GetEvents(ctx context.Context, startLedger uint32, filters interface{}, cursor string, limit int) (interface{}, error) {
	params := map[string]interface{}{
		"startLedger": startLedger,
		"filters":     filters,
	}
	if cursor != "" {
		params["cursor"] = cursor
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var result interface{}
	if err := c.call(ctx, "getEvents", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetLedgerEntries reads ledger entries by key, used for direct
// contract-storage reads (reserve configuration, auction state).
func (c *Client) GetLedgerEntries(ctx context.Context, keys []string) (interface{}, error) {
	var result interface{}
	if err := c.call(ctx, "getLedgerEntries", map[string]interface{}{"keys": keys}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SimulateTransaction dry-runs a transaction for balance reads, LP
// valuation, and fee/resource estimation.
func (c *Client) SimulateTransaction(ctx context.Context, tx interface{}) (interface{}, error) {
	var result interface{}
	if err := c.call(ctx, "simulateTransaction", map[string]interface{}{"transaction": tx}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

type sendTransactionResult struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

// SendTransaction submits a signed transaction envelope.
func (c *Client) SendTransaction(ctx context.Context, tx interface{}) (string, string, error) {
	var result sendTransactionResult
	if err := c.call(ctx, "sendTransaction", map[string]interface{}{"transaction": tx}, &result); err != nil {
		return "", "", err
	}
	return result.Hash, result.Status, nil
}

type getTransactionResult struct {
	Ledger      uint32 `json:"ledger"`
	Status      string `json:"status"`
	ResultXDR   string `json:"resultXdr"`
	EnvelopeXDR string `json:"envelopeXdr"`
}

var ErrLedgerNotFound = errors.New("rpcclient: ledger not found")

// GetTransaction polls for the result of a previously submitted
// transaction. A "NOT_FOUND" status is surfaced as ErrLedgerNotFound
// so callers can treat it as the transient case spec.md §7 describes
// ("ledger-not-found during get-transaction").
func (c *Client) GetTransaction(ctx context.Context, hash string) (uint32, string, string, string, error) {
	var result getTransactionResult
	if err := c.call(ctx, "getTransaction", map[string]interface{}{"hash": hash}, &result); err != nil {
		return 0, "", "", "", err
	}
	if strings.EqualFold(result.Status, "NOT_FOUND") {
		return 0, result.Status, "", "", ErrLedgerNotFound
	}
	return result.Ledger, result.Status, result.ResultXDR, result.EnvelopeXDR, nil
}
