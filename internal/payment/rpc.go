package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrTxNotFound is returned when the ledger node does not know the transaction.
var ErrTxNotFound = errors.New("tx not found")

// TxFetcher looks up a transaction by hash.
type TxFetcher interface {
	FetchTx(ctx context.Context, hash string) (*Tx, error)
}

// Tx is the subset of an XRPL transaction the gate inspects.
type Tx struct {
	Hash            string          `json:"hash"`
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Amount          json.RawMessage `json:"Amount,omitempty"`
	DeliverMax      json.RawMessage `json:"DeliverMax,omitempty"`
	Memos           []MemoWrapper   `json:"Memos,omitempty"`
	Validated       bool            `json:"validated"`
}

type MemoWrapper struct {
	Memo Memo `json:"Memo"`
}

type Memo struct {
	MemoType   string `json:"MemoType,omitempty"`
	MemoFormat string `json:"MemoFormat,omitempty"`
	MemoData   string `json:"MemoData,omitempty"`
}

type rpcRequest struct {
	ID     int64         `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
}

// txResult carries both the v1 shape, where fields sit at the top level, and the
// v2 shape, where they sit under tx_json.
type txResult struct {
	Tx
	TxJSON       *Tx    `json:"tx_json,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// RPCError is an error status returned by the node.
type RPCError struct {
	Code    int
	Name    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Name
}

// Client is a JSON-RPC client for an XRPL node.
type Client struct {
	httpClient *http.Client
	rpcURL     string
	requestID  atomic.Int64
	logger     *slog.Logger
	limiter    *rate.Limiter
}

func NewClient(rpcURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rpcURL: rpcURL,
		logger: logger,
	}
}

// SetRateLimiter bounds outgoing calls to rps with the given burst.
func (c *Client) SetRateLimiter(rps float64, burst int) {
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(rpcRequest{
		ID:     c.requestID.Add(1),
		Method: method,
		Params: params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return rpcResp.Result, nil
}

// FetchTx calls the tx method. An unknown hash yields ErrTxNotFound.
func (c *Client) FetchTx(ctx context.Context, hash string) (*Tx, error) {
	raw, err := c.call(ctx, "tx", []interface{}{
		map[string]interface{}{
			"transaction": hash,
			"binary":      false,
		},
	})
	if err != nil {
		return nil, err
	}

	var res txResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}

	if res.Status == "error" || res.Error != "" {
		if res.Error == "txnNotFound" {
			return nil, ErrTxNotFound
		}
		return nil, &RPCError{Code: res.ErrorCode, Name: res.Error, Message: res.ErrorMessage}
	}

	tx := res.Tx
	if res.TxJSON != nil {
		tx = *res.TxJSON
		tx.Validated = res.Validated
		if tx.Hash == "" {
			tx.Hash = res.Hash
		}
	}
	c.logger.Debug("Fetched transaction",
		slog.String("hash", hash),
		slog.Bool("validated", tx.Validated),
	)
	return &tx, nil
}
