// Package chain talks to Neo N3 nodes over JSON-RPC: read-only contract
// invocations for medianizers and basket tokens, and signed invocations for
// rebalance proposals.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"

	"github.com/R3E-Network/basket_oracle/internal/httputil"
)

// Client provides Neo N3 RPC client functionality.
type Client struct {
	rpcURL     string
	httpClient *http.Client

	mu      sync.RWMutex
	network netmode.Magic
}

// Config holds client configuration.
type Config struct {
	RPCURL string
	// NetworkID is the network magic. Zero means ask the node.
	NetworkID uint32
	Timeout   time.Duration
}

// NewClient creates a new Neo N3 client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL:     cfg.RPCURL,
		httpClient: &http.Client{Timeout: timeout},
		network:    netmode.Magic(cfg.NetworkID),
	}, nil
}

// Call makes an RPC call to the Neo N3 node.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
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
		return nil, fmt.Errorf("execute request: %w", err)
	}
	var rpcResp RPCResponse
	if err := httputil.DecodeResponse(resp, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// GetBlockCount returns the current block height.
func (c *Client) GetBlockCount(ctx context.Context) (uint32, error) {
	result, err := c.Call(ctx, "getblockcount")
	if err != nil {
		return 0, err
	}
	var count uint32
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, fmt.Errorf("unmarshal block count: %w", err)
	}
	return count, nil
}

// Network returns the network magic, querying getversion once when it was
// not configured.
func (c *Client) Network(ctx context.Context) (netmode.Magic, error) {
	c.mu.RLock()
	network := c.network
	c.mu.RUnlock()
	if network != 0 {
		return network, nil
	}

	result, err := c.Call(ctx, "getversion")
	if err != nil {
		return 0, err
	}
	var version struct {
		Protocol struct {
			Network uint32 `json:"network"`
		} `json:"protocol"`
	}
	if err := json.Unmarshal(result, &version); err != nil {
		return 0, fmt.Errorf("unmarshal version: %w", err)
	}

	c.mu.Lock()
	c.network = netmode.Magic(version.Protocol.Network)
	c.mu.Unlock()
	return netmode.Magic(version.Protocol.Network), nil
}

// GetApplicationLog returns the application log for a transaction.
func (c *Client) GetApplicationLog(ctx context.Context, txHash string) (*ApplicationLog, error) {
	result, err := c.Call(ctx, "getapplicationlog", txHash)
	if err != nil {
		return nil, err
	}
	var log ApplicationLog
	if err := json.Unmarshal(result, &log); err != nil {
		return nil, err
	}
	return &log, nil
}
