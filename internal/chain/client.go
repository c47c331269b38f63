// Package chain talks to the settlement gateway over HTTP JSON-RPC. It
// implements the router, position manager, pool oracle, token transfer and
// block height collaborators the engine needs.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"databurn/internal/domain"
	"databurn/internal/orchestrator"
	"databurn/internal/swapexec"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client is an HTTP JSON-RPC 2.0 gateway client.
type Client struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// Compile-time interface checks.
var (
	_ swapexec.SwapRouter           = (*Client)(nil)
	_ swapexec.LiquidityManager     = (*Client)(nil)
	_ swapexec.PoolOracle           = (*Client)(nil)
	_ orchestrator.TokenTransferrer = (*Client)(nil)
	_ orchestrator.BlockSource      = (*Client)(nil)
)

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new gateway client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteSwap swaps amountIn of tokenIn for tokenOut, failing if the output
// would be below minAmountOut. Swaps are NOT retried: a timed-out swap may
// have landed, and replaying it would double-spend. The caller compensates
// via rollover instead.
func (c *Client) ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	var result struct {
		AmountOut string `json:"amount_out"`
	}
	params := map[string]interface{}{
		"token_in":       tokenIn,
		"token_out":      tokenOut,
		"amount_in":      amountIn.String(),
		"min_amount_out": minAmountOut.String(),
	}
	if err := c.callOnce(ctx, "dex_executeSwap", params, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.AmountOut, "amount_out")
}

// IncreaseLiquidity adds both desired amounts to the position and reports
// the liquidity delta plus the amounts actually consumed. Like swaps, adds
// are not retried.
func (c *Client) IncreaseLiquidity(ctx context.Context, positionID int64, amount0Desired, amount1Desired *big.Int) (*big.Int, *big.Int, *big.Int, error) {
	var result struct {
		Liquidity   string `json:"liquidity"`
		Amount0Used string `json:"amount0_used"`
		Amount1Used string `json:"amount1_used"`
	}
	params := map[string]interface{}{
		"position_id":     positionID,
		"amount0_desired": amount0Desired.String(),
		"amount1_desired": amount1Desired.String(),
	}
	if err := c.callOnce(ctx, "dex_increaseLiquidity", params, &result); err != nil {
		return nil, nil, nil, err
	}

	liquidity, err := parseAmount(result.Liquidity, "liquidity")
	if err != nil {
		return nil, nil, nil, err
	}
	amount0Used, err := parseAmount(result.Amount0Used, "amount0_used")
	if err != nil {
		return nil, nil, nil, err
	}
	amount1Used, err := parseAmount(result.Amount1Used, "amount1_used")
	if err != nil {
		return nil, nil, nil, err
	}
	return liquidity, amount0Used, amount1Used, nil
}

// GetPoolSnapshot reads the pool's current sqrt price and active liquidity.
// Reads are retried.
func (c *Client) GetPoolSnapshot(ctx context.Context, tokenA, tokenB string, fee uint32) (*domain.PoolSnapshot, error) {
	var result struct {
		SqrtPriceX96 string `json:"sqrt_price_x96"`
		Liquidity    string `json:"liquidity"`
	}
	params := map[string]interface{}{
		"token_a": tokenA,
		"token_b": tokenB,
		"fee":     fee,
	}
	if err := c.call(ctx, "dex_getPoolState", params, &result); err != nil {
		return nil, err
	}

	sqrtPrice, err := parseAmount(result.SqrtPriceX96, "sqrt_price_x96")
	if err != nil {
		return nil, err
	}
	liquidity, err := parseAmount(result.Liquidity, "liquidity")
	if err != nil {
		return nil, err
	}
	return &domain.PoolSnapshot{SqrtPriceX96: sqrtPrice, Liquidity: liquidity}, nil
}

// Transfer moves amount of token to the given address. Not retried.
func (c *Client) Transfer(ctx context.Context, token, to string, amount *big.Int) error {
	params := map[string]interface{}{
		"token":  token,
		"to":     to,
		"amount": amount.String(),
	}
	var result struct {
		TxID string `json:"tx_id"`
	}
	return c.callOnce(ctx, "token_transfer", params, &result)
}

// CurrentBlock returns the current block height. Retried.
func (c *Client) CurrentBlock(ctx context.Context) (int64, error) {
	var result struct {
		Block int64 `json:"block"`
	}
	if err := c.call(ctx, "chain_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return result.Block, nil
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.callOnce(ctx, method, params, result); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("%s failed after %d attempts: %w", method, c.maxRetries+1, lastErr)
}

// callOnce performs a single JSON-RPC call with no retry.
func (c *Client) callOnce(ctx context.Context, method string, params, result interface{}) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d: %s", resp.StatusCode, respBody)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

func parseAmount(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s %q", field, s)
	}
	return v, nil
}
